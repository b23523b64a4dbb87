package cache

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/kiln-ci/kiln/pkg/logctx"
)

// copyPath copies one file, directory tree, or symlink and returns the
// copied byte count.
func copyPath(ctx context.Context, src, dst string) (int64, error) {
	info, err := os.Lstat(src)
	if err != nil {
		return 0, err
	}

	switch {
	case info.IsDir():
		return copyTree(ctx, src, dst)
	case info.Mode()&os.ModeSymlink != 0:
		return 0, copySymlink(ctx, src, dst, ".")
	default:
		return copyFile(src, dst, info)
	}
}

// copyTree mirrors srcRoot under dstRoot. Symlinks are copied as symlinks;
// links whose target would escape the copied tree are skipped, so a cache
// snapshot can never plant a link out of a later workspace.
func copyTree(ctx context.Context, srcRoot, dstRoot string) (int64, error) {
	var total int64
	err := filepath.WalkDir(srcRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcRoot, path)
		if err != nil {
			return err
		}
		dst := filepath.Join(dstRoot, rel)

		switch {
		case d.IsDir():
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(dst, info.Mode().Perm())
		case d.Type()&fs.ModeSymlink != 0:
			return copySymlink(ctx, path, dst, filepath.Dir(rel))
		default:
			info, err := d.Info()
			if err != nil {
				return err
			}
			n, err := copyFile(path, dst, info)
			total += n
			return err
		}
	})
	return total, err
}

// copySymlink recreates a symlink. relDir is the link's directory relative
// to the tree root, used to decide whether the target stays inside.
func copySymlink(ctx context.Context, src, dst, relDir string) error {
	target, err := os.Readlink(src)
	if err != nil {
		return err
	}
	if !safeLinkTarget(relDir, target) {
		logctx.From(ctx).Warn("Skipping symlink that escapes the tree",
			"link", src,
			"target", target)
		return nil
	}
	_ = os.Remove(dst)
	return os.Symlink(target, dst)
}

// safeLinkTarget accepts only relative targets that resolve inside the
// tree the link lives in.
func safeLinkTarget(relDir, target string) bool {
	if filepath.IsAbs(target) {
		return false
	}
	return filepath.IsLocal(filepath.Join(relDir, target))
}

func copyFile(src, dst string, info fs.FileInfo) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return n, err
}
