// Package masking replaces secret values in captured output before it is
// persisted or published. Masking is value-based: every literal occurrence
// of a known secret becomes the redaction marker. It runs inside the
// process executor, so nothing downstream ever sees a raw secret.
package masking

import (
	"sort"
	"strings"
)

// Redacted is what a masked secret value is replaced with.
const Redacted = "***"

// MinSecretLength is the shortest value worth masking. Masking shorter
// values would shred ordinary output (single letters, "ok", exit codes)
// without hiding anything meaningful.
const MinSecretLength = 4

// Masker rewrites text, hiding whatever it considers sensitive.
type Masker interface {
	Mask(s string) string
}

// ValueMasker masks literal occurrences of a fixed set of secret values.
// Longer values are masked first so a secret that contains another secret
// as a substring is redacted as a whole.
type ValueMasker struct {
	values   []string
	replacer *strings.Replacer
}

var _ Masker = (*ValueMasker)(nil)

// NewValueMasker builds a masker for the given secret values. Values
// shorter than MinSecretLength are ignored.
func NewValueMasker(values []string) *ValueMasker {
	kept := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if len(v) < MinSecretLength {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		kept = append(kept, v)
	}
	sort.Slice(kept, func(i, j int) bool {
		if len(kept[i]) != len(kept[j]) {
			return len(kept[i]) > len(kept[j])
		}
		return kept[i] < kept[j]
	})

	m := &ValueMasker{values: kept}
	if len(kept) > 0 {
		pairs := make([]string, 0, len(kept)*2)
		for _, v := range kept {
			pairs = append(pairs, v, Redacted)
		}
		m.replacer = strings.NewReplacer(pairs...)
	}
	return m
}

// Mask replaces every occurrence of a known secret value with the
// redaction marker.
func (m *ValueMasker) Mask(s string) string {
	if m == nil || m.replacer == nil || s == "" {
		return s
	}
	return m.replacer.Replace(s)
}

// Values returns the values the masker hides, longest first.
func (m *ValueMasker) Values() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.values))
	copy(out, m.values)
	return out
}
