// Package secrets resolves the secret material injected into build
// environments. The store is a collaborator interface so deployments can
// plug a real secret manager; the values it returns also feed the output
// masker.
package secrets

import "context"

// Store resolves the secrets a build may use, scoped by org and job.
type Store interface {
	SecretsForBuild(ctx context.Context, org, job string) (map[string]string, error)
}

// Static is a fixed in-memory secret set, the same for every build. Used
// for tests and single-tenant deployments.
type Static map[string]string

var _ Store = Static{}

// SecretsForBuild returns a copy of the static set.
func (s Static) SecretsForBuild(_ context.Context, _, _ string) (map[string]string, error) {
	out := make(map[string]string, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out, nil
}

// Values extracts just the secret values, for building a masker.
func Values(secrets map[string]string) []string {
	out := make([]string, 0, len(secrets))
	for _, v := range secrets {
		out = append(out, v)
	}
	return out
}
