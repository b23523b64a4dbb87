package config

import (
	"bytes"
	"os"
	"text/template"
)

// ExpandEnv expands environment variables in YAML content using Go
// templates. Uses {{.VAR_NAME}} syntax to avoid collision with $ in shell
// commands, which pipeline and server configuration are full of.
//
// Literal $ characters pass through untouched:
//   - step commands: echo $HOME, ${PATH##*:}
//   - cache key templates: deps-{{ hashFiles('go.sum') }} (single braces
//     around hashFiles are not template syntax and survive expansion)
//
// Examples:
//   - {{.KILN_WORKSPACE_ROOT}} → value of KILN_WORKSPACE_ROOT
//   - {{.CACHE_HOST}}:{{.CACHE_PORT}} → hostname:port with both expanded
//
// Missing variables expand to empty string (unless the template is
// malformed). Validation catches required fields that end up empty.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		// If template parsing fails, return original data
		// This allows YAML without any template syntax to pass through
		return data
	}

	// Build environment map for template
	envMap := make(map[string]string)
	for _, env := range os.Environ() {
		// Split only on first = to handle values with = in them
		if idx := bytes.IndexByte([]byte(env), '='); idx > 0 {
			key := env[:idx]
			value := env[idx+1:]
			envMap[key] = value
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, envMap); err != nil {
		// If execution fails, return original data
		return data
	}

	return buf.Bytes()
}
