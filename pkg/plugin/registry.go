package plugin

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kiln-ci/kiln/pkg/models"
)

// ErrNotRegistered is returned when a lookup finds no plugin for the
// requested kind, provider, or extension.
var ErrNotRegistered = fmt.Errorf("plugin not registered")

// Registry holds every registered plugin, keyed the way each plugin type
// is dispatched. Registration normally happens during wiring, before the
// core starts; lookups are safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	steps     map[models.StepKind]StepExecutor
	notifiers map[string]Notifier
	reporters map[string]StatusReporter
	formats   map[string]PipelineFormat
}

// NewRegistry creates an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		steps:     make(map[models.StepKind]StepExecutor),
		notifiers: make(map[string]Notifier),
		reporters: make(map[string]StatusReporter),
		formats:   make(map[string]PipelineFormat),
	}
}

// RegisterStepExecutor adds a step executor. Registering the same kind
// twice is a wiring bug and fails.
func (r *Registry) RegisterStepExecutor(e StepExecutor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	kind := e.Kind()
	if !kind.IsValid() {
		return fmt.Errorf("step executor has invalid kind %q", kind)
	}
	if _, ok := r.steps[kind]; ok {
		return fmt.Errorf("step executor for kind %q already registered", kind)
	}
	r.steps[kind] = e
	return nil
}

// StepExecutor returns the executor for a step kind.
func (r *Registry) StepExecutor(kind models.StepKind) (StepExecutor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.steps[kind]
	if !ok {
		return nil, fmt.Errorf("step executor for kind %q: %w", kind, ErrNotRegistered)
	}
	return e, nil
}

// RegisterNotifier adds a notifier for one target kind.
func (r *Registry) RegisterNotifier(n Notifier) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	kind := strings.TrimSpace(n.Kind())
	if kind == "" {
		return fmt.Errorf("notifier has empty kind")
	}
	if _, ok := r.notifiers[kind]; ok {
		return fmt.Errorf("notifier for kind %q already registered", kind)
	}
	r.notifiers[kind] = n
	return nil
}

// Notifier returns the notifier for a target kind.
func (r *Registry) Notifier(kind string) (Notifier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.notifiers[kind]
	if !ok {
		return nil, fmt.Errorf("notifier for kind %q: %w", kind, ErrNotRegistered)
	}
	return n, nil
}

// RegisterStatusReporter adds a status reporter for one SCM provider.
func (r *Registry) RegisterStatusReporter(s StatusReporter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	provider := strings.TrimSpace(s.Provider())
	if provider == "" {
		return fmt.Errorf("status reporter has empty provider")
	}
	if _, ok := r.reporters[provider]; ok {
		return fmt.Errorf("status reporter for provider %q already registered", provider)
	}
	r.reporters[provider] = s
	return nil
}

// StatusReporter returns the reporter for an SCM provider.
func (r *Registry) StatusReporter(provider string) (StatusReporter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.reporters[provider]
	if !ok {
		return nil, fmt.Errorf("status reporter for provider %q: %w", provider, ErrNotRegistered)
	}
	return s, nil
}

// RegisterPipelineFormat adds a pipeline-as-code format. Every extension
// the format claims must be unclaimed; extensions are matched verbatim,
// including the leading dot.
func (r *Registry) RegisterPipelineFormat(f PipelineFormat) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	exts := f.Extensions()
	if len(exts) == 0 {
		return fmt.Errorf("pipeline format claims no extensions")
	}
	for _, ext := range exts {
		if ext == "" || !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("pipeline format extension %q must start with a dot", ext)
		}
		if _, ok := r.formats[ext]; ok {
			return fmt.Errorf("pipeline format for extension %q already registered", ext)
		}
	}
	for _, ext := range exts {
		r.formats[ext] = f
	}
	return nil
}

// PipelineFormat returns the format registered for a file extension.
func (r *Registry) PipelineFormat(ext string) (PipelineFormat, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.formats[ext]
	if !ok {
		return nil, fmt.Errorf("pipeline format for extension %q: %w", ext, ErrNotRegistered)
	}
	return f, nil
}

// FormatExtensions lists every registered pipeline file extension, sorted.
func (r *Registry) FormatExtensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exts := make([]string, 0, len(r.formats))
	for ext := range r.formats {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}
