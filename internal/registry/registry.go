package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/specialistvlad/ortrain/internal/pipeline"
)

// Module is the interface that every pipeline package implements to be
// registered.
type Module interface {
	Register(r *Registry) error
}

// Entry is one registered pipeline and where it came from.
type Entry struct {
	Pipeline  pipeline.Pipeline
	Namespace string
	Module    string
}

// Registry holds the pipelines registered for a single application instance.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	logger  *slog.Logger

	namespace string
	module    string
}

// New creates an empty Registry. A nil logger uses slog.Default.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: make(map[string]Entry),
		logger:  logger,
	}
}

// Register adds a pipeline under its type name. A pipeline without a type
// name is rejected with pipeline.ErrNoTypeName. Registering a name twice
// replaces the earlier pipeline.
func (r *Registry) Register(p pipeline.Pipeline) error {
	name, err := pipeline.TypeNameOf(p)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.putLocked(name, Entry{Pipeline: p, Namespace: r.namespace, Module: r.module})
	return nil
}

func (r *Registry) putLocked(name string, e Entry) {
	if prev, exists := r.entries[name]; exists {
		r.logger.Warn("Pipeline type registered twice, the later registration wins.",
			"type", name,
			"previous", fmt.Sprintf("%T", prev.Pipeline), "previous_module", prev.Module,
			"replacement", fmt.Sprintf("%T", e.Pipeline), "replacement_module", e.Module)
	} else {
		r.logger.Debug("Registering pipeline.", "type", name, "module", e.Module, "namespace", e.Namespace)
	}
	r.entries[name] = e
}

// merge copies every entry of other into r, in other's name order.
func (r *Registry) merge(other *Registry) {
	other.mu.RLock()
	names := other.namesLocked()
	entries := make([]Entry, len(names))
	for i, n := range names {
		entries[i] = other.entries[n]
	}
	other.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, n := range names {
		r.putLocked(n, entries[i])
	}
}

// Lookup returns the pipeline registered under name.
func (r *Registry) Lookup(name string) (pipeline.Pipeline, error) {
	e, err := r.Entry(name)
	if err != nil {
		return nil, err
	}
	return e.Pipeline, nil
}

// Entry returns the registration entry for name.
func (r *Registry) Entry(name string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return Entry{}, &UnknownPipelineTypeError{Name: name, Known: r.namesLocked()}
	}
	return e, nil
}

// Names returns the registered type names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered pipelines.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Snapshot returns a copy of the name to pipeline mapping.
func (r *Registry) Snapshot() map[string]pipeline.Pipeline {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]pipeline.Pipeline, len(r.entries))
	for n, e := range r.entries {
		out[n] = e.Pipeline
	}
	return out
}
