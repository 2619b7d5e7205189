// Package memory is an in-process store backend addressed as memory://name.
// Stores with the same name share data for the lifetime of the process.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/specialistvlad/ortrain/internal/store"
)

var (
	sharedMu sync.Mutex
	shared   = map[string]*Store{}
)

// Open returns the shared store registered under name, creating it if needed.
func Open(name string) *Store {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	if s, ok := shared[name]; ok {
		return s
	}
	s := New()
	shared[name] = s
	return s
}

// Store keeps observations and models in maps.
type Store struct {
	mu           sync.RWMutex
	observations map[string]*store.Observation
	models       map[string]*store.Model
	modelOrder   []string
	now          func() time.Time
}

var _ store.Store = (*Store)(nil)

// New returns an empty, private store.
func New() *Store {
	return &Store{
		observations: make(map[string]*store.Observation),
		models:       make(map[string]*store.Model),
		now:          time.Now,
	}
}

func (s *Store) Init(ctx context.Context) error { return nil }
func (s *Store) Close() error                   { return nil }

func (s *Store) WriteObservation(ctx context.Context, obs *store.Observation) error {
	if obs == nil || obs.ID == "" {
		return fmt.Errorf("observation must have an id")
	}
	cp := *obs
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observations[obs.ID] = &cp
	return nil
}

func (s *Store) ReadObservation(ctx context.Context, id string) (*store.Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	obs, ok := s.observations[id]
	if !ok {
		return nil, fmt.Errorf("observation %s: %w", id, store.ErrNotFound)
	}
	cp := *obs
	return &cp, nil
}

func (s *Store) ListObservations(ctx context.Context, objectID string) ([]store.ObservationRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var refs []store.ObservationRef
	for _, obs := range s.observations {
		if obs.ObjectID != objectID {
			continue
		}
		refs = append(refs, store.ObservationRef{ID: obs.ID, SessionID: obs.SessionID, FrameNumber: obs.FrameNumber})
	}
	store.SortRefs(refs)
	return refs, nil
}

func (s *Store) WriteModel(ctx context.Context, m *store.Model) (string, error) {
	if m == nil {
		return "", fmt.Errorf("model is nil")
	}
	cp := *m
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.models[cp.ID]; !exists {
		s.modelOrder = append(s.modelOrder, cp.ID)
	}
	s.models[cp.ID] = &cp
	return cp.ID, nil
}

func (s *Store) ReadModel(ctx context.Context, id string) (*store.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.models[id]
	if !ok {
		return nil, fmt.Errorf("model %s: %w", id, store.ErrNotFound)
	}
	cp := *m
	return &cp, nil
}

// ListModels returns the models of an object in write order. An empty
// objectID lists every model.
func (s *Store) ListModels(ctx context.Context, objectID string) ([]*store.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*store.Model
	for _, id := range s.modelOrder {
		m := s.models[id]
		if objectID != "" && m.ObjectID != objectID {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

// ObjectIDs returns the distinct object ids with at least one observation.
func (s *Store) ObjectIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := map[string]struct{}{}
	for _, obs := range s.observations {
		seen[obs.ObjectID] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
