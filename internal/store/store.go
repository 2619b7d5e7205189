// Package store defines the records read and written by training runs and
// the interfaces a database backend must satisfy.
//
// Backends live in sub-packages (memory, couch, postgres) and are selected
// by URL scheme through the database package.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Params addresses a database.
type Params struct {
	// URL selects the backend by scheme (memory, http(s), postgres).
	URL string `json:"url"`
	// Type is informational, e.g. "CouchDB".
	Type string `json:"type,omitempty"`
	// Name is the database (or schema) name within the server.
	Name string `json:"name,omitempty"`
}

// DefaultName is used when Params.Name is empty.
const DefaultName = "object_recognition"

// DatabaseName returns Name or DefaultName.
func (p Params) DatabaseName() string {
	if p.Name == "" {
		return DefaultName
	}
	return p.Name
}

// Observation is one recorded capture of an object. It is immutable once
// read from storage.
type Observation struct {
	ID          string     `json:"id"`
	ObjectID    string     `json:"object_id"`
	SessionID   string     `json:"session_id"`
	FrameNumber int        `json:"frame_number"`
	Image       *Image     `json:"-"`
	Mask        *Image     `json:"-"`
	Depth       *Image     `json:"-"`
	K           [9]float64 `json:"K"`
	R           [9]float64 `json:"R"`
	T           [3]float64 `json:"T"`
}

// ObservationRef identifies an observation without loading its payload.
type ObservationRef struct {
	ID          string `json:"id"`
	SessionID   string `json:"session_id"`
	FrameNumber int    `json:"frame_number"`
}

// Model is a trained model document, one per (object, pipeline) run.
type Model struct {
	ID         string          `json:"id"`
	ObjectID   string          `json:"object_id"`
	SessionIDs []string        `json:"session_ids"`
	ModelType  string          `json:"model_type"`
	Parameters json.RawMessage `json:"parameters"`
	Document   json.RawMessage `json:"document"`
	RunID      string          `json:"run_id,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ObservationReader reads observations by id.
type ObservationReader interface {
	ReadObservation(ctx context.Context, id string) (*Observation, error)
}

// ObservationWriter stores observations. It is used to seed databases.
type ObservationWriter interface {
	WriteObservation(ctx context.Context, obs *Observation) error
}

// ModelWriter persists model documents. It returns the stored model's id.
type ModelWriter interface {
	WriteModel(ctx context.Context, m *Model) (string, error)
}

// ModelReader reads model documents.
type ModelReader interface {
	ReadModel(ctx context.Context, id string) (*Model, error)
	ListModels(ctx context.Context, objectID string) ([]*Model, error)
}

// Catalog lists the observations recorded for an object, ordered by
// session, then frame number, then id.
type Catalog interface {
	ListObservations(ctx context.Context, objectID string) ([]ObservationRef, error)
}

// Store is a complete backend. Implementations are safe for concurrent use.
type Store interface {
	ObservationReader
	ObservationWriter
	ModelWriter
	ModelReader
	Catalog

	// Init prepares the database (creates it, or its tables) if needed.
	Init(ctx context.Context) error
	Close() error
}

// SessionIDs returns the distinct session ids of refs in first-seen order.
func SessionIDs(refs []ObservationRef) []string {
	seen := make(map[string]struct{}, len(refs))
	var ids []string
	for _, r := range refs {
		if _, ok := seen[r.SessionID]; ok {
			continue
		}
		seen[r.SessionID] = struct{}{}
		ids = append(ids, r.SessionID)
	}
	return ids
}

// ObservationIDs returns the ids of refs in order.
func ObservationIDs(refs []ObservationRef) []string {
	ids := make([]string, len(refs))
	for i, r := range refs {
		ids[i] = r.ID
	}
	return ids
}

// SortRefs orders refs by session, frame number, then id.
func SortRefs(refs []ObservationRef) {
	sort.SliceStable(refs, func(i, j int) bool {
		a, b := refs[i], refs[j]
		if a.SessionID != b.SessionID {
			return a.SessionID < b.SessionID
		}
		if a.FrameNumber != b.FrameNumber {
			return a.FrameNumber < b.FrameNumber
		}
		return a.ID < b.ID
	})
}
