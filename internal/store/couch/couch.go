// Package couch stores observations and models in CouchDB through its REST
// API. Observation payloads (image, mask, depth) are document attachments.
package couch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/specialistvlad/ortrain/internal/ctxlog"
	"github.com/specialistvlad/ortrain/internal/store"
)

const (
	docTypeObservation = "Observation"
	docTypeModel       = "Model"
	// findLimit bounds a single Mango query; CouchDB defaults to 25.
	findLimit = 100000
)

// Store is a CouchDB-backed store.
type Store struct {
	client *http.Client
	base   string
	db     string
	now    func() time.Time
}

var _ store.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Store) { s.client = c }
}

// New returns a store for database name on the server at rawURL.
func New(rawURL, name string, opts ...Option) (*Store, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid CouchDB URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid CouchDB URL scheme %q", u.Scheme)
	}
	if name == "" {
		name = store.DefaultName
	}
	s := &Store{
		client: &http.Client{Timeout: 30 * time.Second},
		base:   strings.TrimRight(u.String(), "/"),
		db:     name,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type imageMeta struct {
	Width          int `json:"width"`
	Height         int `json:"height"`
	Channels       int `json:"channels"`
	BytesPerSample int `json:"bytes_per_sample"`
}

type attachment struct {
	ContentType string `json:"content_type"`
	Data        []byte `json:"data,omitempty"`
	Stub        bool   `json:"stub,omitempty"`
}

type observationDoc struct {
	ID          string                `json:"_id"`
	Rev         string                `json:"_rev,omitempty"`
	Type        string                `json:"Type"`
	ObjectID    string                `json:"object_id"`
	SessionID   string                `json:"session_id"`
	FrameNumber int                   `json:"frame_number"`
	K           [9]float64            `json:"K"`
	R           [9]float64            `json:"R"`
	T           [3]float64            `json:"T"`
	Images      map[string]imageMeta  `json:"images,omitempty"`
	Attachments map[string]attachment `json:"_attachments,omitempty"`
}

type modelDoc struct {
	ID         string          `json:"_id"`
	Rev        string          `json:"_rev,omitempty"`
	Type       string          `json:"Type"`
	ObjectID   string          `json:"object_id"`
	SessionIDs []string        `json:"session_ids"`
	ModelType  string          `json:"model_type"`
	Parameters json.RawMessage `json:"parameters"`
	Document   json.RawMessage `json:"model"`
	RunID      string          `json:"run_id,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Error is a non-success response from CouchDB.
type Error struct {
	Status int
	Kind   string `json:"error"`
	Reason string `json:"reason"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("couchdb: %d %s: %s", e.Status, e.Kind, e.Reason)
}

func (s *Store) dbURL(parts ...string) string {
	u := s.base + "/" + url.PathEscape(s.db)
	for _, p := range parts {
		u += "/" + url.PathEscape(p)
	}
	return u
}

func (s *Store) do(ctx context.Context, method, u string, body any, out any) (int, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		cerr := &Error{Status: resp.StatusCode}
		_ = json.Unmarshal(data, cerr)
		return resp.StatusCode, cerr
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// Init creates the database if it does not exist.
func (s *Store) Init(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	status, err := s.do(ctx, http.MethodPut, s.dbURL(), nil, nil)
	if status == http.StatusPreconditionFailed {
		logger.Debug("CouchDB database already exists.", "db", s.db)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create database %s: %w", s.db, err)
	}
	logger.Info("CouchDB database created.", "db", s.db)
	return nil
}

func (s *Store) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *Store) WriteObservation(ctx context.Context, obs *store.Observation) error {
	if obs == nil || obs.ID == "" {
		return fmt.Errorf("observation must have an id")
	}
	doc := observationDoc{
		ID:          obs.ID,
		Type:        docTypeObservation,
		ObjectID:    obs.ObjectID,
		SessionID:   obs.SessionID,
		FrameNumber: obs.FrameNumber,
		K:           obs.K,
		R:           obs.R,
		T:           obs.T,
		Images:      map[string]imageMeta{},
		Attachments: map[string]attachment{},
	}
	for name, img := range map[string]*store.Image{"image": obs.Image, "mask": obs.Mask, "depth": obs.Depth} {
		if img == nil {
			continue
		}
		doc.Images[name] = imageMeta{Width: img.Width, Height: img.Height, Channels: img.Channels, BytesPerSample: img.BytesPerSample}
		doc.Attachments[name] = attachment{ContentType: "application/octet-stream", Data: img.Data}
	}

	if _, err := s.do(ctx, http.MethodPut, s.dbURL(obs.ID), doc, nil); err != nil {
		return fmt.Errorf("failed to write observation %s: %w", obs.ID, err)
	}
	return nil
}

func (s *Store) ReadObservation(ctx context.Context, id string) (*store.Observation, error) {
	var doc observationDoc
	status, err := s.do(ctx, http.MethodGet, s.dbURL(id), nil, &doc)
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("observation %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read observation %s: %w", id, err)
	}
	if doc.Type != docTypeObservation {
		return nil, fmt.Errorf("document %s is a %q, not an observation", id, doc.Type)
	}

	obs := &store.Observation{
		ID:          doc.ID,
		ObjectID:    doc.ObjectID,
		SessionID:   doc.SessionID,
		FrameNumber: doc.FrameNumber,
		K:           doc.K,
		R:           doc.R,
		T:           doc.T,
	}
	targets := map[string]**store.Image{"image": &obs.Image, "mask": &obs.Mask, "depth": &obs.Depth}
	for name, meta := range doc.Images {
		target, ok := targets[name]
		if !ok {
			continue
		}
		data, err := s.attachment(ctx, id, name)
		if err != nil {
			return nil, err
		}
		*target = &store.Image{
			Width:          meta.Width,
			Height:         meta.Height,
			Channels:       meta.Channels,
			BytesPerSample: meta.BytesPerSample,
			Data:           data,
		}
	}
	return obs, nil
}

func (s *Store) attachment(ctx context.Context, id, name string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.dbURL(id, name), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch attachment %s/%s: %w", id, name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment %s/%s: %w", id, name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch attachment %s/%s: %s", id, name, resp.Status)
	}
	return data, nil
}

type findRequest struct {
	Selector map[string]any `json:"selector"`
	Fields   []string       `json:"fields,omitempty"`
	Limit    int            `json:"limit"`
}

func (s *Store) ListObservations(ctx context.Context, objectID string) ([]store.ObservationRef, error) {
	var resp struct {
		Docs []observationDoc `json:"docs"`
	}
	req := findRequest{
		Selector: map[string]any{"Type": docTypeObservation, "object_id": objectID},
		Fields:   []string{"_id", "session_id", "frame_number"},
		Limit:    findLimit,
	}
	if _, err := s.do(ctx, http.MethodPost, s.dbURL("_find"), req, &resp); err != nil {
		return nil, fmt.Errorf("failed to list observations of %s: %w", objectID, err)
	}

	refs := make([]store.ObservationRef, 0, len(resp.Docs))
	for _, d := range resp.Docs {
		refs = append(refs, store.ObservationRef{ID: d.ID, SessionID: d.SessionID, FrameNumber: d.FrameNumber})
	}
	store.SortRefs(refs)
	return refs, nil
}

func (s *Store) WriteModel(ctx context.Context, m *store.Model) (string, error) {
	if m == nil {
		return "", fmt.Errorf("model is nil")
	}
	doc := modelDoc{
		ID:         m.ID,
		Type:       docTypeModel,
		ObjectID:   m.ObjectID,
		SessionIDs: m.SessionIDs,
		ModelType:  m.ModelType,
		Parameters: m.Parameters,
		Document:   m.Document,
		RunID:      m.RunID,
		CreatedAt:  m.CreatedAt,
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = s.now().UTC()
	}

	var resp struct {
		ID string `json:"id"`
	}
	if _, err := s.do(ctx, http.MethodPut, s.dbURL(doc.ID), doc, &resp); err != nil {
		return "", fmt.Errorf("failed to write %s model for %s: %w", m.ModelType, m.ObjectID, err)
	}
	if resp.ID == "" {
		resp.ID = doc.ID
	}
	return resp.ID, nil
}

func (s *Store) ReadModel(ctx context.Context, id string) (*store.Model, error) {
	var doc modelDoc
	status, err := s.do(ctx, http.MethodGet, s.dbURL(id), nil, &doc)
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("model %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read model %s: %w", id, err)
	}
	if doc.Type != docTypeModel {
		return nil, fmt.Errorf("document %s is a %q, not a model", id, doc.Type)
	}
	return doc.model(), nil
}

func (s *Store) ListModels(ctx context.Context, objectID string) ([]*store.Model, error) {
	selector := map[string]any{"Type": docTypeModel}
	if objectID != "" {
		selector["object_id"] = objectID
	}
	var resp struct {
		Docs []modelDoc `json:"docs"`
	}
	if _, err := s.do(ctx, http.MethodPost, s.dbURL("_find"), findRequest{Selector: selector, Limit: findLimit}, &resp); err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	out := make([]*store.Model, 0, len(resp.Docs))
	for i := range resp.Docs {
		out = append(out, resp.Docs[i].model())
	}
	return out, nil
}

func (d *modelDoc) model() *store.Model {
	return &store.Model{
		ID:         d.ID,
		ObjectID:   d.ObjectID,
		SessionIDs: d.SessionIDs,
		ModelType:  d.ModelType,
		Parameters: d.Parameters,
		Document:   d.Document,
		RunID:      d.RunID,
		CreatedAt:  d.CreatedAt,
	}
}
