// Package postgres stores observations and models in PostgreSQL. Images are
// bytea columns; calibration, parameters and model documents are jsonb.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/specialistvlad/ortrain/internal/ctxlog"
	"github.com/specialistvlad/ortrain/internal/store"
)

// Querier is the subset of *pgxpool.Pool the store needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is a PostgreSQL-backed store.
type Store struct {
	q     Querier
	close func()
	now   func() time.Time
}

var _ store.Store = (*Store)(nil)

// Open connects a pool to url.
func Open(ctx context.Context, url string) (*Store, error) {
	pool, err := pgxpool.Connect(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	s := New(pool)
	s.close = pool.Close
	return s, nil
}

// New wraps an existing connection, pool or transaction.
func New(q Querier) *Store {
	return &Store{q: q, close: func() {}, now: time.Now}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS "observation" (
		"id"           text PRIMARY KEY,
		"object_id"    text NOT NULL,
		"session_id"   text NOT NULL,
		"frame_number" integer NOT NULL DEFAULT 0,
		"calibration"  jsonb NOT NULL,
		"image_meta"   jsonb NOT NULL DEFAULT '{}'::jsonb,
		"image"        bytea,
		"mask"         bytea,
		"depth"        bytea
	)`,
	`CREATE INDEX IF NOT EXISTS "observation_object_id" ON "observation" ("object_id")`,
	`CREATE TABLE IF NOT EXISTS "model" (
		"id"          text PRIMARY KEY,
		"object_id"   text NOT NULL,
		"session_ids" jsonb NOT NULL,
		"model_type"  text NOT NULL,
		"parameters"  jsonb NOT NULL,
		"document"    jsonb NOT NULL,
		"run_id"      text NOT NULL DEFAULT '',
		"created_at"  timestamptz NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS "model_object_id" ON "model" ("object_id")`,
}

// Init creates the tables. Concurrent initialisation from several processes
// may race on the catalog; the loser's unique violation is ignored.
func (s *Store) Init(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	for _, stmt := range schema {
		if _, err := s.q.Exec(ctx, stmt); err != nil {
			if pgerr := new(pgconn.PgError); errors.As(err, &pgerr) && pgerr.Code == pgerrcode.UniqueViolation {
				logger.Debug("Schema object created concurrently.", "detail", pgerr.Detail)
				continue
			}
			return fmt.Errorf("failed to initialise schema: %w", err)
		}
	}
	logger.Debug("Postgres schema ready.")
	return nil
}

func (s *Store) Close() error {
	s.close()
	return nil
}

type calibration struct {
	K [9]float64 `json:"K"`
	R [9]float64 `json:"R"`
	T [3]float64 `json:"T"`
}

type imageMeta map[string]store.Image

func (s *Store) WriteObservation(ctx context.Context, obs *store.Observation) error {
	if obs == nil || obs.ID == "" {
		return fmt.Errorf("observation must have an id")
	}
	calib, err := json.Marshal(calibration{K: obs.K, R: obs.R, T: obs.T})
	if err != nil {
		return err
	}
	meta := imageMeta{}
	data := map[string][]byte{}
	for name, img := range map[string]*store.Image{"image": obs.Image, "mask": obs.Mask, "depth": obs.Depth} {
		if img == nil {
			continue
		}
		meta[name] = *img
		data[name] = img.Data
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	_, err = s.q.Exec(ctx, `
		INSERT INTO "observation"
			("id", "object_id", "session_id", "frame_number", "calibration", "image_meta", "image", "mask", "depth")
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT ("id") DO UPDATE SET
			"object_id" = EXCLUDED."object_id",
			"session_id" = EXCLUDED."session_id",
			"frame_number" = EXCLUDED."frame_number",
			"calibration" = EXCLUDED."calibration",
			"image_meta" = EXCLUDED."image_meta",
			"image" = EXCLUDED."image",
			"mask" = EXCLUDED."mask",
			"depth" = EXCLUDED."depth"`,
		obs.ID, obs.ObjectID, obs.SessionID, obs.FrameNumber, string(calib), string(metaJSON),
		data["image"], data["mask"], data["depth"],
	)
	if err != nil {
		return fmt.Errorf("failed to write observation %s: %w", obs.ID, err)
	}
	return nil
}

func (s *Store) ReadObservation(ctx context.Context, id string) (*store.Observation, error) {
	obs := &store.Observation{ID: id}
	var calib, metaJSON []byte
	var image, mask, depth []byte

	err := s.q.QueryRow(ctx, `
		SELECT "object_id", "session_id", "frame_number", "calibration", "image_meta", "image", "mask", "depth"
		FROM "observation" WHERE "id" = $1`, id,
	).Scan(&obs.ObjectID, &obs.SessionID, &obs.FrameNumber, &calib, &metaJSON, &image, &mask, &depth)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("observation %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read observation %s: %w", id, err)
	}

	var c calibration
	if err := json.Unmarshal(calib, &c); err != nil {
		return nil, fmt.Errorf("observation %s has malformed calibration: %w", id, err)
	}
	obs.K, obs.R, obs.T = c.K, c.R, c.T

	meta := imageMeta{}
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return nil, fmt.Errorf("observation %s has malformed image metadata: %w", id, err)
	}
	obs.Image = withData(meta, "image", image)
	obs.Mask = withData(meta, "mask", mask)
	obs.Depth = withData(meta, "depth", depth)
	return obs, nil
}

func withData(meta imageMeta, name string, data []byte) *store.Image {
	m, ok := meta[name]
	if !ok || data == nil {
		return nil
	}
	m.Data = data
	return &m
}

func (s *Store) ListObservations(ctx context.Context, objectID string) ([]store.ObservationRef, error) {
	rows, err := s.q.Query(ctx, `
		SELECT "id", "session_id", "frame_number" FROM "observation"
		WHERE "object_id" = $1
		ORDER BY "session_id", "frame_number", "id"`, objectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list observations of %s: %w", objectID, err)
	}
	defer rows.Close()

	var refs []store.ObservationRef
	for rows.Next() {
		var r store.ObservationRef
		if err := rows.Scan(&r.ID, &r.SessionID, &r.FrameNumber); err != nil {
			return nil, err
		}
		refs = append(refs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list observations of %s: %w", objectID, err)
	}
	return refs, nil
}

func (s *Store) WriteModel(ctx context.Context, m *store.Model) (string, error) {
	if m == nil {
		return "", fmt.Errorf("model is nil")
	}
	id := m.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now().UTC()
	}
	sessions, err := json.Marshal(m.SessionIDs)
	if err != nil {
		return "", err
	}

	_, err = s.q.Exec(ctx, `
		INSERT INTO "model" ("id", "object_id", "session_ids", "model_type", "parameters", "document", "run_id", "created_at")
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, m.ObjectID, string(sessions), m.ModelType, jsonOrEmpty(m.Parameters), jsonOrEmpty(m.Document), m.RunID, createdAt,
	)
	if err != nil {
		if pgerr := new(pgconn.PgError); errors.As(err, &pgerr) && pgerr.Code == pgerrcode.UniqueViolation {
			return "", fmt.Errorf("model %s already exists: %w", id, err)
		}
		return "", fmt.Errorf("failed to write %s model for %s: %w", m.ModelType, m.ObjectID, err)
	}
	return id, nil
}

func jsonOrEmpty(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}

const modelColumns = `"id", "object_id", "session_ids", "model_type", "parameters", "document", "run_id", "created_at"`

func scanModel(row pgx.Row) (*store.Model, error) {
	m := &store.Model{}
	var sessions, params, doc []byte
	if err := row.Scan(&m.ID, &m.ObjectID, &sessions, &m.ModelType, &params, &doc, &m.RunID, &m.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(sessions, &m.SessionIDs); err != nil {
		return nil, fmt.Errorf("model %s has malformed session ids: %w", m.ID, err)
	}
	m.Parameters = json.RawMessage(params)
	m.Document = json.RawMessage(doc)
	return m, nil
}

func (s *Store) ReadModel(ctx context.Context, id string) (*store.Model, error) {
	m, err := scanModel(s.q.QueryRow(ctx, `SELECT `+modelColumns+` FROM "model" WHERE "id" = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("model %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read model %s: %w", id, err)
	}
	return m, nil
}

func (s *Store) ListModels(ctx context.Context, objectID string) ([]*store.Model, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+modelColumns+` FROM "model"
		WHERE $1 = '' OR "object_id" = $1
		ORDER BY "created_at", "id"`, objectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	defer rows.Close()

	var out []*store.Model
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	return out, nil
}
