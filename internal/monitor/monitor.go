// Package monitor reports training progress to observers: the log, or a
// remote dashboard over socket.io.
package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/specialistvlad/ortrain/internal/ctxlog"
)

// Kind classifies an Event.
type Kind string

const (
	KindRunStarted   Kind = "run_started"
	KindObservation  Kind = "observation"
	KindModelWritten Kind = "model_written"
	KindFailed       Kind = "failed"
	KindRunFinished  Kind = "run_finished"
)

// Event is one progress notification.
type Event struct {
	RunID       string    `json:"run_id"`
	ObjectID    string    `json:"object_id,omitempty"`
	Pipeline    string    `json:"pipeline,omitempty"`
	Kind        Kind      `json:"kind"`
	Observation string    `json:"observation,omitempty"`
	Index       int       `json:"index,omitempty"`
	Total       int       `json:"total,omitempty"`
	ModelID     string    `json:"model_id,omitempty"`
	Err         string    `json:"error,omitempty"`
	Time        time.Time `json:"time"`
}

// Reporter receives progress events. Implementations must be safe for
// concurrent use; Report must not block for long.
type Reporter interface {
	Report(ctx context.Context, ev Event)
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Report(context.Context, Event) {}
func (Nop) Close() error                  { return nil }

// Log writes events to the context logger. Per-observation events are
// logged at debug level.
type Log struct{}

func (Log) Report(ctx context.Context, ev Event) {
	logger := ctxlog.FromContext(ctx)
	args := []any{"run_id", ev.RunID, "object_id", ev.ObjectID, "pipeline", ev.Pipeline}
	switch ev.Kind {
	case KindObservation:
		logger.Debug("Observation processed.", append(args, "observation", ev.Observation, "index", ev.Index, "total", ev.Total)...)
	case KindModelWritten:
		logger.Info("💾 Model written.", append(args, "model_id", ev.ModelID)...)
	case KindFailed:
		logger.Error("Training failed.", append(args, "error", ev.Err)...)
	case KindRunStarted:
		logger.Info("🚀 Training started.", append(args, "total", ev.Total)...)
	case KindRunFinished:
		logger.Info("🏁 Training finished.", append(args, "total", ev.Total)...)
	default:
		logger.Info("Training event.", append(args, "kind", string(ev.Kind))...)
	}
}

func (Log) Close() error { return nil }

// Multi fans events out to several reporters.
type Multi []Reporter

func (m Multi) Report(ctx context.Context, ev Event) {
	for _, r := range m {
		r.Report(ctx, ev)
	}
}

func (m Multi) Close() error {
	var errs []error
	for _, r := range m {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stamp fills in the event time if it is missing.
func Stamp(ev Event) Event {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	return ev
}
