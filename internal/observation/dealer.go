// Package observation provides the Dealer, the graph source that emits one
// stored observation per activation.
package observation

import (
	"context"
	"fmt"

	"github.com/specialistvlad/ortrain/internal/cell"
	"github.com/specialistvlad/ortrain/internal/ctxlog"
	"github.com/specialistvlad/ortrain/internal/port"
	"github.com/specialistvlad/ortrain/internal/store"
)

// State is the lifecycle of a Dealer.
type State int

const (
	// Idle means no observation has been dealt yet.
	Idle State = iota
	// Dealing means at least one observation was dealt and more remain.
	Dealing
	// Exhausted means every id has been dealt.
	Exhausted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Dealing:
		return "dealing"
	case Exhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// DealFunc is notified after each observation is dealt. index is zero-based.
type DealFunc func(ctx context.Context, index, total int, obs *store.Observation)

// Dealer emits the observations of a fixed id sequence, in order, one per
// activation. Once exhausted, every activation returns cell.Quit.
type Dealer struct {
	ids    []string
	reader store.ObservationReader
	next   int
	state  State
	onDeal DealFunc
}

var _ cell.Cell = (*Dealer)(nil)

// Option configures a Dealer.
type Option func(*Dealer)

// OnDeal registers a hook called after every dealt observation.
func OnDeal(fn DealFunc) Option {
	return func(d *Dealer) { d.onDeal = fn }
}

// NewDealer creates a Dealer over a copy of ids. An empty sequence starts
// out Exhausted.
func NewDealer(ids []string, reader store.ObservationReader, opts ...Option) (*Dealer, error) {
	if reader == nil && len(ids) > 0 {
		return nil, fmt.Errorf("observation dealer needs a reader")
	}
	d := &Dealer{
		ids:    append([]string(nil), ids...),
		reader: reader,
	}
	if len(d.ids) == 0 {
		d.state = Exhausted
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func (d *Dealer) Name() string        { return "ObservationDealer" }
func (d *Dealer) Inputs() port.Specs  { return nil }
func (d *Dealer) Outputs() port.Specs { return Ports }

// State returns the current lifecycle state.
func (d *Dealer) State() State { return d.state }

// Dealt returns how many observations have been emitted.
func (d *Dealer) Dealt() int { return d.next }

// Total returns the length of the id sequence.
func (d *Dealer) Total() int { return len(d.ids) }

func (d *Dealer) Process(ctx context.Context, _ port.Values) (port.Values, cell.Result, error) {
	if d.state == Exhausted {
		return nil, cell.Quit, nil
	}

	id := d.ids[d.next]
	obs, err := d.reader.ReadObservation(ctx, id)
	if err != nil {
		return nil, cell.OK, fmt.Errorf("failed to read observation %d/%d: %w", d.next+1, len(d.ids), err)
	}

	vals, err := Values(obs)
	if err != nil {
		return nil, cell.OK, fmt.Errorf("observation %s: %w", id, err)
	}

	index := d.next
	d.next++
	if d.next == len(d.ids) {
		d.state = Exhausted
	} else {
		d.state = Dealing
	}

	ctxlog.FromContext(ctx).Debug("Observation dealt.", "observation_id", id, "index", index, "total", len(d.ids))
	if d.onDeal != nil {
		d.onDeal(ctx, index, len(d.ids), obs)
	}
	return vals, cell.OK, nil
}
