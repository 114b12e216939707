// Package engine runs the weight-delta resolution pipeline: dedup and
// ordering of observations, delta classification, catalog matching, and
// the confirmed-label path into the quantity tracker.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/shelfi/shelfd/internal/catalog"
	"github.com/shelfi/shelfd/internal/config"
	"github.com/shelfi/shelfd/internal/inventory"
	"github.com/shelfi/shelfd/internal/ledger"
	"github.com/shelfi/shelfd/internal/model"
	"github.com/shelfi/shelfd/internal/obs"
	"github.com/shelfi/shelfd/internal/queue"
)

// Engine holds the catalog snapshot, ledger, and inventory tracker, and
// is the single consumer of the observation queue. All shared state lives
// here; there are no package-level globals.
type Engine struct {
	cfg  config.Config
	q    *queue.Queue
	led  *ledger.Ledger
	sink ledger.Sink

	mu           sync.RWMutex
	cat          *catalog.Catalog
	inv          *inventory.Tracker
	cls          *Classifier
	lastAdmitted *model.Observation

	droppedDup        atomic.Uint64
	droppedOutOfOrder atomic.Uint64
	unresolved        atomic.Uint64
}

// New constructs an Engine. A nil sink is replaced with a no-op.
func New(cfg config.Config, q *queue.Queue, led *ledger.Ledger, sink ledger.Sink) *Engine {
	if sink == nil {
		sink = ledger.NopSink{}
	}
	return &Engine{cfg: cfg, q: q, led: led, sink: sink, cls: NewClassifier(cfg.NoiseMargin)}
}

// SetRoster builds a fresh catalog and tracker from the roster and swaps
// them in atomically. On error the previous catalog and tracker remain in
// effect. The classifier baseline resets, so the first reading after a
// roster change is a no-change baseline seed.
func (e *Engine) SetRoster(roster []model.Product) error {
	cat, err := catalog.Build(roster, e.cfg.CatalogMaxEntries)
	if err != nil {
		return err
	}
	inv := inventory.New(roster, e.cfg.ClampToCapacity)
	e.mu.Lock()
	e.cat = cat
	e.inv = inv
	e.cls.Reset()
	e.lastAdmitted = nil
	e.mu.Unlock()
	obs.Logger.Info("catalog_rebuilt", "entries", cat.Size(), "products", len(roster))
	return nil
}

// Catalog returns the current catalog snapshot; nil before the first
// successful SetRoster.
func (e *Engine) Catalog() *catalog.Catalog {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cat
}

// Inventory returns a read-only copy of remaining quantities.
func (e *Engine) Inventory() map[string]int {
	e.mu.RLock()
	inv := e.inv
	e.mu.RUnlock()
	if inv == nil {
		return map[string]int{}
	}
	return inv.Snapshot()
}

// Run drains the queue until the context is done. At most cfg.DrainBatch
// observations are processed per wake-up, so readers of the ledger and
// inventory are never starved under a live feed. Stopping is safe at any
// point: each append is atomic and undrained observations simply remain
// queued.
func (e *Engine) Run(ctx context.Context) {
	batch := e.cfg.DrainBatch
	if batch <= 0 {
		batch = 3
	}
	for {
		select {
		case <-ctx.Done():
			return
		case o := <-e.q.Out():
			e.process(o)
		drain:
			for n := 1; n < batch; n++ {
				select {
				case next := <-e.q.Out():
					e.process(next)
				default:
					break drain
				}
			}
		}
	}
}

// process admits one observation: dedup against the immediately preceding
// admitted record, enforce non-decreasing timestamps, classify, resolve,
// append.
func (e *Engine) process(o model.Observation) {
	defer e.q.MarkProcessed()

	e.mu.Lock()
	if last := e.lastAdmitted; last != nil {
		if o.TS == last.TS && o.Weight.Equal(last.Weight) {
			e.mu.Unlock()
			e.droppedDup.Add(1)
			obs.Logger.Debug("duplicate_observation_dropped", "ts", o.TS, "weight", o.Weight.String())
			return
		}
		if o.TS < last.TS {
			e.mu.Unlock()
			e.droppedOutOfOrder.Add(1)
			obs.Logger.Warn("out_of_order_observation_dropped", "ts", o.TS, "last_ts", last.TS)
			return
		}
	}
	admitted := o
	e.lastAdmitted = &admitted
	delta, action := e.cls.Classify(o.Weight)
	cat := e.cat
	e.mu.Unlock()

	ev := model.ClassifiedEvent{Observation: o, Delta: delta, Action: action}
	if action != model.ActionNone {
		matched := model.UnresolvedLabel
		if cat != nil {
			if label, ok := cat.Resolve(delta.Abs(), e.cfg.MatchMargin); ok {
				matched = label
			}
		}
		if matched == model.UnresolvedLabel {
			e.unresolved.Add(1)
		}
		ev.MatchedLabel = matched
	}
	ev = e.led.Append(ev)
	obs.Logger.Info("observation_classified",
		"event_id", ev.ID,
		"ts", o.TS,
		"weight", o.Weight.String(),
		"delta", delta.String(),
		"action", action.String(),
		"matched", ev.MatchedLabel,
	)
}

// Label records ground truth for an event and forwards the confirmed
// action to the quantity tracker and the feedback sink. The ledger and
// tracker are unchanged on error.
func (e *Engine) Label(id, actual string) (model.ClassifiedEvent, error) {
	if actual == "" {
		return model.ClassifiedEvent{}, fmt.Errorf("%w: empty label", inventory.ErrUnknownProduct)
	}
	e.mu.RLock()
	inv := e.inv
	e.mu.RUnlock()
	if inv == nil {
		return model.ClassifiedEvent{}, fmt.Errorf("%w: no roster configured", inventory.ErrUnknownProduct)
	}
	// Validate everything that can fail before committing the label, so a
	// rejected label never leaves a half-applied event behind.
	ev, err := e.led.Get(id)
	if err != nil {
		return model.ClassifiedEvent{}, err
	}
	if ev.Labeled() {
		return model.ClassifiedEvent{}, ledger.ErrAlreadyLabeled
	}
	if err := inv.Validate(actual); err != nil {
		return model.ClassifiedEvent{}, err
	}
	ev, err = e.led.Label(id, actual)
	if err != nil {
		return model.ClassifiedEvent{}, err
	}
	if err := inv.Apply(actual, ev.Action); err != nil {
		// Only reachable if the roster was swapped between validate and
		// apply; the label stands, the count adjustment is reported.
		obs.Logger.Warn("label_apply_failed", "event_id", id, "error", err)
		return ev, err
	}
	e.sink.OnLabeled(ev)
	obs.Logger.Info("event_labeled", "event_id", id, "actual", actual, "action", ev.Action.String())
	return ev, nil
}

// Metrics are pipeline drop/outcome counters for observability.
type Metrics struct {
	DroppedDuplicates uint64
	DroppedOutOfOrder uint64
	Unresolved        uint64
}

// PipelineMetrics returns current counter values.
func (e *Engine) PipelineMetrics() Metrics {
	return Metrics{
		DroppedDuplicates: e.droppedDup.Load(),
		DroppedOutOfOrder: e.droppedOutOfOrder.Load(),
		Unresolved:        e.unresolved.Load(),
	}
}
