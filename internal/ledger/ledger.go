// Package ledger keeps the append-only, time-ordered log of classified
// events and their human labels.
package ledger

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/shelfi/shelfd/internal/model"
)

var (
	// ErrNotFound means no event exists with the given id.
	ErrNotFound = errors.New("event not found")
	// ErrAlreadyLabeled means the event's ground truth was already set.
	ErrAlreadyLabeled = errors.New("event already labeled")
)

// Sink receives every freshly labeled event. It stands in for a future
// learning component; ledger logic never depends on what it does.
type Sink interface {
	OnLabeled(ev model.ClassifiedEvent)
}

// NopSink discards labeled events.
type NopSink struct{}

// OnLabeled implements Sink.
func (NopSink) OnLabeled(model.ClassifiedEvent) {}

// Ledger is the exclusive owner of ClassifiedEvent records. Events are
// appended in processing order and mutated only once, when labeled.
type Ledger struct {
	mu     sync.RWMutex
	events []model.ClassifiedEvent
	byID   map[string]int
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{byID: make(map[string]int)}
}

// Append assigns the event an id and adds it at the tail. The stored
// event is returned.
func (l *Ledger) Append(ev model.ClassifiedEvent) model.ClassifiedEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	ev.ID = uuid.NewString()
	ev.ActualLabel = ""
	l.byID[ev.ID] = len(l.events)
	l.events = append(l.events, ev)
	return ev
}

// Label records ground truth for an event, at most once, and returns the
// labeled event. The ledger is unchanged on error.
func (l *Ledger) Label(id, actual string) (model.ClassifiedEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx, ok := l.byID[id]
	if !ok {
		return model.ClassifiedEvent{}, ErrNotFound
	}
	if l.events[idx].Labeled() {
		return model.ClassifiedEvent{}, ErrAlreadyLabeled
	}
	l.events[idx].ActualLabel = actual
	return l.events[idx], nil
}

// Get returns the event with the given id.
func (l *Ledger) Get(id string) (model.ClassifiedEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	idx, ok := l.byID[id]
	if !ok {
		return model.ClassifiedEvent{}, ErrNotFound
	}
	return l.events[idx], nil
}

// Unlabeled returns up to limit of the most recent unlabeled events in
// chronological order. The slice is re-derived from current contents on
// every call, so callers can restart iteration at any time.
func (l *Ledger) Unlabeled(limit int) []model.ClassifiedEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []model.ClassifiedEvent
	for i := len(l.events) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if !l.events[i].Labeled() {
			out = append(out, l.events[i])
		}
	}
	// Collected newest-first; flip to chronological.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Recent returns up to limit of the most recent events, chronological.
func (l *Ledger) Recent(limit int) []model.ClassifiedEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	start := 0
	if limit > 0 && len(l.events) > limit {
		start = len(l.events) - limit
	}
	out := make([]model.ClassifiedEvent, len(l.events)-start)
	copy(out, l.events[start:])
	return out
}

// Len returns the number of appended events.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}
