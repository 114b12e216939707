// Package inventory tracks remaining per-product quantities. Counts move
// only on confirmed (human-labeled) actions, never on raw resolver
// guesses.
package inventory

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/shelfi/shelfd/internal/model"
)

// ErrUnknownProduct is returned when a label references a product that is
// not in the tracked roster.
var ErrUnknownProduct = errors.New("unknown product")

type productCount struct {
	remaining int
	capacity  int
}

// Tracker is the single writer of inventory counts. Reads get copies;
// writes are serialized behind the mutex.
type Tracker struct {
	mu              sync.RWMutex
	counts          map[string]productCount
	clampToCapacity bool
}

// New initializes counts from the roster's shelf quantities. When
// clampToCapacity is set, increments saturate at each product's original
// shelf quantity.
func New(roster []model.Product, clampToCapacity bool) *Tracker {
	counts := make(map[string]productCount, len(roster))
	for _, p := range roster {
		counts[p.Name] = productCount{remaining: p.ShelfQuantity, capacity: p.ShelfQuantity}
	}
	return &Tracker{counts: counts, clampToCapacity: clampToCapacity}
}

// Validate checks that every product named in a combination label is
// tracked, without changing any count.
func (t *Tracker) Validate(label string) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for name := range parseLabel(label) {
		if _, ok := t.counts[name]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownProduct, name)
		}
	}
	return nil
}

// Apply adjusts counts for every product in the combination label.
// Removed decrements saturating at zero; Added increments, saturating at
// capacity when clamping is enabled; None is a no-op. Either all products
// in the label are applied or none are.
func (t *Tracker) Apply(label string, action model.Action) error {
	if action == model.ActionNone {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	parsed := parseLabel(label)
	for name := range parsed {
		if _, ok := t.counts[name]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownProduct, name)
		}
	}
	for name, n := range parsed {
		pc := t.counts[name]
		switch action {
		case model.ActionRemoved:
			pc.remaining -= n
			if pc.remaining < 0 {
				pc.remaining = 0
			}
		case model.ActionAdded:
			pc.remaining += n
			if t.clampToCapacity && pc.remaining > pc.capacity {
				pc.remaining = pc.capacity
			}
		}
		t.counts[name] = pc
	}
	return nil
}

// Snapshot returns a read-only copy of product name to remaining quantity.
func (t *Tracker) Snapshot() map[string]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]int, len(t.counts))
	for name, pc := range t.counts {
		out[name] = pc.remaining
	}
	return out
}

// parseLabel counts product occurrences in a canonical combination label
// such as "A+A+B".
func parseLabel(label string) map[string]int {
	counts := make(map[string]int)
	for _, name := range strings.Split(label, "+") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		counts[name]++
	}
	return counts
}
