// Package catalog builds and queries the combination catalog: one entry
// per distinguishable non-empty multiset of roster items, keyed by a
// canonical label, with its aggregate weight.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/shelfi/shelfd/internal/model"
)

var (
	// ErrInvalidRoster rejects rosters that cannot produce a catalog:
	// empty, duplicate names, non-positive unit weight, negative quantity.
	ErrInvalidRoster = errors.New("invalid roster")
	// ErrCatalogTooLarge rejects rosters whose combination count exceeds
	// the configured cap before any enumeration happens.
	ErrCatalogTooLarge = errors.New("catalog too large")
)

// DefaultMaxEntries caps the combination count when no explicit cap is set.
const DefaultMaxEntries = 200000

// Entry is one feasible combination and its total weight. Items is the
// number of unit-tokens in the combination, used for tie-breaking.
type Entry struct {
	Label  string          `json:"combination"`
	Items  int             `json:"items"`
	Weight decimal.Decimal `json:"total_weight_kg"`
}

// Catalog is an immutable set of entries keyed by label. Consumers hold a
// snapshot pointer; a roster change produces a whole new Catalog.
type Catalog struct {
	entries []Entry // sorted by label
	byLabel map[string]Entry
}

// Build enumerates every per-product count selection in [0..quantity] (a
// bounded Cartesian product across products, skipping the all-zero
// selection) and collects the results keyed by canonical label. Counts of
// identical items are fungible, so deduplication is by composition.
// maxEntries <= 0 means DefaultMaxEntries.
func Build(roster []model.Product, maxEntries int) (*Catalog, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if len(roster) == 0 {
		return nil, fmt.Errorf("%w: roster is empty", ErrInvalidRoster)
	}
	seen := make(map[string]bool, len(roster))
	for _, p := range roster {
		if p.Name == "" {
			return nil, fmt.Errorf("%w: product with empty name", ErrInvalidRoster)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("%w: duplicate product %q", ErrInvalidRoster, p.Name)
		}
		seen[p.Name] = true
		if !p.UnitWeight.IsPositive() {
			return nil, fmt.Errorf("%w: product %q has non-positive unit weight", ErrInvalidRoster, p.Name)
		}
		if p.ShelfQuantity < 0 {
			return nil, fmt.Errorf("%w: product %q has negative quantity", ErrInvalidRoster, p.Name)
		}
	}

	// Size guard before enumerating anything.
	size := int64(1)
	for _, p := range roster {
		size *= int64(p.ShelfQuantity + 1)
		if size-1 > int64(maxEntries) {
			return nil, fmt.Errorf("%w: combination count exceeds cap %d", ErrCatalogTooLarge, maxEntries)
		}
	}

	products := make([]model.Product, len(roster))
	copy(products, roster)
	sort.Slice(products, func(i, j int) bool { return products[i].Name < products[j].Name })

	byLabel := make(map[string]Entry, size-1)
	counts := make([]int, len(products))
	for {
		// Odometer increment; the all-zero start is never emitted.
		i := 0
		for i < len(counts) && counts[i] == products[i].ShelfQuantity {
			counts[i] = 0
			i++
		}
		if i == len(counts) {
			break
		}
		counts[i]++

		var parts []string
		items := 0
		weight := decimal.Zero
		for idx, p := range products {
			for k := 0; k < counts[idx]; k++ {
				parts = append(parts, p.Name)
			}
			if counts[idx] > 0 {
				items += counts[idx]
				weight = weight.Add(p.UnitWeight.Mul(decimal.NewFromInt(int64(counts[idx]))))
			}
		}
		label := strings.Join(parts, "+")
		byLabel[label] = Entry{Label: label, Items: items, Weight: weight}
	}

	entries := make([]Entry, 0, len(byLabel))
	for _, e := range byLabel {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Label < entries[j].Label })
	return &Catalog{entries: entries, byLabel: byLabel}, nil
}

// Resolve returns the label of the entry whose weight is closest to
// magnitude, provided the difference is within tolerance. Ties prefer the
// combination with fewer items, then the lexicographically smaller label.
// Pure: depends only on this snapshot.
func (c *Catalog) Resolve(magnitude, tolerance decimal.Decimal) (string, bool) {
	var (
		best     Entry
		bestDiff decimal.Decimal
		found    bool
	)
	for _, e := range c.entries {
		diff := e.Weight.Sub(magnitude).Abs()
		switch {
		case !found || diff.LessThan(bestDiff):
			best, bestDiff, found = e, diff, true
		case diff.Equal(bestDiff):
			if e.Items < best.Items || (e.Items == best.Items && e.Label < best.Label) {
				best = e
			}
		}
	}
	if !found || bestDiff.GreaterThan(tolerance) {
		return "", false
	}
	return best.Label, true
}

// Entries returns a copy of the catalog rows in label order.
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Lookup returns the entry for a label.
func (c *Catalog) Lookup(label string) (Entry, bool) {
	e, ok := c.byLabel[label]
	return e, ok
}

// Size returns the number of entries.
func (c *Catalog) Size() int { return len(c.entries) }
