// Package model defines domain types used by the engine.
package model

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Product is one roster entry: a tracked item type on the shelf.
// UnitWeight and ShelfQuantity are fixed once a catalog has been built
// from them; roster edits require a catalog rebuild.
type Product struct {
	Name          string          `json:"name"`
	UnitWeight    decimal.Decimal `json:"unit_weight_kg"`
	ShelfQuantity int             `json:"shelf_quantity"`
}

// Observation is one raw telemetry reading. TS is wall-clock time at
// HH:MM:SS resolution or finer; lexicographic order on TS matches time
// order within a day.
type Observation struct {
	TS     string          `json:"ts"`
	Weight decimal.Decimal `json:"weight"`
}

// Action is the coarse classification of a weight delta.
type Action int

const (
	ActionNone Action = iota
	ActionAdded
	ActionRemoved
)

// String returns the wire name of the action.
func (a Action) String() string {
	switch a {
	case ActionAdded:
		return "added"
	case ActionRemoved:
		return "removed"
	default:
		return "none"
	}
}

// MarshalJSON encodes the action as its string name.
func (a Action) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON decodes an action from its string name.
func (a *Action) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch s {
	case "none":
		*a = ActionNone
	case "added":
		*a = ActionAdded
	case "removed":
		*a = ActionRemoved
	default:
		return fmt.Errorf("unknown action %q", s)
	}
	return nil
}

// UnresolvedLabel is the explicit sentinel shown when no catalog entry
// falls within the match tolerance.
const UnresolvedLabel = "Unknown"

// ClassifiedEvent is the pipeline output for one admitted Observation.
// MatchedLabel is empty for no-change events, UnresolvedLabel when the
// resolver found no entry within tolerance, and a combination label
// otherwise. ActualLabel is set at most once, by a human.
type ClassifiedEvent struct {
	ID           string          `json:"id"`
	Observation  Observation     `json:"observation"`
	Delta        decimal.Decimal `json:"delta"`
	Action       Action          `json:"action"`
	MatchedLabel string          `json:"matched_label,omitempty"`
	ActualLabel  string          `json:"actual_label,omitempty"`
}

// Labeled reports whether ground truth has been recorded for the event.
func (e ClassifiedEvent) Labeled() bool { return e.ActualLabel != "" }
