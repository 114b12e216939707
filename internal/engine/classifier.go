package engine

import (
	"github.com/shopspring/decimal"

	"github.com/shelfi/shelfd/internal/model"
)

// Classifier turns a raw weight reading into a signed delta and a coarse
// action, relative to a rolling baseline.
type Classifier struct {
	baseline    decimal.Decimal
	hasBaseline bool
	noiseMargin decimal.Decimal
}

// NewClassifier returns a classifier with no baseline; the first reading
// seeds it.
func NewClassifier(noiseMargin decimal.Decimal) *Classifier {
	return &Classifier{noiseMargin: noiseMargin}
}

// Classify computes the delta against the previous accepted reading.
// Deltas below the noise margin are sensor noise, not events. The baseline
// always advances to current, so noise never accumulates into a phantom
// delta across no-change readings.
func (c *Classifier) Classify(current decimal.Decimal) (decimal.Decimal, model.Action) {
	if !c.hasBaseline {
		c.baseline = current
		c.hasBaseline = true
		return decimal.Zero, model.ActionNone
	}
	delta := current.Sub(c.baseline)
	c.baseline = current
	switch {
	case delta.Abs().LessThan(c.noiseMargin):
		return delta, model.ActionNone
	case delta.IsPositive():
		return delta, model.ActionAdded
	default:
		return delta, model.ActionRemoved
	}
}

// Reset clears the baseline; the next reading re-seeds it without a
// catalog lookup.
func (c *Classifier) Reset() { c.hasBaseline = false }
