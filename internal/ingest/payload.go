package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shelfi/shelfd/internal/model"
)

// rawPayload is the wire shape pushed by the scale firmware:
// {"ts": "HH:MM:SS", "weight": 1.234}. ts is optional.
type rawPayload struct {
	TS     string       `json:"ts"`
	Weight *json.Number `json:"weight"`
}

// ParsePayload decodes one telemetry record. A missing or non-numeric
// weight is an error; a missing ts falls back to the receive time.
func ParsePayload(b []byte, now time.Time) (model.Observation, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw rawPayload
	if err := dec.Decode(&raw); err != nil {
		return model.Observation{}, fmt.Errorf("decode payload: %w", err)
	}
	if raw.Weight == nil {
		return model.Observation{}, fmt.Errorf("payload missing weight")
	}
	w, err := decimal.NewFromString(raw.Weight.String())
	if err != nil {
		return model.Observation{}, fmt.Errorf("payload weight: %w", err)
	}
	ts := raw.TS
	if ts == "" {
		ts = now.Format("15:04:05")
	}
	return model.Observation{TS: ts, Weight: w}, nil
}
