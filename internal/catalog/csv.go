package catalog

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// csvHeader is the tabular export format shared with external tools.
var csvHeader = []string{"Combination", "Total Weight"}

// WriteCSV writes the catalog as one row per entry, label-ordered.
// Weights are written with decimal's exact string form so that a reload
// resolves identically to the in-memory catalog.
func (c *Catalog) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range c.entries {
		if err := cw.Write([]string{e.Label, e.Weight.String()}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// LoadCSV reads a catalog previously written by WriteCSV.
func LoadCSV(r io.Reader) (*Catalog, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 2
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read catalog csv: %w", err)
	}
	if len(rows) == 0 || rows[0][0] != csvHeader[0] || rows[0][1] != csvHeader[1] {
		return nil, fmt.Errorf("catalog csv: missing header")
	}
	byLabel := make(map[string]Entry, len(rows)-1)
	entries := make([]Entry, 0, len(rows)-1)
	for _, row := range rows[1:] {
		label := row[0]
		if label == "" {
			return nil, fmt.Errorf("catalog csv: empty combination label")
		}
		if _, dup := byLabel[label]; dup {
			return nil, fmt.Errorf("catalog csv: duplicate label %q", label)
		}
		weight, err := decimal.NewFromString(row[1])
		if err != nil {
			return nil, fmt.Errorf("catalog csv: weight for %q: %w", label, err)
		}
		e := Entry{Label: label, Items: len(strings.Split(label, "+")), Weight: weight}
		byLabel[label] = e
		entries = append(entries, e)
	}
	// WriteCSV emits label order; re-sort to tolerate hand-edited files.
	sort.Slice(entries, func(i, j int) bool { return entries[i].Label < entries[j].Label })
	return &Catalog{entries: entries, byLabel: byLabel}, nil
}
