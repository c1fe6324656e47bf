// Package table holds the time-ordered record of evaluated points.
package table

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Reserved column names.
const (
	ColTimestamp = "timestamp"
	ColLive      = "live"
)

// Row is one evaluated point: inputs, outputs and bookkeeping columns.
type Row map[string]float64

// Clone returns a copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// MarshalJSON writes the row as an object. JSON has no NaN or Inf, so
// those cells are written as null.
func (r Row) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r))
	for k, v := range r {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			m[k] = nil
		} else {
			m[k] = v
		}
	}
	return json.Marshal(m)
}

// UnmarshalJSON reads null cells back as NaN.
func (r *Row) UnmarshalJSON(data []byte) error {
	var raw map[string]*float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = make(Row, len(raw))
	for k, v := range raw {
		if v == nil {
			(*r)[k] = math.NaN()
		} else {
			(*r)[k] = *v
		}
	}
	return nil
}

// Table is an append-only, concurrency-safe list of rows.
type Table struct {
	mu   sync.RWMutex
	rows []Row
}

// New returns a table holding copies of rows.
func New(rows ...Row) *Table {
	t := &Table{}
	t.Append(rows...)
	return t
}

// FromColumns builds a table from equal-length columns.
func FromColumns(cols map[string][]float64) (*Table, error) {
	n := -1
	for name, col := range cols {
		if n >= 0 && len(col) != n {
			return nil, fmt.Errorf("column %q has %d values, expected %d", name, len(col), n)
		}
		n = len(col)
	}
	t := &Table{}
	for i := 0; i < n; i++ {
		row := make(Row, len(cols))
		for name, col := range cols {
			row[name] = col[i]
		}
		t.rows = append(t.rows, row)
	}
	return t, nil
}

// Append adds copies of rows in order.
func (t *Table) Append(rows ...Row) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range rows {
		t.rows = append(t.rows, r.Clone())
	}
}

// Len returns the number of rows. A nil table is empty.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// Row returns a copy of row i.
func (t *Table) Row(i int) Row {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rows[i].Clone()
}

// Rows returns copies of all rows.
func (t *Table) Rows() []Row {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Row, len(t.rows))
	for i, r := range t.rows {
		out[i] = r.Clone()
	}
	return out
}

// Last returns the most recent row.
func (t *Table) Last() (Row, bool) {
	if t == nil {
		return nil, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.rows) == 0 {
		return nil, false
	}
	return t.rows[len(t.rows)-1].Clone(), true
}

// Column returns the values of name; rows without it are skipped.
func (t *Table) Column(name string) []float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []float64
	for _, r := range t.rows {
		if v, ok := r[name]; ok {
			out = append(out, v)
		}
	}
	return out
}

// Columns returns the sorted union of column names.
func (t *Table) Columns() []string {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	seen := make(map[string]bool)
	var names []string
	for _, r := range t.rows {
		for k := range r {
			if !seen[k] {
				seen[k] = true
				names = append(names, k)
			}
		}
	}
	sort.Strings(names)
	return names
}

// CountLive counts rows evaluated against the live system.
func (t *Table) CountLive() int {
	if t == nil {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, r := range t.rows {
		if r[ColLive] == 1 {
			n++
		}
	}
	return n
}

// Clone returns a deep copy. Cloning nil yields an empty table.
func (t *Table) Clone() *Table {
	return New(t.Rows()...)
}

// Reset drops all rows.
func (t *Table) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows = nil
}

// ToColumns converts to column form. Missing cells become NaN.
func (t *Table) ToColumns() map[string][]float64 {
	names := t.Columns()
	rows := t.Rows()
	cols := make(map[string][]float64, len(names))
	for _, name := range names {
		col := make([]float64, len(rows))
		for i, r := range rows {
			if v, ok := r[name]; ok {
				col[i] = v
			} else {
				col[i] = math.NaN()
			}
		}
		cols[name] = col
	}
	return cols
}

func (t *Table) MarshalYAML() (any, error) {
	return t.ToColumns(), nil
}

func (t *Table) UnmarshalYAML(node *yaml.Node) error {
	var cols map[string][]float64
	if err := node.Decode(&cols); err != nil {
		return fmt.Errorf("decode table: %w", err)
	}
	parsed, err := FromColumns(cols)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows = parsed.rows
	return nil
}

// MarshalJSON writes a list of row objects.
func (t *Table) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Rows())
}

func (t *Table) UnmarshalJSON(data []byte) error {
	var rows []Row
	if err := json.Unmarshal(data, &rows); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows = rows
	return nil
}
