// Package table holds the column-oriented in-memory tables passed between the
// registry loader, the normalizer and the output writers.
package table

import (
	"fmt"
	"strconv"
)

// Kind is the storage type of a column.
type Kind int

const (
	String Kind = iota
	Int
	Float
	Bool
)

func (k Kind) String() string {
	switch k {
	case Int:
		return "int64"
	case Float:
		return "float64"
	case Bool:
		return "bool"
	default:
		return "string"
	}
}

// Column is one named, typed column. A nil entry in Values is a null cell;
// non-nil entries are string, int64, float64 or bool according to Kind.
type Column struct {
	Name   string
	Kind   Kind
	Values []any
}

// Table is an ordered set of equally long columns.
type Table struct {
	Name    string
	Columns []*Column
}

// New returns an empty table.
func New(name string) *Table {
	return &Table{Name: name}
}

// Len returns the row count.
func (t *Table) Len() int {
	if len(t.Columns) == 0 {
		return 0
	}
	return len(t.Columns[0].Values)
}

// Names returns column names in order.
func (t *Table) Names() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// Index returns the position of the named column or -1.
func (t *Table) Index(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Col returns the named column or nil.
func (t *Table) Col(name string) *Column {
	if i := t.Index(name); i >= 0 {
		return t.Columns[i]
	}
	return nil
}

// Insert places c at position pos, replacing any column of the same name.
func (t *Table) Insert(pos int, c *Column) error {
	if len(t.Columns) > 0 && len(c.Values) != t.Len() {
		return fmt.Errorf("column %q has %d rows, table %q has %d", c.Name, len(c.Values), t.Name, t.Len())
	}
	t.Drop(c.Name)
	if pos < 0 || pos > len(t.Columns) {
		pos = len(t.Columns)
	}
	t.Columns = append(t.Columns, nil)
	copy(t.Columns[pos+1:], t.Columns[pos:])
	t.Columns[pos] = c
	return nil
}

// Append adds c as the last column.
func (t *Table) Append(c *Column) error {
	return t.Insert(len(t.Columns), c)
}

// Drop removes the named columns; unknown names are ignored.
func (t *Table) Drop(names ...string) {
	if len(names) == 0 {
		return
	}
	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		drop[n] = struct{}{}
	}
	kept := t.Columns[:0]
	for _, c := range t.Columns {
		if _, ok := drop[c.Name]; !ok {
			kept = append(kept, c)
		}
	}
	t.Columns = kept
}

// Rename changes a column name in place.
func (t *Table) Rename(from, to string) {
	if c := t.Col(from); c != nil {
		c.Name = to
	}
}

// Select returns a new table sharing the named columns.
func (t *Table) Select(name string, cols ...string) (*Table, error) {
	out := New(name)
	for _, n := range cols {
		c := t.Col(n)
		if c == nil {
			return nil, fmt.Errorf("table %q has no column %q", t.Name, n)
		}
		out.Columns = append(out.Columns, c)
	}
	return out, nil
}

// Row returns the cells of row i in column order.
func (t *Table) Row(i int) []any {
	out := make([]any, len(t.Columns))
	for j, c := range t.Columns {
		out[j] = c.Values[i]
	}
	return out
}

// Format renders a cell for flat-file output; null renders as "".
func Format(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		if x {
			return "True"
		}
		return "False"
	default:
		return fmt.Sprint(x)
	}
}
