// Package reltime converts absolute timestamps and dates into signed integer
// offsets from a per-case reference instant.
//
// Sub-day fields become nanoseconds; date-only fields become whole civil days
// counted between local calendar dates in the recording site's zone. A null or
// unparseable input yields a null offset, never zero.
package reltime

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/guregu/null.v3"

	"github.com/bopra/bopradb/table"
)

// DefaultZone is the civil zone of the recording site.
const DefaultZone = "Europe/Helsinki"

// Unit selects the offset resolution of a field.
type Unit int

const (
	Nanoseconds Unit = iota
	Days
)

func (u Unit) String() string {
	if u == Days {
		return "days"
	}
	return "ns"
}

// InstantLayouts are the registry datetime forms, all carrying a UTC offset.
var InstantLayouts = []string{
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05-0700",
	"2006-01-02 15:04:05-07",
	"2006-01-02 15:04:05Z07:00",
	time.RFC3339Nano,
}

// DateLayouts are ISO-8601 date forms; they are read as local civil dates.
var DateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// Field names one column to convert.
type Field struct {
	Column string
	// Target is the output column; empty converts in place.
	Target string
	Unit   Unit
}

// RefFunc returns the reference instant for a table row.
type RefFunc func(row int) (time.Time, bool)

// Normalizer computes offsets against reference instants.
type Normalizer struct {
	Loc *time.Location
}

// New loads the named zone; empty means DefaultZone.
func New(zone string) (*Normalizer, error) {
	if strings.TrimSpace(zone) == "" {
		zone = DefaultZone
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", zone, err)
	}
	return &Normalizer{Loc: loc}, nil
}

// Nanos returns t - ref in nanoseconds.
func (n *Normalizer) Nanos(t null.Time, ref time.Time) null.Int {
	if !t.Valid {
		return null.Int{}
	}
	return null.IntFrom(int64(t.Time.Sub(ref)))
}

// Days returns the number of local calendar days from ref's date to d's date.
func (n *Normalizer) Days(d null.Time, ref time.Time) null.Int {
	if !d.Valid {
		return null.Int{}
	}
	return null.IntFrom(civilDay(d.Time.In(n.Loc)) - civilDay(ref.In(n.Loc)))
}

// FromNanos reverses Nanos.
func (n *Normalizer) FromNanos(ref time.Time, off int64) time.Time {
	return ref.Add(time.Duration(off))
}

// FromDays reverses Days, returning local midnight of the offset date.
func (n *Normalizer) FromDays(ref time.Time, days int64) time.Time {
	r := ref.In(n.Loc)
	return time.Date(r.Year(), r.Month(), r.Day()+int(days), 0, 0, 0, 0, n.Loc)
}

// civilDay numbers calendar dates so that consecutive dates differ by one
// regardless of DST transitions.
func civilDay(t time.Time) int64 {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}

// ParseInstant parses a registry datetime and returns it in UTC.
func (n *Normalizer) ParseInstant(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range InstantLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized datetime %q", s)
}

// ParseDate parses a date as a civil date in the normalizer's zone.
func (n *Normalizer) ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range DateLayouts {
		if t, err := time.ParseInLocation(layout, s, n.Loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// Parse reads a cell according to unit. Non-string and unparseable cells are
// null.
func (n *Normalizer) Parse(v any, unit Unit) null.Time {
	s, ok := v.(string)
	if !ok {
		return null.Time{}
	}
	var (
		t   time.Time
		err error
	)
	if unit == Days {
		t, err = n.ParseDate(s)
	} else {
		t, err = n.ParseInstant(s)
	}
	if err != nil {
		return null.Time{}
	}
	return null.TimeFrom(t)
}

// Offset converts one absolute value in the given unit.
func (n *Normalizer) Offset(t null.Time, ref time.Time, unit Unit) null.Int {
	if unit == Days {
		return n.Days(t, ref)
	}
	return n.Nanos(t, ref)
}

// NormalizeTable replaces each field's absolute column with an int64 offset
// column. In-place fields keep their position; renamed fields are appended
// and the source column is dropped. The returned map counts non-null cells
// that failed to parse, per source column.
func (n *Normalizer) NormalizeTable(tbl *table.Table, ref RefFunc, fields []Field) (map[string]int, error) {
	unparsed := make(map[string]int)
	for _, f := range fields {
		src := tbl.Col(f.Column)
		if src == nil {
			return nil, fmt.Errorf("normalize %s: table %q has no column %q", f.Unit, tbl.Name, f.Column)
		}
		out := &table.Column{Name: f.Column, Kind: table.Int, Values: make([]any, len(src.Values))}
		for i, v := range src.Values {
			t := n.Parse(v, f.Unit)
			if !t.Valid {
				if v != nil {
					unparsed[f.Column]++
				}
				continue
			}
			r, ok := ref(i)
			if !ok {
				continue
			}
			if off := n.Offset(t, r, f.Unit); off.Valid {
				out.Values[i] = off.Int64
			}
		}
		if f.Target == "" || f.Target == f.Column {
			*src = *out
			continue
		}
		out.Name = f.Target
		if err := tbl.Append(out); err != nil {
			return nil, err
		}
		tbl.Drop(f.Column)
	}
	return unparsed, nil
}

// RowRefs returns a RefFunc over a row-aligned slice of reference instants.
func RowRefs(refs []null.Time) RefFunc {
	return func(row int) (time.Time, bool) {
		if row < 0 || row >= len(refs) || !refs[row].Valid {
			return time.Time{}, false
		}
		return refs[row].Time, true
	}
}

// Refs maps case ids to reference instants.
type Refs map[int64]time.Time

// Lookup returns the reference instant of a case.
func (r Refs) Lookup(cid int64) (time.Time, bool) {
	t, ok := r[cid]
	return t, ok
}

// ByKey joins table rows to reference instants through an int64 key column.
func (r Refs) ByKey(tbl *table.Table, key string) (RefFunc, error) {
	c := tbl.Col(key)
	if c == nil {
		return nil, fmt.Errorf("table %q has no key column %q", tbl.Name, key)
	}
	if c.Kind != table.Int {
		return nil, fmt.Errorf("key column %q is %s, want int64", key, c.Kind)
	}
	return func(row int) (time.Time, bool) {
		cid, ok := c.Values[row].(int64)
		if !ok {
			return time.Time{}, false
		}
		return r.Lookup(cid)
	}, nil
}
