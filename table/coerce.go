package table

import (
	"fmt"
	"strconv"
	"strings"
)

// FromRecords builds an all-string table from a header row and data rows.
// Cells listed in na (after trimming) become null. Short rows are padded
// with nulls.
func FromRecords(name string, header []string, rows [][]string, na []string) *Table {
	naSet := make(map[string]struct{}, len(na))
	for _, v := range na {
		naSet[v] = struct{}{}
	}
	t := New(name)
	for j, h := range header {
		c := &Column{Name: dedupeName(t, strings.TrimSpace(h)), Kind: String, Values: make([]any, len(rows))}
		for i, r := range rows {
			if j >= len(r) {
				continue
			}
			cell := strings.TrimSpace(r[j])
			if cell == "" {
				continue
			}
			if _, ok := naSet[cell]; ok {
				continue
			}
			c.Values[i] = cell
		}
		t.Columns = append(t.Columns, c)
	}
	return t
}

// dedupeName mirrors spreadsheet readers that suffix repeated headers
// with ".1", ".2", ...
func dedupeName(t *Table, name string) string {
	if t.Index(name) < 0 {
		return name
	}
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s.%d", name, n)
		if t.Index(candidate) < 0 {
			return candidate
		}
	}
}

// Coerce converts a string column to kind. Cells that do not parse become
// null; the returned count says how many.
func Coerce(c *Column, kind Kind) (int, error) {
	if c.Kind == kind {
		return 0, nil
	}
	if c.Kind != String {
		return 0, fmt.Errorf("column %q: cannot coerce %s to %s", c.Name, c.Kind, kind)
	}
	lost := 0
	for i, v := range c.Values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		parsed, ok := parseCell(s, kind)
		if !ok {
			lost++
		}
		c.Values[i] = parsed
	}
	c.Kind = kind
	return lost, nil
}

// CoerceMap applies a string mapping, e.g. {"t": true, "f": false}, and sets
// the column kind. Unmapped cells become null.
func CoerceMap(c *Column, kind Kind, mapping map[string]any) {
	for i, v := range c.Values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		c.Values[i] = mapping[s]
	}
	c.Kind = kind
}

// Infer picks the narrowest kind that every non-null cell parses as:
// Int, then Float, else String.
func Infer(c *Column) Kind {
	if c.Kind != String {
		return c.Kind
	}
	kind := Int
	seen := false
	for _, v := range c.Values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		seen = true
		if kind == Int {
			if _, err := strconv.ParseInt(s, 10, 64); err == nil {
				continue
			}
			kind = Float
		}
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			return String
		}
	}
	if !seen {
		return String
	}
	return kind
}

func parseCell(s string, kind Kind) (any, bool) {
	switch kind {
	case Int:
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
		// integers exported as "12.0"
		if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int64(f)) {
			return int64(f), true
		}
	case Float:
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
	case Bool:
		if b, ok := ParseFlag(s); ok {
			return b, true
		}
	default:
		return s, true
	}
	return nil, false
}

// ParseFlag reads the boolean spellings found in device and registry
// exports: true/false, t/f, yes/no and numbers (nonzero is true).
func ParseFlag(s string) (bool, bool) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "true", "t", "yes", "y":
		return true, true
	case "false", "f", "no", "n":
		return false, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return false, false
	}
	return f != 0, true
}
