package table

import (
	"fmt"
	"sort"
)

// Join suffixes for non-key columns present on both sides.
const (
	LeftSuffix  = "_x"
	RightSuffix = "_y"
)

// OuterJoin merges left and right on an int64 key column. The key comes
// first, then left's other columns, then right's. Rows are ordered by key;
// each key yields the cross product of its left and right rows, padded with
// nulls on the missing side. Left rows with a null key never match and
// follow the keyed rows in input order.
func OuterJoin(name string, left, right *Table, key string) (*Table, error) {
	lk, rk := left.Col(key), right.Col(key)
	if lk == nil || rk == nil {
		return nil, fmt.Errorf("join %q: both tables need key column %q", name, key)
	}
	if lk.Kind != Int || rk.Kind != Int {
		return nil, fmt.Errorf("join %q: key column %q must be int64", name, key)
	}

	lrows, lnull := groupByKey(lk)
	rrows, rnull := groupByKey(rk)
	keys := make([]int64, 0, len(lrows)+len(rrows))
	for k := range lrows {
		keys = append(keys, k)
	}
	for k := range rrows {
		if _, ok := lrows[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	type pair struct{ l, r int } // -1 is the missing side
	var pairs []pair
	for _, k := range keys {
		ls, rs := lrows[k], rrows[k]
		switch {
		case len(ls) == 0:
			for _, r := range rs {
				pairs = append(pairs, pair{-1, r})
			}
		case len(rs) == 0:
			for _, l := range ls {
				pairs = append(pairs, pair{l, -1})
			}
		default:
			for _, l := range ls {
				for _, r := range rs {
					pairs = append(pairs, pair{l, r})
				}
			}
		}
	}
	for _, l := range lnull {
		pairs = append(pairs, pair{l, -1})
	}
	for _, r := range rnull {
		pairs = append(pairs, pair{-1, r})
	}

	out := New(name)
	keyCol := &Column{Name: key, Kind: Int, Values: make([]any, len(pairs))}
	for i, p := range pairs {
		if p.l >= 0 {
			keyCol.Values[i] = lk.Values[p.l]
		} else {
			keyCol.Values[i] = rk.Values[p.r]
		}
	}
	out.Columns = append(out.Columns, keyCol)

	for _, side := range []struct {
		t      *Table
		other  *Table
		suffix string
		pick   func(pair) int
	}{
		{left, right, LeftSuffix, func(p pair) int { return p.l }},
		{right, left, RightSuffix, func(p pair) int { return p.r }},
	} {
		for _, c := range side.t.Columns {
			if c.Name == key {
				continue
			}
			colName := c.Name
			if side.other.Col(c.Name) != nil {
				colName += side.suffix
			}
			nc := &Column{Name: colName, Kind: c.Kind, Values: make([]any, len(pairs))}
			for i, p := range pairs {
				if j := side.pick(p); j >= 0 {
					nc.Values[i] = c.Values[j]
				}
			}
			out.Columns = append(out.Columns, nc)
		}
	}
	return out, nil
}

func groupByKey(c *Column) (map[int64][]int, []int) {
	groups := make(map[int64][]int)
	var nulls []int
	for i, v := range c.Values {
		k, ok := v.(int64)
		if !ok {
			nulls = append(nulls, i)
			continue
		}
		groups[k] = append(groups[k], i)
	}
	return groups, nulls
}
