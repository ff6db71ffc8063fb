package nirs

import (
	"encoding/csv"
	"fmt"
	"os"

	"github.com/bopra/bopradb/table"
)

// Correction file columns.
const (
	ColMark    = "Mark"
	ColDiscard = "HuonoSignaali2"
)

// Correction is the manual annotation of one sample position.
type Correction struct {
	Mark    bool
	Discard bool
}

// ReadCorrections reads a semicolon-delimited correction file in file order.
// Its Time column has day resolution and is ignored. A missing mark means
// unmarked; a missing discard value means discard.
func ReadCorrections(path string) ([]Correction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open correction file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = ';'
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("correction file %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("correction file %s: missing column header", path)
	}
	cols := columnIndex(records[0])
	markIdx, ok1 := cols[ColMark]
	discardIdx, ok2 := cols[ColDiscard]
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("correction file %s: want columns %q, %q", path, ColMark, ColDiscard)
	}

	out := make([]Correction, 0, len(records)-1)
	for i, row := range records[1:] {
		c := Correction{Discard: true}
		if v := cell(row, markIdx); !isRawNA(v) {
			mark, ok := table.ParseFlag(v)
			if !ok {
				return nil, fmt.Errorf("correction file %s: row %d: bad %s %q", path, i+1, ColMark, v)
			}
			c.Mark = mark
		}
		if v := cell(row, discardIdx); !isRawNA(v) {
			discard, ok := table.ParseFlag(v)
			if !ok {
				return nil, fmt.Errorf("correction file %s: row %d: bad %s %q", path, i+1, ColDiscard, v)
			}
			c.Discard = discard
		}
		out = append(out, c)
	}
	return out, nil
}
