package registry

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/bopra/bopradb/logging"
	"github.com/bopra/bopradb/table"
)

// DerivedNA are the missing-value markers of the metrics export.
var DerivedNA = []string{"NA", "NaN", "nan", "NULL", "null", "N/A", "#N/A", "<NA>", "--"}

// DerivedDrop are working columns of the metrics export that are not published.
var DerivedDrop = []string{"base", "delta", "above_baseline", "comment"}

// LoadDerived reads the semicolon-delimited derived-metrics file. Its
// case_id column carries the true case identifier and is renamed to CID.
func LoadDerived(path string, logger *zap.Logger) (*table.Table, error) {
	logger = logging.OrNop(logger)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open derived metrics: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = ';'
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read derived metrics: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("derived metrics file %s is empty", path)
	}
	header := records[0]
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	tbl := table.FromRecords("derived_quantities", header, records[1:], DerivedNA)
	if tbl.Col(ColCaseID) == nil {
		return nil, fmt.Errorf("derived metrics: %w %q", ErrMissingColumn, ColCaseID)
	}
	tbl.Rename(ColCaseID, ColCID)
	tbl.Drop(DerivedDrop...)

	for _, c := range tbl.Columns {
		kind := table.Infer(c)
		if c.Name == ColCID {
			kind = table.Int
		}
		lost, err := table.Coerce(c, kind)
		if err != nil {
			return nil, fmt.Errorf("derived metrics: %w", err)
		}
		if lost > 0 {
			logger.Warn("derived metric cells failed type conversion",
				zap.String("column", c.Name), zap.Int("cells", lost))
		}
	}
	return tbl, nil
}

// AttachSurrogates replaces CID in the derived table with the registry's
// surrogate case_id, placed first. Every derived row is kept; rows whose CID
// is not in the registry get a null case_id. It returns that row count.
func AttachSurrogates(derived *table.Table, index map[int64]int64) (int, error) {
	cid := derived.Col(ColCID)
	if cid == nil {
		return 0, fmt.Errorf("derived metrics: %w %q", ErrMissingColumn, ColCID)
	}
	unmatched := 0
	values := make([]any, len(cid.Values))
	for i, v := range cid.Values {
		id, ok := v.(int64)
		if !ok {
			unmatched++
			continue
		}
		sur, ok := index[id]
		if !ok {
			unmatched++
			continue
		}
		values[i] = sur
	}
	if err := derived.Insert(0, &table.Column{Name: ColCaseID, Kind: table.Int, Values: values}); err != nil {
		return 0, err
	}
	derived.Drop(ColCID)
	return unmatched, nil
}
