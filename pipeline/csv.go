package pipeline

import (
	"encoding/csv"
	"fmt"
	"os"

	"github.com/bopra/bopradb/registry"
	"github.com/bopra/bopradb/table"
)

// FlatTable joins derived metrics and the registry on case_id for the legacy
// single-file release.
func FlatTable(r *Release) (*table.Table, error) {
	return table.OuterJoin("flat", r.Derived, r.Registry, registry.ColCaseID)
}

func writeTableCSV(path string, t *table.Table) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(t.Names()); err != nil {
		return err
	}
	n := t.Len()
	rec := make([]string, len(t.Columns))
	for i := 0; i < n; i++ {
		for j, c := range t.Columns {
			rec[j] = table.Format(c.Values[i])
		}
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Sync()
}
