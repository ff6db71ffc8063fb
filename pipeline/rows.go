package pipeline

import (
	"fmt"

	"gopkg.in/guregu/null.v3"

	"github.com/bopra/bopradb/nirs"
	"github.com/bopra/bopradb/registry"
	"github.com/bopra/bopradb/reltime"
	"github.com/bopra/bopradb/table"
)

// SeriesRow is one published sample. Time is the offset from the case's
// t_ref in nanoseconds; it is null when the case has no t_ref.
type SeriesRow struct {
	Time      null.Int
	CaseID    int64
	RSO2      null.Float
	BadAuto   bool
	BadManual bool
}

// AnchorRow holds a case's anchor offsets from t_ref in nanoseconds.
type AnchorRow struct {
	CaseID int64
	Start  null.Int
	Mark   null.Int
	End    null.Int
}

// buildRows converts assembled series to published rows keyed by surrogate id.
func buildRows(col *nirs.Collection, norm *reltime.Normalizer, refs reltime.Refs, index map[int64]int64) ([]SeriesRow, []AnchorRow, error) {
	series := make([]SeriesRow, 0, col.Points())
	for _, s := range col.Series {
		sur, ok := index[s.CaseID]
		if !ok {
			return nil, nil, fmt.Errorf("series case %d is not in the registry", s.CaseID)
		}
		ref, hasRef := refs.Lookup(s.CaseID)
		for _, p := range s.Points {
			row := SeriesRow{CaseID: sur, RSO2: p.Value, BadAuto: p.BadAuto, BadManual: p.BadManual}
			if hasRef {
				row.Time = norm.Nanos(null.TimeFrom(p.Time), ref)
			}
			series = append(series, row)
		}
	}

	anchors := make([]AnchorRow, 0, len(col.Anchors))
	for _, a := range col.Anchors {
		sur, ok := index[a.CaseID]
		if !ok {
			return nil, nil, fmt.Errorf("anchor case %d is not in the registry", a.CaseID)
		}
		row := AnchorRow{CaseID: sur}
		if ref, ok := refs.Lookup(a.CaseID); ok {
			row.Start = norm.Nanos(a.StartTime, ref)
			row.Mark = norm.Nanos(a.MarkTime, ref)
			row.End = norm.Nanos(null.TimeFrom(a.EndTime), ref)
		}
		anchors = append(anchors, row)
	}
	return series, anchors, nil
}

// SeriesTable lays out series rows as the nirs table.
func SeriesTable(rows []SeriesRow) *table.Table {
	t := table.New(TableSeries)
	tm := &table.Column{Name: "time", Kind: table.Int, Values: make([]any, len(rows))}
	id := &table.Column{Name: registry.ColCaseID, Kind: table.Int, Values: make([]any, len(rows))}
	v := &table.Column{Name: "rso2", Kind: table.Float, Values: make([]any, len(rows))}
	auto := &table.Column{Name: "bad_rso2_auto", Kind: table.Bool, Values: make([]any, len(rows))}
	manual := &table.Column{Name: "bad_rso2_manual", Kind: table.Bool, Values: make([]any, len(rows))}
	for i, r := range rows {
		tm.Values[i] = nullInt(r.Time)
		id.Values[i] = r.CaseID
		if r.RSO2.Valid {
			v.Values[i] = r.RSO2.Float64
		}
		auto.Values[i] = r.BadAuto
		manual.Values[i] = r.BadManual
	}
	t.Columns = []*table.Column{tm, id, v, auto, manual}
	return t
}

// AnchorTable lays out anchor rows as the nirs_info table.
func AnchorTable(rows []AnchorRow) *table.Table {
	t := table.New(TableAnchors)
	id := &table.Column{Name: registry.ColCaseID, Kind: table.Int, Values: make([]any, len(rows))}
	start := &table.Column{Name: "start", Kind: table.Int, Values: make([]any, len(rows))}
	mark := &table.Column{Name: "mark", Kind: table.Int, Values: make([]any, len(rows))}
	end := &table.Column{Name: "end", Kind: table.Int, Values: make([]any, len(rows))}
	for i, r := range rows {
		id.Values[i] = r.CaseID
		start.Values[i] = nullInt(r.Start)
		mark.Values[i] = nullInt(r.Mark)
		end.Values[i] = nullInt(r.End)
	}
	t.Columns = []*table.Column{id, start, mark, end}
	return t
}

// Tables returns the four published tables in output order.
func (r *Release) Tables() []*table.Table {
	return []*table.Table{r.Registry, r.Derived, SeriesTable(r.Series), AnchorTable(r.Anchors)}
}

func nullInt(v null.Int) any {
	if !v.Valid {
		return nil
	}
	return v.Int64
}
