// Package registry loads and cleans the clinical registry export and the
// derived-metrics table.
package registry

import (
	"errors"
	"fmt"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"gopkg.in/guregu/null.v3"

	"github.com/bopra/bopradb/logging"
	"github.com/bopra/bopradb/reltime"
	"github.com/bopra/bopradb/table"
)

const (
	// ColCID is the true case identifier. It never reaches published output.
	ColCID = "CID"
	// ColCaseID is the surrogate case identifier used as the join key.
	ColCaseID = "case_id"
	// ColAlarm holds the physician-unit alert time, the reference instant.
	ColAlarm = "t_alarm"
)

// ErrMissingColumn reports a required column absent from an input table.
var ErrMissingColumn = errors.New("missing required column")

// DefaultNA are the registry's missing-value markers.
var DefaultNA = []string{"-", "?"}

// DropColumns are identifying, free-text or unreliable registry fields.
var DropColumns = []string{
	"doc", "doc.1", "hcm", "pic", "eh", "patient_name", "case_id", "address", "address.1",
	"rc_immutable", "kirjaaja", "alarm", "patient", "rc_id", "alarm_id", "alarm_id.1",
	"alarm_immutable", "alarm_extra_alarm_immutable", "patient_id", "patient_id.1",
	"patient_id_duplicate", "contact_et_misc", "r_id", "defib_print", "comments",
	"consent_detail", "research", "rc_archiver", "rc_predecessor", "rc_active", "patient_rank",
	"p_rank", "code", "code.1", "kunta", "shp", "adverse_event_type", "adverse_reported",
	"kotikunta", "unit", "birthyear", "saku", "pat_rec_archived", "ssid_archived",
	"consultation", "adverse_detail",
	// timestamps that duplicate or predate the reference
	"kirjattu", "pvm_klo", "rc_stamp", "t_atscene.1", "t_atpatient.1", "t_transport.1",
	"t_athospital.1", "evy_alarm", "evy_atscene",
	// t_time ~= t_alarm; t_alarm has better data quality
	"t_time",
}

// InstantFields are converted to nanosecond offsets from t_ref.
var InstantFields = []reltime.Field{
	{Column: "ane_stamp"},    // anaesthesia start
	{Column: "poc1_stamp"},   // blood analysis 1
	{Column: "poc2_stamp"},   // blood analysis 2
	{Column: "poc3_stamp"},   // blood analysis 3
	{Column: "r_t_arrest"},   // cardiac arrest
	{Column: "r_t_trosc"},    // temporary rosc
	{Column: "r_t_prosc"},    // permanent rosc
	{Column: "t_call"},       // emergency call
	{Column: "t_ontheway"},   // embarkation
	{Column: "t_atscene"},    // arrival at scene
	{Column: "t_atpatient"},  // patient encounter
	{Column: "t_transport"},  // transport start
	{Column: "t_athospital"}, // arrival to care facility
	{Column: "t_end"},        // end of mission
	{Column: "t_available"},  // unit becomes available
	{Column: "saku_alarm"},   // ems alert
	{Column: "saku_atscene"}, // ems arrival at scene
}

// DateFields are converted to whole-day offsets from t_ref's local date.
var DateFields = []reltime.Field{
	{Column: "dod", Target: "days_to_death", Unit: reltime.Days},
	{Column: "discharge_date", Target: "days_to_discharge", Unit: reltime.Days},
}

// Schema controls cleaning of the registry table.
type Schema struct {
	// Drop lists columns removed before publication. Unknown names are ignored.
	Drop []string
	// BoolTF lists columns holding "t"/"f" values.
	BoolTF []string
	// Kinds pins column types; other columns are inferred.
	Kinds map[string]table.Kind
	// Keep lists columns left as strings, e.g. timestamps awaiting normalization.
	Keep []string
}

// DefaultSchema returns the cleaning rules for the registry export.
func DefaultSchema() Schema {
	keep := []string{ColAlarm}
	for _, f := range InstantFields {
		keep = append(keep, f.Column)
	}
	for _, f := range DateFields {
		keep = append(keep, f.Column)
	}
	return Schema{
		Drop:  DropColumns,
		Kinds: map[string]table.Kind{ColCID: table.Int},
		Keep:  keep,
	}
}

// ReadWorkbook reads the first sheet (or the named one) of an xlsx file into
// an all-string table. The first row is the header.
func ReadWorkbook(path, sheet string, na []string) (*table.Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("workbook %s has no sheets", path)
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %q is empty", sheet)
	}
	return table.FromRecords("fhdb", rows[0], rows[1:], na), nil
}

// Load reads and cleans the registry export.
func Load(path, sheet string, schema Schema, logger *zap.Logger) (*table.Table, error) {
	tbl, err := ReadWorkbook(path, sheet, DefaultNA)
	if err != nil {
		return nil, err
	}
	if err := Clean(tbl, schema, logger); err != nil {
		return nil, err
	}
	return tbl, nil
}

// Clean drops unpublished columns and assigns a type to every other column.
func Clean(tbl *table.Table, schema Schema, logger *zap.Logger) error {
	logger = logging.OrNop(logger)
	for _, req := range []string{ColCID, ColAlarm} {
		if tbl.Col(req) == nil {
			return fmt.Errorf("registry: %w %q", ErrMissingColumn, req)
		}
	}
	tbl.Drop(schema.Drop...)

	keep := make(map[string]struct{}, len(schema.Keep))
	for _, k := range schema.Keep {
		keep[k] = struct{}{}
	}
	boolTF := make(map[string]struct{}, len(schema.BoolTF))
	for _, b := range schema.BoolTF {
		boolTF[b] = struct{}{}
	}

	for _, c := range tbl.Columns {
		if _, ok := keep[c.Name]; ok {
			continue
		}
		if _, ok := boolTF[c.Name]; ok || isTF(c) {
			table.CoerceMap(c, table.Bool, map[string]any{"t": true, "f": false})
			continue
		}
		kind, ok := schema.Kinds[c.Name]
		if !ok {
			kind = table.Infer(c)
		}
		lost, err := table.Coerce(c, kind)
		if err != nil {
			return fmt.Errorf("registry: %w", err)
		}
		if lost > 0 {
			logger.Warn("registry cells failed type conversion",
				zap.String("column", c.Name), zap.Stringer("kind", kind), zap.Int("cells", lost))
		}
	}

	cid := tbl.Col(ColCID)
	for i, v := range cid.Values {
		if v == nil {
			return fmt.Errorf("registry: row %d has no %s", i+1, ColCID)
		}
	}
	return nil
}

// isTF reports whether every non-null cell is "t" or "f".
func isTF(c *table.Column) bool {
	if c.Kind != table.String {
		return false
	}
	seen := false
	for _, v := range c.Values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if s != "t" && s != "f" {
			return false
		}
		seen = true
	}
	return seen
}

// CaseIDs returns the true case identifiers in registry order.
func CaseIDs(tbl *table.Table) ([]int64, error) {
	c := tbl.Col(ColCID)
	if c == nil {
		return nil, fmt.Errorf("registry: %w %q", ErrMissingColumn, ColCID)
	}
	out := make([]int64, len(c.Values))
	for i, v := range c.Values {
		id, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("registry: row %d: %s is %v, want integer", i+1, ColCID, v)
		}
		out[i] = id
	}
	return out, nil
}

// ReferenceInstants parses t_alarm into one reference instant per row and
// drops the source column. Rows without a parseable alarm time get a null
// reference, and every offset of that case stays null.
func ReferenceInstants(tbl *table.Table, n *reltime.Normalizer) ([]null.Time, error) {
	c := tbl.Col(ColAlarm)
	if c == nil {
		return nil, fmt.Errorf("registry: %w %q", ErrMissingColumn, ColAlarm)
	}
	refs := make([]null.Time, len(c.Values))
	for i, v := range c.Values {
		refs[i] = n.Parse(v, reltime.Nanoseconds)
	}
	tbl.Drop(ColAlarm)
	return refs, nil
}

// AssignSurrogates inserts case_id as the first column: the 0-based registry
// row index. The mapping depends only on row order.
func AssignSurrogates(tbl *table.Table) error {
	values := make([]any, tbl.Len())
	for i := range values {
		values[i] = int64(i)
	}
	return tbl.Insert(0, &table.Column{Name: ColCaseID, Kind: table.Int, Values: values})
}

// SurrogateIndex maps true case ids to surrogate ids. The first registry row
// of a duplicated CID wins.
func SurrogateIndex(tbl *table.Table) (map[int64]int64, error) {
	cids, err := CaseIDs(tbl)
	if err != nil {
		return nil, err
	}
	sur := tbl.Col(ColCaseID)
	if sur == nil {
		return nil, fmt.Errorf("registry: %w %q", ErrMissingColumn, ColCaseID)
	}
	idx := make(map[int64]int64, len(cids))
	for i, cid := range cids {
		if _, ok := idx[cid]; ok {
			continue
		}
		idx[cid] = sur.Values[i].(int64)
	}
	return idx, nil
}
