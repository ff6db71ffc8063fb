package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type fixture struct {
	root     string
	registry string
	derived  string
	raw      string
	amend    string
	out      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		root:     root,
		registry: filepath.Join(root, "fhdb_export.xlsx"),
		derived:  filepath.Join(root, "cde_main.csv"),
		raw:      filepath.Join(root, "nirs_raw"),
		amend:    filepath.Join(root, "nirs_amend"),
		out:      filepath.Join(root, "db_release"),
	}
	require.NoError(t, os.MkdirAll(f.raw, 0o755))
	require.NoError(t, os.MkdirAll(f.amend, 0o755))
	return f
}

func (f *fixture) options() Options {
	return Options{
		RegistryPath:  f.registry,
		DerivedPath:   f.derived,
		RawDir:        f.raw,
		CorrectionDir: f.amend,
		OutDir:        f.out,
		Version:       "v-test",
	}
}

func (f *fixture) writeRegistry(t *testing.T, rows [][]any) {
	t.Helper()
	wb := excelize.NewFile()
	defer wb.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		r := row
		require.NoError(t, wb.SetSheetRow("Sheet1", cell, &r))
	}
	require.NoError(t, wb.SaveAs(f.registry))
}

func (f *fixture) writeDerived(t *testing.T, lines ...string) {
	t.Helper()
	require.NoError(t, os.WriteFile(f.derived, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
}

// writeRaw writes an oximeter export whose first sample is at clock on date.
func (f *fixture) writeRaw(t *testing.T, name, date, clock string, values ...string) {
	t.Helper()
	var b strings.Builder
	b.WriteString("Patient ID,anon\n")
	fmt.Fprintf(&b, "Start Date,%s\n", date)
	b.WriteString("Device,INVOS\nChannel,1\nExport,v2\n")
	b.WriteString("Time,rSO2 (%),Poor Signal Quality\n")
	for _, v := range values {
		bad := "0"
		if v == "--" {
			bad = "1"
		}
		fmt.Fprintf(&b, "%s,%s,%s\n", clock, v, bad)
	}
	require.NoError(t, os.WriteFile(filepath.Join(f.raw, name), []byte(b.String()), 0o644))
}

// writeAmend writes a correction file; each entry is "mark;discard".
func (f *fixture) writeAmend(t *testing.T, name string, rows ...string) {
	t.Helper()
	var b strings.Builder
	b.WriteString("Time;rSO2;Mark;HuonoSignaali2\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "01012023;60;%s\n", r)
	}
	require.NoError(t, os.WriteFile(filepath.Join(f.amend, name), []byte(b.String()), 0o644))
}

// standard builds three cases: 101 complete, 102 without recordings and
// 103 with a raw file but no correction file.
func (f *fixture) standard(t *testing.T) {
	t.Helper()
	f.writeRegistry(t, [][]any{
		{"CID", "case_id", "patient_name", "t_alarm", "t_call", "age", "rosc", "dod", "discharge_date"},
		{"101", "x1", "A", "2023-01-01 09:59:00+02:00", "2023-01-01 09:55:00+02:00", "54", "t", "2023-01-03", "-"},
		{"102", "x2", "B", "2023-02-01 12:00:00+02:00", "?", "61", "f", "-", "2023-02-10"},
		{"103", "x3", "C", "2023-03-01 12:00:00+02:00", "2023-03-01 11:58:30+02:00", "47", "t", "-", "-"},
	})
	f.writeDerived(t,
		"case_id;auc;base;delta;above_baseline;comment",
		"101;1.5;1;2;t;ok",
		"999;2.5;1;2;f;stray",
	)
	f.writeRaw(t, "nirs_101.csv", "2023-01-01", "10:00:00", "65", "66", "67")
	f.writeAmend(t, "nirs_101_a2.csv", "0;0", "0;1", "1;0")
	f.writeRaw(t, "nirs_103.csv", "2023-03-01", "12:00:00", "70", "71")
}
