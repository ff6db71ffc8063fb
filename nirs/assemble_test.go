package nirs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type caseDirs struct {
	raw, amend string
}

func newCaseDirs(t *testing.T) caseDirs {
	t.Helper()
	root := t.TempDir()
	d := caseDirs{raw: filepath.Join(root, "raw"), amend: filepath.Join(root, "amend")}
	require.NoError(t, os.MkdirAll(d.raw, 0o755))
	require.NoError(t, os.MkdirAll(d.amend, 0o755))
	return d
}

func (d caseDirs) assembler(t *testing.T, logger *zap.Logger) *Assembler {
	return &Assembler{RawDir: d.raw, CorrectionDir: d.amend, Loc: helsinki(t), Logger: logger}
}

func TestAssembleCaseComplete(t *testing.T) {
	d := newCaseDirs(t)
	writeRawCSV(t, d.raw, "nirs_12.csv", "2023-01-01", []rawRow{
		{"10:00:00", "65", "0"},
		{"10:00:01", "66", "0"},
		{"10:00:02", "67", "0"},
	})
	writeCorrections(t, d.amend, "nirs_12_a2.csv", []corrRow{{"0", "0"}, {"1", "1"}, {"0", "0"}})

	res, err := d.assembler(t, nil).AssembleCase(12)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, res.Status)
	assert.Len(t, res.RawFiles, 1)
	assert.Equal(t, filepath.Join(d.amend, "nirs_12_a2.csv"), res.CorrectionFile)

	require.NotNil(t, res.Series)
	loc := helsinki(t)
	assert.True(t, res.Series.Points[1].Time.Equal(time.Date(2023, 1, 1, 10, 0, 1, 0, loc)))
	assert.False(t, res.Series.Points[1].Value.Valid)
	assert.Equal(t, int64(1), res.Series.Anchors.Mark.Int64)
	assert.Equal(t, 2, res.Series.Anchors.End)
}

func TestAssembleCaseIgnoresLongerIDs(t *testing.T) {
	d := newCaseDirs(t)
	writeRawCSV(t, d.raw, "nirs_10.csv", "2023-01-01", steadyRows("10:00:00", 2, "60"))
	writeCorrections(t, d.amend, "nirs_10_a2.csv", cleanCorrections(2))
	writeRawCSV(t, d.raw, "nirs_101.csv", "2023-01-01", steadyRows("11:00:00", 3, "70"))
	writeRawCSV(t, d.raw, "nirs_110.csv", "2023-01-01", steadyRows("12:00:00", 4, "70"))
	writeCorrections(t, d.amend, "nirs_101_a2.csv", cleanCorrections(3))

	core, logs := observer.New(zapcore.DebugLevel)
	a := d.assembler(t, zap.New(core))

	res, err := a.AssembleCase(10)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, res.Status)
	assert.Equal(t, []string{filepath.Join(d.raw, "nirs_10.csv")}, res.RawFiles)
	assert.Len(t, res.Series.Points, 2)

	reconciled := logs.FilterMessage("case reconciled").All()
	require.Len(t, reconciled, 1)
	assert.Equal(t, filepath.Join(d.amend, "nirs_10_a2.csv"), reconciled[0].ContextMap()["correction_file"])

	res, err = a.AssembleCase(101)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(d.raw, "nirs_101.csv")}, res.RawFiles)
	assert.Len(t, res.Series.Points, 3)

	res, err = a.AssembleCase(1)
	require.NoError(t, err)
	assert.Equal(t, StatusNoData, res.Status)
}

func TestContainsID(t *testing.T) {
	for _, tc := range []struct {
		name, id string
		want     bool
	}{
		{"nirs_10.csv", "10", true},
		{"10.csv", "10", true},
		{"case10a.fit", "10", true},
		{"nirs_101.csv", "10", false},
		{"nirs_110.csv", "10", false},
		{"nirs_101_10.csv", "10", true},
		{"nirs_1010.csv", "10", false},
	} {
		assert.Equal(t, tc.want, containsID(tc.name, tc.id), tc.name)
	}
}

func TestAssembleCasePartial(t *testing.T) {
	d := newCaseDirs(t)
	writeRawCSV(t, d.raw, "nirs_20.csv", "2023-01-01", steadyRows("10:00:00", 2, "60"))
	writeCorrections(t, d.amend, "nirs_21_a2.csv", cleanCorrections(2))

	core, logs := observer.New(zapcore.WarnLevel)
	a := d.assembler(t, zap.New(core))

	res, err := a.AssembleCase(20)
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, res.Status)
	assert.Nil(t, res.Series)

	res, err = a.AssembleCase(21)
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, res.Status)

	res, err = a.AssembleCase(22)
	require.NoError(t, err)
	assert.Equal(t, StatusNoData, res.Status)

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "no amend data for case", logs.All()[0].Message)
	assert.Equal(t, "no raw data for case", logs.All()[1].Message)
}

func TestAssembleCaseMismatchCarriesCaseID(t *testing.T) {
	d := newCaseDirs(t)
	writeRawCSV(t, d.raw, "nirs_30.csv", "2023-01-01", steadyRows("10:00:00", 5, "60"))
	writeCorrections(t, d.amend, "nirs_30_a2.csv", cleanCorrections(4))

	_, err := d.assembler(t, nil).AssembleCase(30)
	var mismatch *LengthMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, int64(30), mismatch.CaseID)
	assert.Equal(t, "case 30: data length mismatch: raw: 5, amend: 4", err.Error())
}

func TestAssembleCaseAmbiguousCorrection(t *testing.T) {
	d := newCaseDirs(t)
	writeRawCSV(t, d.raw, "nirs_40.csv", "2023-01-01", steadyRows("10:00:00", 2, "60"))
	writeCorrections(t, d.amend, "nirs_40_a2.csv", cleanCorrections(2))
	writeCorrections(t, d.amend, "nirs_40_b_a2.csv", cleanCorrections(2))

	a := d.assembler(t, nil)
	a.CorrectionPattern = "nirs_{cid}*a2.csv"
	_, err := a.AssembleCase(40)
	assert.ErrorIs(t, err, ErrAmbiguousCorrection)
}

func TestAssembleMultipartAndFIT(t *testing.T) {
	d := newCaseDirs(t)
	writeRawCSV(t, d.raw, "nirs_50_part1.csv", "2023-01-01", steadyRows("10:00:00", 2, "60"))
	writeRawCSV(t, d.raw, "nirs_50_part2.csv", "2023-01-01", steadyRows("10:30:00", 2, "62"))
	writeCorrections(t, d.amend, "nirs_50_a2.csv", cleanCorrections(4))

	fitStart := time.Date(2023, 1, 2, 6, 0, 0, 0, time.UTC)
	writeRawFIT(t, d.raw, "nirs_51.fit", fitStart, []uint16{600, 610})
	writeCorrections(t, d.amend, "nirs_51_a2.csv", cleanCorrections(2))

	col, err := d.assembler(t, nil).Assemble([]int64{50, 51, 52})
	require.NoError(t, err)
	assert.Equal(t, 2, col.Count(StatusComplete))
	assert.Equal(t, 1, col.Count(StatusNoData))
	assert.Equal(t, 6, col.Points())

	require.Len(t, col.Series, 2)
	assert.Equal(t, int64(50), col.Series[0].CaseID)
	assert.Equal(t, 62.0, col.Series[0].Points[3].Value.Float64)
	assert.Equal(t, int64(51), col.Series[1].CaseID)
	assert.True(t, col.Anchors[1].EndTime.Equal(fitStart.Add(time.Second)))
}

func TestAssembleStopsOnMismatch(t *testing.T) {
	d := newCaseDirs(t)
	writeRawCSV(t, d.raw, "nirs_60.csv", "2023-01-01", steadyRows("10:00:00", 3, "60"))
	writeCorrections(t, d.amend, "nirs_60_a2.csv", cleanCorrections(2))

	col, err := d.assembler(t, nil).Assemble([]int64{60})
	assert.Nil(t, col)
	var mismatch *LengthMismatchError
	assert.True(t, errors.As(err, &mismatch))
}
