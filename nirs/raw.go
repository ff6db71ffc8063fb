// Package nirs loads per-case cerebral oximetry recordings, reconciles them
// with their manual correction files and derives the start, mark and end
// anchors of every case.
package nirs

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/tormoder/fit"
	"go.uber.org/zap"
	"gopkg.in/guregu/null.v3"

	"github.com/bopra/bopradb/logging"
	"github.com/bopra/bopradb/table"
)

// Raw recording layout.
const (
	rawHeaderLines = 5
	rawDateLine    = 1

	ColTime       = "Time"
	ColRSO2       = "rSO2 (%)"
	ColPoorSignal = "Poor Signal Quality"

	// lowMeanRSO2 flags recordings that are probably not oximetry at all.
	lowMeanRSO2 = 10.0

	fitInvalidUint16 = 0xFFFF
)

var rawNA = map[string]struct{}{"": {}, "--": {}}

// Sample is one second of a raw recording.
type Sample struct {
	Time    time.Time
	Value   null.Float
	BadAuto bool
}

// Loader reads raw recordings for one case.
type Loader struct {
	// Loc is the civil zone of the device clock in csv exports.
	Loc    *time.Location
	Logger *zap.Logger
}

// LoadRaw reads every file of one case, ordered by file name, and returns the
// samples sorted by timestamp. Overlaps and gaps between files are kept.
func (l *Loader) LoadRaw(paths []string) ([]Sample, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no raw files given")
	}
	sorted := append([]string(nil), paths...)
	sort.Slice(sorted, func(i, j int) bool {
		bi, bj := filepath.Base(sorted[i]), filepath.Base(sorted[j])
		if bi != bj {
			return bi < bj
		}
		return sorted[i] < sorted[j]
	})

	var out []Sample
	for _, p := range sorted {
		var (
			part []Sample
			err  error
		)
		if strings.EqualFold(filepath.Ext(p), ".fit") {
			part, err = ReadRawFIT(p)
		} else {
			part, err = l.ReadRawCSV(p)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, part...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Time.Before(out[j].Time)
	})
	return out, nil
}

// ReadRawCSV reads one oximeter csv export. The absolute time of row i is
// the header start date, combined with the first row's time of day, plus i
// seconds; the per-row Time column is not trusted.
func (l *Loader) ReadRawCSV(path string) ([]Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open raw file: %w", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var startDate string
	for i := 0; i < rawHeaderLines; i++ {
		line, err := br.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return nil, fmt.Errorf("raw file %s: read header line %d: %w", path, i+1, err)
		}
		if i == rawDateLine {
			_, after, _ := strings.Cut(line, ",")
			startDate = strings.TrimSpace(after)
		}
	}

	r := csv.NewReader(br)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("raw file %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("raw file %s: missing column header", path)
	}
	cols := columnIndex(records[0])
	timeIdx, ok1 := cols[ColTime]
	valueIdx, ok2 := cols[ColRSO2]
	badIdx, ok3 := cols[ColPoorSignal]
	if !ok1 || !ok2 || !ok3 {
		return nil, fmt.Errorf("raw file %s: want columns %q, %q, %q", path, ColTime, ColRSO2, ColPoorSignal)
	}
	rows := records[1:]
	if len(rows) == 0 {
		return nil, nil
	}

	start, err := l.startInstant(startDate, cell(rows[0], timeIdx))
	if err != nil {
		return nil, fmt.Errorf("raw file %s: %w", path, err)
	}

	out := make([]Sample, 0, len(rows))
	var sum float64
	var n int
	for i, row := range rows {
		s := Sample{Time: start.Add(time.Duration(i) * time.Second)}
		if v := cell(row, valueIdx); !isRawNA(v) {
			x, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("raw file %s: row %d: bad %s %q", path, i+1, ColRSO2, v)
			}
			s.Value = null.FloatFrom(x)
			sum += x
			n++
		}
		if v := cell(row, badIdx); !isRawNA(v) {
			bad, ok := table.ParseFlag(v)
			if !ok {
				return nil, fmt.Errorf("raw file %s: row %d: bad %s %q", path, i+1, ColPoorSignal, v)
			}
			s.BadAuto = bad
		}
		out = append(out, s)
	}

	if n > 0 && sum/float64(n) < lowMeanRSO2 {
		logging.OrNop(l.Logger).Warn("raw recording has implausibly low mean rSO2",
			zap.String("file", path), zap.Float64("mean", sum/float64(n)), zap.Int("samples", len(out)))
	}
	return out, nil
}

func (l *Loader) startInstant(date, clock string) (time.Time, error) {
	if date == "" {
		return time.Time{}, fmt.Errorf("header line %d carries no start date", rawDateLine+1)
	}
	loc := l.Loc
	if loc == nil {
		loc = time.Local
	}
	t, err := dateparse.ParseIn(date+" "+clock, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse start instant %q %q: %w", date, clock, err)
	}
	return t, nil
}

// ReadRawFIT reads muscle-oxygen saturation from a FIT activity file. Row i
// is stamped with the first record's timestamp plus i seconds, matching the
// csv clock; invalid readings are null and flagged bad.
func ReadRawFIT(path string) ([]Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open raw file: %w", err)
	}
	defer f.Close()

	decoded, err := fit.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("raw file %s: decode fit: %w", path, err)
	}
	activity, err := decoded.Activity()
	if err != nil {
		return nil, fmt.Errorf("raw file %s: %w", path, err)
	}
	return recordSamples(activity.Records), nil
}

// recordSamples stamps records on a 1 s clock anchored at the first non-nil
// record. Nil records keep their position and are flagged bad.
func recordSamples(records []*fit.RecordMsg) []Sample {
	first := -1
	for i, rec := range records {
		if rec != nil {
			first = i
			break
		}
	}
	if first < 0 {
		return nil
	}

	start := records[first].Timestamp.Add(-time.Duration(first) * time.Second)
	out := make([]Sample, 0, len(records))
	for i, rec := range records {
		s := Sample{Time: start.Add(time.Duration(i) * time.Second)}
		if rec != nil && rec.SaturatedHemoglobinPercent != fitInvalidUint16 {
			s.Value = null.FloatFrom(float64(rec.SaturatedHemoglobinPercent) / 10)
		} else {
			s.BadAuto = true
		}
		out = append(out, s)
	}
	return out
}

func columnIndex(header []string) map[string]int {
	out := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if _, ok := out[h]; !ok {
			out[h] = i
		}
	}
	return out
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func isRawNA(v string) bool {
	_, ok := rawNA[v]
	return ok
}
