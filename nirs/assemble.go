package nirs

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/guregu/null.v3"

	"github.com/bopra/bopradb/logging"
)

// ErrAmbiguousCorrection is returned when more than one correction file
// matches a case.
var ErrAmbiguousCorrection = errors.New("ambiguous correction file")

// CaseToken is replaced by the case identifier in file patterns.
const CaseToken = "{cid}"

// Default file patterns.
var (
	DefaultRawPatterns       = []string{"*{cid}*.csv", "*{cid}*.fit"}
	DefaultCorrectionPattern = "nirs_{cid}_a2.csv"
)

// Status is a case's time-series availability.
type Status int

const (
	// StatusNoData: neither raw nor correction files exist.
	StatusNoData Status = iota
	// StatusPartial: only one side exists; the case is left out of series output.
	StatusPartial
	// StatusComplete: the case was reconciled.
	StatusComplete
)

func (s Status) String() string {
	switch s {
	case StatusPartial:
		return "partial"
	case StatusComplete:
		return "complete"
	default:
		return "no_data"
	}
}

// CaseResult is the outcome of assembling one case.
type CaseResult struct {
	CaseID         int64
	Status         Status
	RawFiles       []string
	CorrectionFile string
	Series         *Series
}

// CaseSeries is a reconciled series tagged with its true case id.
type CaseSeries struct {
	CaseID  int64
	Points  []Point
	Quality Quality
}

// CaseAnchors is an anchor triple with timestamps, tagged with its case id.
type CaseAnchors struct {
	CaseID    int64
	Anchors   Anchors
	StartTime null.Time
	MarkTime  null.Time
	EndTime   time.Time
}

// Collection accumulates per-case results in registry order.
type Collection struct {
	Series   []CaseSeries
	Anchors  []CaseAnchors
	Statuses map[int64]Status
	order    []int64
}

// NewCollection returns an empty collection.
func NewCollection() *Collection {
	return &Collection{Statuses: make(map[int64]Status)}
}

// Add merges one case result.
func (c *Collection) Add(r CaseResult) {
	if _, seen := c.Statuses[r.CaseID]; !seen {
		c.order = append(c.order, r.CaseID)
	}
	c.Statuses[r.CaseID] = r.Status
	if r.Status != StatusComplete || r.Series == nil {
		return
	}
	c.Series = append(c.Series, CaseSeries{
		CaseID:  r.CaseID,
		Points:  r.Series.Points,
		Quality: Summarize(r.Series.Points),
	})
	start, mark, end := r.Series.AnchorTimes()
	c.Anchors = append(c.Anchors, CaseAnchors{
		CaseID:    r.CaseID,
		Anchors:   r.Series.Anchors,
		StartTime: start,
		MarkTime:  mark,
		EndTime:   end,
	})
}

// Count returns the number of cases with the given status.
func (c *Collection) Count(s Status) int {
	n := 0
	for _, id := range c.order {
		if c.Statuses[id] == s {
			n++
		}
	}
	return n
}

// Points returns the total number of reconciled samples.
func (c *Collection) Points() int {
	n := 0
	for _, s := range c.Series {
		n += len(s.Points)
	}
	return n
}

// Assembler locates and reconciles the recordings of each case.
type Assembler struct {
	RawDir            string
	CorrectionDir     string
	RawPatterns       []string
	CorrectionPattern string
	Loc               *time.Location
	Logger            *zap.Logger
}

// Assemble processes cases in the given order. A length mismatch or an
// ambiguous correction file stops the walk and is returned.
func (a *Assembler) Assemble(cids []int64) (*Collection, error) {
	out := NewCollection()
	for _, cid := range cids {
		res, err := a.AssembleCase(cid)
		if err != nil {
			return nil, err
		}
		out.Add(res)
	}
	return out, nil
}

// AssembleCase resolves one case. It has no side effects beyond logging.
func (a *Assembler) AssembleCase(cid int64) (CaseResult, error) {
	logger := logging.OrNop(a.Logger).With(zap.Int64("cid", cid))
	res := CaseResult{CaseID: cid}

	raw, err := a.rawFiles(cid)
	if err != nil {
		return res, err
	}
	corr, err := a.glob(a.CorrectionDir, a.correctionPattern(), cid)
	if err != nil {
		return res, err
	}
	res.RawFiles = raw

	switch {
	case len(raw) == 0 && len(corr) == 0:
		res.Status = StatusNoData
		return res, nil
	case len(raw) == 0:
		logger.Warn("no raw data for case", zap.Strings("correction_files", corr))
		res.Status = StatusPartial
		return res, nil
	case len(corr) == 0:
		logger.Warn("no amend data for case", zap.Strings("raw_files", raw))
		res.Status = StatusPartial
		return res, nil
	case len(corr) > 1:
		return res, fmt.Errorf("case %d: %w: %s", cid, ErrAmbiguousCorrection, strings.Join(corr, ", "))
	}
	res.CorrectionFile = corr[0]

	loader := Loader{Loc: a.Loc, Logger: a.Logger}
	samples, err := loader.LoadRaw(raw)
	if err != nil {
		return res, fmt.Errorf("case %d: %w", cid, err)
	}
	corrections, err := ReadCorrections(res.CorrectionFile)
	if err != nil {
		return res, fmt.Errorf("case %d: %w", cid, err)
	}
	series, err := Reconcile(samples, corrections)
	if err != nil {
		var mismatch *LengthMismatchError
		if errors.As(err, &mismatch) {
			mismatch.CaseID = cid
			return res, mismatch
		}
		return res, fmt.Errorf("case %d: %w", cid, err)
	}

	res.Series = series
	res.Status = StatusComplete
	logger.Debug("case reconciled",
		zap.Int("samples", len(series.Points)),
		zap.Int("raw_files", len(raw)),
		zap.String("correction_file", res.CorrectionFile))
	return res, nil
}

func (a *Assembler) rawFiles(cid int64) ([]string, error) {
	patterns := a.RawPatterns
	if len(patterns) == 0 {
		patterns = DefaultRawPatterns
	}
	seen := make(map[string]struct{})
	var out []string
	for _, p := range patterns {
		matches, err := a.glob(a.RawDir, p, cid)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (a *Assembler) correctionPattern() string {
	if a.CorrectionPattern == "" {
		return DefaultCorrectionPattern
	}
	return a.CorrectionPattern
}

func (a *Assembler) glob(dir, pattern string, cid int64) ([]string, error) {
	name := strings.ReplaceAll(pattern, CaseToken, strconv.FormatInt(cid, 10))
	matches, err := filepath.Glob(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", name, err)
	}
	id := strconv.FormatInt(cid, 10)
	out := matches[:0]
	for _, m := range matches {
		if containsID(filepath.Base(m), id) {
			out = append(out, m)
		}
	}
	return out, nil
}

// containsID reports whether id occurs in name with no digit directly
// before or after it, so case 10 does not claim nirs_101.csv.
func containsID(name, id string) bool {
	for from := 0; from < len(name); {
		i := strings.Index(name[from:], id)
		if i < 0 {
			return false
		}
		i += from
		end := i + len(id)
		if (i == 0 || !isDigit(name[i-1])) && (end == len(name) || !isDigit(name[end])) {
			return true
		}
		from = i + 1
	}
	return false
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
