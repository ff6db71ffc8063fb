package nirs

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/guregu/null.v3"
)

// ErrEmptySeries is returned for a case whose recordings hold no samples.
var ErrEmptySeries = errors.New("empty series")

// LengthMismatchError reports raw and correction series of different length.
// Alignment is positional, so there is no safe way to continue.
type LengthMismatchError struct {
	CaseID     int64
	Raw        int
	Correction int
}

func (e *LengthMismatchError) Error() string {
	return fmt.Sprintf("case %d: data length mismatch: raw: %d, amend: %d", e.CaseID, e.Raw, e.Correction)
}

// Point is one reconciled sample. Value is null when the sample was manually
// discarded.
type Point struct {
	Time      time.Time
	Value     null.Float
	BadAuto   bool
	BadManual bool
}

// Anchors are sample positions: the first non-null value, the first marked
// sample and the last sample.
type Anchors struct {
	Start null.Int
	Mark  null.Int
	End   int
}

// Series is one case's reconciled recording.
type Series struct {
	Points  []Point
	Anchors Anchors
}

// Reconcile aligns raw samples with corrections by position, blanks the
// discarded samples and resolves the anchors.
func Reconcile(raw []Sample, corrections []Correction) (*Series, error) {
	if len(raw) != len(corrections) {
		return nil, &LengthMismatchError{Raw: len(raw), Correction: len(corrections)}
	}
	if len(raw) == 0 {
		return nil, ErrEmptySeries
	}

	s := &Series{
		Points:  make([]Point, len(raw)),
		Anchors: Anchors{End: len(raw) - 1},
	}
	for i, r := range raw {
		c := corrections[i]
		p := Point{
			Time:      r.Time,
			Value:     r.Value,
			BadAuto:   r.BadAuto,
			BadManual: c.Discard,
		}
		if c.Discard {
			p.Value = null.Float{}
		}
		if !s.Anchors.Start.Valid && p.Value.Valid {
			s.Anchors.Start = null.IntFrom(int64(i))
		}
		if !s.Anchors.Mark.Valid && c.Mark {
			s.Anchors.Mark = null.IntFrom(int64(i))
		}
		s.Points[i] = p
	}
	return s, nil
}

// AnchorTimes returns the timestamps at the anchor positions.
func (s *Series) AnchorTimes() (start, mark null.Time, end time.Time) {
	if s.Anchors.Start.Valid {
		start = null.TimeFrom(s.Points[s.Anchors.Start.Int64].Time)
	}
	if s.Anchors.Mark.Valid {
		mark = null.TimeFrom(s.Points[s.Anchors.Mark.Int64].Time)
	}
	end = s.Points[s.Anchors.End].Time
	return start, mark, end
}
