package nirs

import (
	"math"
	"time"
)

// Quality summarises the signal of one reconciled series.
type Quality struct {
	Samples   int     `json:"samples"`
	Valid     int     `json:"valid"`
	BadAuto   int     `json:"bad_auto"`
	BadManual int     `json:"bad_manual"`
	MeanRSO2  float64 `json:"mean_rso2"`
	MinRSO2   float64 `json:"min_rso2"`
	MaxRSO2   float64 `json:"max_rso2"`
	// DurationSeconds spans the first to the last sample.
	DurationSeconds float64 `json:"duration_s"`
	// Gaps counts steps between consecutive samples longer than one second,
	// typically the seams of a multi-part recording.
	Gaps int `json:"gaps"`
	// Overlaps counts steps that go back in time or repeat a timestamp.
	Overlaps int `json:"overlaps"`
}

// ValidFraction is the share of samples carrying a value.
func (q Quality) ValidFraction() float64 {
	if q.Samples == 0 {
		return 0
	}
	return float64(q.Valid) / float64(q.Samples)
}

// Summarize computes the quality summary of a series.
func Summarize(points []Point) Quality {
	q := Quality{Samples: len(points)}
	if len(points) == 0 {
		return q
	}

	values := make([]float64, 0, len(points))
	for i, p := range points {
		if p.BadAuto {
			q.BadAuto++
		}
		if p.BadManual {
			q.BadManual++
		}
		if p.Value.Valid && isFinite(p.Value.Float64) {
			values = append(values, p.Value.Float64)
		}
		if i > 0 {
			switch step := p.Time.Sub(points[i-1].Time); {
			case step > time.Second:
				q.Gaps++
			case step <= 0:
				q.Overlaps++
			}
		}
	}
	q.Valid = len(values)
	q.MeanRSO2 = average(values)
	q.MinRSO2 = minValue(values)
	q.MaxRSO2 = maxValue(values)
	q.DurationSeconds = points[len(points)-1].Time.Sub(points[0].Time).Seconds()
	return q
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}

func maxValue(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	max := values[0]
	for _, v := range values[1:] {
		if v > max {
			max = v
		}
	}
	return max
}

func minValue(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	min := values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
	}
	return min
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
