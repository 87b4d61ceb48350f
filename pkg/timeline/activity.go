package timeline

import (
	"sort"
	"time"

	"github.com/tracelane/tracelane/internal/model"
)

// Sample is one step of the activity function: Active jobs from Offset on.
type Sample struct {
	Offset float64 `json:"offset"`
	Active int     `json:"active"`
}

// Sweep counts concurrently active jobs over the raw rows. Each startEvent
// adds one and each endEvent removes one at its offset. Deltas at the same
// offset collapse into one sample. The result starts with a (0, 0) anchor.
func Sweep(rows []model.EventRow, origin time.Time, startEvent, endEvent string) []Sample {
	deltas := make(map[float64]int)
	for _, r := range rows {
		switch r.Name {
		case startEvent:
			deltas[Offset(r.Time, origin)]++
		case endEvent:
			deltas[Offset(r.Time, origin)]--
		}
	}

	offsets := make([]float64, 0, len(deltas))
	for off := range deltas {
		offsets = append(offsets, off)
	}
	sort.Float64s(offsets)

	samples := make([]Sample, 0, len(offsets)+1)
	samples = append(samples, Sample{Offset: 0, Active: 0})
	active := 0
	for _, off := range offsets {
		active += deltas[off]
		samples = append(samples, Sample{Offset: off, Active: active})
	}
	return samples
}

// Peak returns the first sample with the highest active count.
func Peak(samples []Sample) Sample {
	var peak Sample
	for i, s := range samples {
		if i == 0 || s.Active > peak.Active {
			peak = s
		}
	}
	return peak
}
