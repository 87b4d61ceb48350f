package render

import (
	"math"
	"sort"
	"strings"

	"github.com/maruel/natural"

	"github.com/tracelane/tracelane/internal/model"
	"github.com/tracelane/tracelane/pkg/timeline"
)

// Row is one lane as drawn: a label, its node and the jobs placed in it.
type Row struct {
	Key    string
	Node   string
	Label  string
	Shaded bool
	Jobs   []string
}

// Label returns the y-axis label for a lane key: the full key, or the part
// after the last '-'.
func Label(key string, full bool) string {
	if full {
		return key
	}
	if i := strings.LastIndex(key, "-"); i >= 0 {
		return key[i+1:]
	}
	return key
}

// Rows orders all lanes by natural sort of their keys and shades every
// other physical node.
func Rows(res *timeline.Result, fullNames bool) []Row {
	lanes := res.Lanes()
	sort.SliceStable(lanes, func(i, j int) bool {
		return natural.Less(lanes[i].Key, lanes[j].Key)
	})

	rows := make([]Row, 0, len(lanes))
	lastNode := ""
	shade := false
	for i, l := range lanes {
		if i == 0 || l.Node != lastNode {
			shade = !shade
			lastNode = l.Node
		}
		jobs := make([]string, len(l.Jobs))
		for k, iv := range l.Jobs {
			jobs[k] = iv.JobID
		}
		rows = append(rows, Row{
			Key:    l.Key,
			Node:   l.Node,
			Label:  Label(l.Key, fullNames),
			Shaded: shade,
			Jobs:   jobs,
		})
	}
	return rows
}

var axisEvents = []string{
	model.EventHandlerStart,
	model.EventJobStart,
	model.EventJobEnd,
	model.EventHandlerEnd,
}

// AxisMax is the x-axis limit: the latest lifecycle event of any placed
// job, rounded up to whole seconds.
func AxisMax(res *timeline.Result) float64 {
	var max float64
	for _, l := range res.Lanes() {
		for _, iv := range l.Jobs {
			events := res.Jobs[iv.JobID]
			for _, name := range axisEvents {
				if off, ok := events[name]; ok && off > max {
					max = off
				}
			}
		}
	}
	return math.Ceil(max)
}

// Ticks returns evenly spaced tick positions from 0 to max with a round step.
func Ticks(max float64, target int) []float64 {
	if max <= 0 || target <= 0 {
		return []float64{0}
	}
	step := niceStep(max / float64(target))
	var ticks []float64
	for v := 0.0; v <= max+step*1e-9; v += step {
		ticks = append(ticks, math.Round(v/step)*step)
	}
	return ticks
}

func niceStep(raw float64) float64 {
	exp := math.Pow(10, math.Floor(math.Log10(raw)))
	for _, m := range []float64{1, 2, 5, 10} {
		if raw <= m*exp {
			return m * exp
		}
	}
	return 10 * exp
}
