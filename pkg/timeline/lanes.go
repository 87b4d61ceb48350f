package timeline

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/tracelane/tracelane/internal/model"
)

// Interval is the busy period of a job on its node.
type Interval struct {
	JobID string  `json:"job_id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// JobInterval derives the interval of a job. Start is handlerStart; end is
// handlerEnd when present, else jobEnd. ok is false if either bound is missing.
func JobInterval(jobID string, events EventMap) (iv Interval, ok bool) {
	start, ok := events[model.EventHandlerStart]
	if !ok {
		return Interval{}, false
	}
	end, ok := events[model.EventHandlerEnd]
	if !ok {
		end, ok = events[model.EventJobEnd]
		if !ok {
			return Interval{}, false
		}
	}
	return Interval{JobID: jobID, Start: start, End: end}, true
}

// Lane is a time-disjoint sequence of jobs on one node.
type Lane struct {
	Key   string     `json:"key"`
	Node  string     `json:"node"`
	Index int        `json:"index"`
	Jobs  []Interval `json:"jobs"`
}

// End returns the end of the last job in the lane.
func (l Lane) End() float64 {
	if len(l.Jobs) == 0 {
		return 0
	}
	return l.Jobs[len(l.Jobs)-1].End
}

// NodeLanes holds the lanes of one node and the jobs that could not be placed.
type NodeLanes struct {
	Node     string   `json:"node"`
	Lanes    []Lane   `json:"lanes"`
	Excluded []string `json:"excluded,omitempty"`
}

// LaneKey names lane i of node.
func LaneKey(node string, i int) string {
	return fmt.Sprintf("%s_%d", node, i)
}

// Placement selects the lane assignment strategy. Both strategies produce
// identical lanes.
type Placement int

const (
	PlacementFirstFit Placement = iota
	PlacementHeap
)

func (p Placement) String() string {
	switch p {
	case PlacementFirstFit:
		return "firstfit"
	case PlacementHeap:
		return "heap"
	default:
		return "unknown"
	}
}

// ParsePlacement parses a placement strategy name.
func ParsePlacement(s string) (Placement, error) {
	switch strings.ToLower(s) {
	case "", "firstfit", "first-fit", "linear":
		return PlacementFirstFit, nil
	case "heap":
		return PlacementHeap, nil
	default:
		return PlacementFirstFit, fmt.Errorf("unknown placement strategy %q (want firstfit or heap)", s)
	}
}

func sortIntervals(ivs []Interval) {
	sort.Slice(ivs, func(i, j int) bool {
		a, b := ivs[i], ivs[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.End != b.End {
			return a.End < b.End
		}
		return a.JobID < b.JobID
	})
}

// assignFirstFit scans lanes in creation order and takes the first one whose
// end is strictly before the job start.
func assignFirstFit(ivs []Interval) []int {
	var ends []float64
	out := make([]int, len(ivs))
	for i, iv := range ivs {
		lane := -1
		for l, end := range ends {
			if iv.Start > end {
				lane = l
				break
			}
		}
		if lane < 0 {
			lane = len(ends)
			ends = append(ends, iv.End)
		} else {
			ends[lane] = iv.End
		}
		out[i] = lane
	}
	return out
}

// PartitionNode packs the jobs of one node into lanes.
func PartitionNode(node string, jobs JobRecords, placement Placement) NodeLanes {
	nl := NodeLanes{Node: node}

	ivs := make([]Interval, 0, len(jobs))
	for _, id := range jobs.JobIDs() {
		iv, ok := JobInterval(id, jobs[id])
		if !ok {
			nl.Excluded = append(nl.Excluded, id)
			continue
		}
		ivs = append(ivs, iv)
	}
	sortIntervals(ivs)

	var assign []int
	switch placement {
	case PlacementHeap:
		assign = assignHeap(ivs)
	default:
		assign = assignFirstFit(ivs)
	}

	for i, lane := range assign {
		if lane == len(nl.Lanes) {
			nl.Lanes = append(nl.Lanes, Lane{Key: LaneKey(node, lane), Node: node, Index: lane})
		}
		nl.Lanes[lane].Jobs = append(nl.Lanes[lane].Jobs, ivs[i])
	}
	return nl
}

// Partition packs every node concurrently, with at most workers goroutines
// (workers <= 0 means one per CPU). Results are ordered by node name.
func Partition(ctx context.Context, nodes NodeJobs, placement Placement, workers int) ([]NodeLanes, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	names := nodes.Names()
	out := make([]NodeLanes, len(names))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out[i] = PartitionNode(name, nodes[name], placement)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// MaxOverlap returns the largest number of intervals sharing a common
// instant, counting touching endpoints as overlapping.
func MaxOverlap(ivs []Interval) int {
	type point struct {
		at    float64
		delta int
	}
	points := make([]point, 0, 2*len(ivs))
	for _, iv := range ivs {
		points = append(points, point{iv.Start, +1}, point{iv.End, -1})
	}
	sort.Slice(points, func(i, j int) bool {
		if points[i].at != points[j].at {
			return points[i].at < points[j].at
		}
		return points[i].delta > points[j].delta
	})

	cur, max := 0, 0
	for _, p := range points {
		cur += p.delta
		if cur > max {
			max = cur
		}
	}
	return max
}
