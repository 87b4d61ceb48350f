package timeline

import "container/heap"

type busyLane struct {
	end   float64
	index int
}

// busyHeap orders occupied lanes by end time.
type busyHeap []busyLane

func (h busyHeap) Len() int { return len(h) }
func (h busyHeap) Less(i, j int) bool {
	if h[i].end != h[j].end {
		return h[i].end < h[j].end
	}
	return h[i].index < h[j].index
}
func (h busyHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *busyHeap) Push(x interface{}) { *h = append(*h, x.(busyLane)) }
func (h *busyHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// freeHeap orders released lanes by index.
type freeHeap []int

func (h freeHeap) Len() int            { return len(h) }
func (h freeHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h freeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *freeHeap) Push(x interface{}) { *h = append(*h, x.(int)) }
func (h *freeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// assignHeap releases every busy lane that ended strictly before the job
// start, then takes the lowest free lane index. Starts are visited in
// ascending order, so the free set equals the set first-fit would accept.
func assignHeap(ivs []Interval) []int {
	busy := &busyHeap{}
	free := &freeHeap{}
	next := 0

	out := make([]int, len(ivs))
	for i, iv := range ivs {
		for busy.Len() > 0 && (*busy)[0].end < iv.Start {
			heap.Push(free, heap.Pop(busy).(busyLane).index)
		}

		var lane int
		if free.Len() > 0 {
			lane = heap.Pop(free).(int)
		} else {
			lane = next
			next++
		}
		heap.Push(busy, busyLane{end: iv.End, index: lane})
		out[i] = lane
	}
	return out
}
