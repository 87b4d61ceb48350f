// Package index provides bitmap indexes over the jobs of a trace.
package index

import (
	"sort"

	"github.com/RoaringBitmap/roaring"

	"github.com/tracelane/tracelane/internal/model"
)

// JobIndex maps jobs to dense ordinals and keeps one roaring bitmap of
// ordinals per event name, node and task type. Set operations on the
// bitmaps answer coverage questions such as "which jobs have a handlerStart
// but no handlerEnd".
type JobIndex struct {
	ids     []string
	ordinal map[string]uint32

	events    map[string]*roaring.Bitmap
	nodes     map[string]*roaring.Bitmap
	taskTypes map[string]*roaring.Bitmap
}

// Build indexes every job seen in the event rows or the descriptors.
func Build(rows []model.EventRow, descs []model.JobDescriptor) *JobIndex {
	seen := make(map[string]struct{})
	for _, r := range rows {
		seen[r.JobID] = struct{}{}
	}
	for _, d := range descs {
		seen[d.JobID] = struct{}{}
	}

	idx := &JobIndex{
		ids:       make([]string, 0, len(seen)),
		ordinal:   make(map[string]uint32, len(seen)),
		events:    make(map[string]*roaring.Bitmap),
		nodes:     make(map[string]*roaring.Bitmap),
		taskTypes: make(map[string]*roaring.Bitmap),
	}
	for id := range seen {
		idx.ids = append(idx.ids, id)
	}
	sort.Strings(idx.ids)
	for i, id := range idx.ids {
		idx.ordinal[id] = uint32(i)
	}

	for _, r := range rows {
		add(idx.events, r.Name, idx.ordinal[r.JobID])
	}
	for _, d := range descs {
		ord := idx.ordinal[d.JobID]
		add(idx.nodes, d.NodeName, ord)
		add(idx.taskTypes, d.TaskType, ord)
	}
	return idx
}

func add(m map[string]*roaring.Bitmap, key string, ord uint32) {
	bm, ok := m[key]
	if !ok {
		bm = roaring.New()
		m[key] = bm
	}
	bm.Add(ord)
}

// Len returns the number of indexed jobs.
func (idx *JobIndex) Len() int {
	return len(idx.ids)
}

// All returns a bitmap of every job.
func (idx *JobIndex) All() *roaring.Bitmap {
	bm := roaring.New()
	bm.AddRange(0, uint64(len(idx.ids)))
	return bm
}

func lookup(m map[string]*roaring.Bitmap, key string) *roaring.Bitmap {
	if bm, ok := m[key]; ok {
		return bm.Clone()
	}
	return roaring.New()
}

// WithEvent returns the jobs that reported the event at least once.
func (idx *JobIndex) WithEvent(event string) *roaring.Bitmap {
	return lookup(idx.events, event)
}

// OnNode returns the jobs that ran on node.
func (idx *JobIndex) OnNode(node string) *roaring.Bitmap {
	return lookup(idx.nodes, node)
}

// OfType returns the jobs of a task type.
func (idx *JobIndex) OfType(taskType string) *roaring.Bitmap {
	return lookup(idx.taskTypes, taskType)
}

// Missing returns the jobs that never reported the event.
func (idx *JobIndex) Missing(event string) *roaring.Bitmap {
	return roaring.AndNot(idx.All(), lookup(idx.events, event))
}

// Undescribed returns the jobs with events but no descriptor.
func (idx *JobIndex) Undescribed() *roaring.Bitmap {
	described := roaring.New()
	for _, bm := range idx.nodes {
		described.Or(bm)
	}
	return roaring.AndNot(idx.All(), described)
}

// IDs converts a bitmap of ordinals back to job ids in ascending order.
func (idx *JobIndex) IDs(bm *roaring.Bitmap) []string {
	out := make([]string, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		ord := it.Next()
		if int(ord) < len(idx.ids) {
			out = append(out, idx.ids[ord])
		}
	}
	return out
}

// Coverage is the number of jobs that reported an event.
type Coverage struct {
	Event string `json:"event"`
	Jobs  uint64 `json:"jobs"`
}

// EventCoverage returns per-event job counts ordered by event name.
func (idx *JobIndex) EventCoverage() []Coverage {
	out := make([]Coverage, 0, len(idx.events))
	for name, bm := range idx.events {
		out = append(out, Coverage{Event: name, Jobs: bm.GetCardinality()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Event < out[j].Event })
	return out
}

// Nodes returns the indexed node names in ascending order.
func (idx *JobIndex) Nodes() []string {
	return keys(idx.nodes)
}

// TaskTypes returns the indexed task types in ascending order.
func (idx *JobIndex) TaskTypes() []string {
	return keys(idx.taskTypes)
}

func keys(m map[string]*roaring.Bitmap) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Placeable returns the jobs that have a handlerStart and either a
// handlerEnd or a jobEnd, i.e. the jobs that can be put on a lane.
func (idx *JobIndex) Placeable() *roaring.Bitmap {
	ends := roaring.Or(idx.WithEvent(model.EventHandlerEnd), idx.WithEvent(model.EventJobEnd))
	return roaring.And(idx.WithEvent(model.EventHandlerStart), ends)
}

// Group is the job coverage of one node or task type.
type Group struct {
	Name      string `json:"name"`
	Jobs      uint64 `json:"jobs"`
	Placeable uint64 `json:"placeable"`
}

// NodeGroups returns per-node coverage ordered by node name.
func (idx *JobIndex) NodeGroups() []Group {
	return idx.groups(idx.Nodes(), idx.OnNode)
}

// TaskTypeGroups returns per-task-type coverage ordered by type name.
func (idx *JobIndex) TaskTypeGroups() []Group {
	return idx.groups(idx.TaskTypes(), idx.OfType)
}

func (idx *JobIndex) groups(names []string, members func(string) *roaring.Bitmap) []Group {
	placeable := idx.Placeable()
	out := make([]Group, 0, len(names))
	for _, name := range names {
		bm := members(name)
		out = append(out, Group{
			Name:      name,
			Jobs:      bm.GetCardinality(),
			Placeable: bm.AndCardinality(placeable),
		})
	}
	return out
}
