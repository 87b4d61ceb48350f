package index

import (
	"reflect"
	"testing"
	"time"

	"github.com/RoaringBitmap/roaring"

	"github.com/tracelane/tracelane/internal/model"
)

func testIndex() *JobIndex {
	now := time.Now()
	rows := []model.EventRow{
		{JobID: "a", Name: model.EventJobStart, Time: now},
		{JobID: "a", Name: model.EventHandlerStart, Time: now},
		{JobID: "a", Name: model.EventHandlerEnd, Time: now},
		{JobID: "b", Name: model.EventJobStart, Time: now},
		{JobID: "b", Name: model.EventHandlerStart, Time: now},
		{JobID: "c", Name: model.EventJobStart, Time: now},
		{JobID: "ghost", Name: model.EventJobEnd, Time: now},
	}
	descs := []model.JobDescriptor{
		{JobID: "a", NodeName: "n1", TaskType: "mProject"},
		{JobID: "b", NodeName: "n1", TaskType: "mDiff"},
		{JobID: "c", NodeName: "n2", TaskType: "mProject"},
	}
	return Build(rows, descs)
}

func TestJobIndex_SetOperations(t *testing.T) {
	idx := testIndex()

	if idx.Len() != 4 {
		t.Fatalf("Len = %d, want 4", idx.Len())
	}

	started := idx.WithEvent(model.EventHandlerStart)
	unfinished := roaring.And(started, idx.Missing(model.EventHandlerEnd))
	if got := idx.IDs(unfinished); !reflect.DeepEqual(got, []string{"b"}) {
		t.Errorf("started without handlerEnd = %v", got)
	}

	if got := idx.IDs(idx.Missing(model.EventJobStart)); !reflect.DeepEqual(got, []string{"ghost"}) {
		t.Errorf("Missing(jobStart) = %v", got)
	}
	if got := idx.IDs(idx.OnNode("n1")); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("OnNode(n1) = %v", got)
	}
	if got := idx.IDs(idx.OfType("mProject")); !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Errorf("OfType(mProject) = %v", got)
	}
	if got := idx.IDs(idx.Undescribed()); !reflect.DeepEqual(got, []string{"ghost"}) {
		t.Errorf("Undescribed = %v", got)
	}
	if idx.WithEvent("nope").GetCardinality() != 0 {
		t.Error("Expected empty bitmap for unknown event")
	}
}

func TestJobIndex_LookupsDoNotAlias(t *testing.T) {
	idx := testIndex()

	bm := idx.WithEvent(model.EventJobStart)
	bm.Clear()
	if idx.WithEvent(model.EventJobStart).GetCardinality() != 3 {
		t.Error("Mutating a lookup result changed the index")
	}
}

func TestJobIndex_EventCoverage(t *testing.T) {
	got := testIndex().EventCoverage()
	want := []Coverage{
		{model.EventHandlerEnd, 1},
		{model.EventHandlerStart, 2},
		{model.EventJobEnd, 1},
		{model.EventJobStart, 3},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("EventCoverage = %v, want %v", got, want)
	}
	if nodes := testIndex().Nodes(); !reflect.DeepEqual(nodes, []string{"n1", "n2"}) {
		t.Errorf("Nodes = %v", nodes)
	}
}

func TestJobIndex_Groups(t *testing.T) {
	idx := testIndex()

	if got := idx.IDs(idx.Placeable()); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("Placeable = %v", got)
	}

	tests := []struct {
		name string
		got  []Group
		want []Group
	}{
		{"nodes", idx.NodeGroups(), []Group{{"n1", 2, 1}, {"n2", 1, 0}}},
		{"task types", idx.TaskTypeGroups(), []Group{{"mDiff", 1, 0}, {"mProject", 2, 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !reflect.DeepEqual(tt.got, tt.want) {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}
