package timeline

import (
	"sort"
	"strings"

	"github.com/tracelane/tracelane/internal/model"
	"github.com/tracelane/tracelane/pkg/errors"
)

// NodeJobs groups job records by the node they ran on.
type NodeJobs map[string]JobRecords

// Assemble groups normalized records by node. Every job must have a
// descriptor; the first unknown job (by id) is a fatal error.
func Assemble(records JobRecords, descs map[string]model.JobDescriptor) (NodeJobs, error) {
	nodes := make(NodeJobs)
	for _, id := range records.JobIDs() {
		d, ok := descs[id]
		if !ok {
			return nil, errors.UnknownJob(id, eventNames(records[id]))
		}
		jobs, ok := nodes[d.NodeName]
		if !ok {
			jobs = make(JobRecords)
			nodes[d.NodeName] = jobs
		}
		jobs[id] = records[id]
	}
	return nodes, nil
}

// Names returns node names in ascending order.
func (n NodeJobs) Names() []string {
	names := make([]string, 0, len(n))
	for name := range n {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func eventNames(events EventMap) string {
	names := make([]string, 0, len(events))
	for name := range events {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

// Workflow identifies the workflow run a trace belongs to.
type Workflow struct {
	Name    string `json:"name"`
	Size    string `json:"size"`
	Version string `json:"version"`
}

// Stem is the file name stem used for charts: name-size-version.
func (w Workflow) Stem() string {
	return w.Name + "-" + w.Size + "-" + w.Version
}

// ResolveWorkflow checks that workflow name, size and version are constant
// across all descriptors.
func ResolveWorkflow(descs []model.JobDescriptor) (Workflow, error) {
	fields := []struct {
		key string
		get func(model.JobDescriptor) string
		set func(*Workflow, string)
	}{
		{"workflowName", func(d model.JobDescriptor) string { return d.WorkflowName }, func(w *Workflow, v string) { w.Name = v }},
		{"size", func(d model.JobDescriptor) string { return d.WorkflowSize }, func(w *Workflow, v string) { w.Size = v }},
		{"version", func(d model.JobDescriptor) string { return d.WorkflowVersion }, func(w *Workflow, v string) { w.Version = v }},
	}

	var wf Workflow
	for _, f := range fields {
		seen := make(map[string]struct{})
		for _, d := range descs {
			seen[f.get(d)] = struct{}{}
		}
		if len(seen) > 1 {
			values := make([]string, 0, len(seen))
			for v := range seen {
				values = append(values, v)
			}
			sort.Strings(values)
			return Workflow{}, errors.InconsistentWorkflow(f.key, values)
		}
		for v := range seen {
			f.set(&wf, v)
		}
	}
	return wf, nil
}
