// Package model defines core data structures for tracelane.
package model

import "time"

// Event names the workflow engine reports for every job.
const (
	EventHandlerStart = "handlerStart"
	EventHandlerEnd   = "handlerEnd"
	EventJobStart     = "jobStart"
	EventJobEnd       = "jobEnd"
)

// ParameterEvent is the metrics parameter that carries lifecycle events.
const ParameterEvent = "event"

// EventRow is a single lifecycle event of a job.
// Rows arrive in log order, which is not assumed to be sorted by time.
type EventRow struct {
	// JobID identifies the job the event belongs to.
	JobID string

	// Name is the event name, e.g. handlerStart.
	Name string

	// Time is the absolute timestamp reported by the engine.
	Time time.Time
}

// JobDescriptor describes where and as what a job ran.
type JobDescriptor struct {
	JobID    string
	NodeName string

	// TaskType is the logical kind of work (the "name" field of the log).
	TaskType string

	// Workflow identity. Constant across one trace.
	WorkflowName    string
	WorkflowSize    string
	WorkflowVersion string
}

// Trace is a fully loaded execution trace.
type Trace struct {
	// Source is a human-readable location of the trace (directory or URL).
	Source string

	Events      []EventRow
	Descriptors []JobDescriptor

	// MetricRows counts all metric lines read, events or not.
	MetricRows int64

	// SkippedLines counts malformed lines that were ignored while loading.
	SkippedLines int64
}

// Earliest returns the earliest event timestamp, or the zero time when the
// trace has no events.
func (t *Trace) Earliest() time.Time {
	var origin time.Time
	for i := range t.Events {
		ts := t.Events[i].Time
		if ts.IsZero() {
			continue
		}
		if origin.IsZero() || ts.Before(origin) {
			origin = ts
		}
	}
	return origin
}

// DescriptorMap indexes descriptors by job id. Later descriptors for the
// same job replace earlier ones.
func (t *Trace) DescriptorMap() map[string]JobDescriptor {
	m := make(map[string]JobDescriptor, len(t.Descriptors))
	for _, d := range t.Descriptors {
		m[d.JobID] = d
	}
	return m
}
