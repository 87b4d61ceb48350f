package timeline

import (
	"fmt"
	"sync"
)

// WarningKind categorizes recoverable problems found during analysis.
type WarningKind int

const (
	WarnDuplicateEvent WarningKind = iota
	WarnDuplicateHandlerStart
	WarnMissingInterval
	WarnMissingBar
)

func (k WarningKind) String() string {
	switch k {
	case WarnDuplicateEvent:
		return "duplicate_event"
	case WarnDuplicateHandlerStart:
		return "duplicate_handler_start"
	case WarnMissingInterval:
		return "missing_interval"
	case WarnMissingBar:
		return "missing_bar"
	default:
		return "unknown"
	}
}

// Warning is a single recoverable problem tied to a job.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	JobID   string      `json:"job_id"`
	Event   string      `json:"event,omitempty"`
	Message string      `json:"message"`
}

func (w Warning) String() string {
	if w.Event != "" {
		return fmt.Sprintf("job %s, event %s: %s", w.JobID, w.Event, w.Message)
	}
	return fmt.Sprintf("job %s: %s", w.JobID, w.Message)
}

// Warnings collects warnings for one run. Safe for concurrent use.
type Warnings struct {
	mu    sync.Mutex
	items []Warning
}

// Add records a warning.
func (w *Warnings) Add(kind WarningKind, jobID, event, message string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.items = append(w.items, Warning{Kind: kind, JobID: jobID, Event: event, Message: message})
}

// List returns a copy of the collected warnings in insertion order.
func (w *Warnings) List() []Warning {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Warning, len(w.items))
	copy(out, w.items)
	return out
}

// Len returns the number of collected warnings.
func (w *Warnings) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.items)
}

// Count returns how many warnings of the given kind were collected.
func (w *Warnings) Count(kind WarningKind) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, it := range w.items {
		if it.Kind == kind {
			n++
		}
	}
	return n
}
