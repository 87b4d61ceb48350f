// Package timeline turns a workflow execution trace into per-job timing
// records, per-node display lanes and an activity step function.
package timeline

import (
	"math"
	"sort"
	"time"

	"github.com/tracelane/tracelane/internal/model"
	"github.com/tracelane/tracelane/pkg/errors"
)

// EventMap maps an event name to its offset in seconds from the time origin.
type EventMap map[string]float64

// JobRecords maps a job id to its normalized events.
type JobRecords map[string]EventMap

const (
	msgDuplicate             = "duplicate event, ignoring second occurrence"
	msgDuplicateHandlerStart = "second handlerStart, keeping earlier"
)

// duplicateRule decides which offset survives when an event is seen twice
// for the same job.
type duplicateRule func(stored, incoming float64) (keep float64, kind WarningKind, msg string)

// An earlier handlerStart replaces the stored one, so the kept value does
// not depend on row order. Do not turn this into first-wins.
var duplicateRules = map[string]duplicateRule{
	model.EventHandlerStart: keepEarliest,
}

func keepFirst(stored, _ float64) (float64, WarningKind, string) {
	return stored, WarnDuplicateEvent, msgDuplicate
}

func keepEarliest(stored, incoming float64) (float64, WarningKind, string) {
	if incoming == stored {
		return stored, WarnDuplicateEvent, msgDuplicate
	}
	return math.Min(stored, incoming), WarnDuplicateHandlerStart, msgDuplicateHandlerStart
}

func ruleFor(event string) duplicateRule {
	if r, ok := duplicateRules[event]; ok {
		return r
	}
	return keepFirst
}

// Origin returns the earliest event timestamp of the whole trace.
func Origin(rows []model.EventRow) (time.Time, error) {
	trace := model.Trace{Events: rows}
	origin := trace.Earliest()
	if origin.IsZero() {
		return time.Time{}, errors.EmptyLog("events")
	}
	return origin, nil
}

// Offset returns t relative to origin in seconds.
func Offset(t, origin time.Time) float64 {
	return t.Sub(origin).Seconds()
}

// Normalize folds raw rows into one event map per job. Rows may arrive in
// any order; duplicates are resolved by the per-event rule and reported to w.
func Normalize(rows []model.EventRow, origin time.Time, w *Warnings) (JobRecords, error) {
	if len(rows) == 0 || origin.IsZero() {
		return nil, errors.EmptyLog("events")
	}

	records := make(JobRecords)
	for _, r := range rows {
		off := Offset(r.Time, origin)

		events, ok := records[r.JobID]
		if !ok {
			events = make(EventMap)
			records[r.JobID] = events
		}

		stored, seen := events[r.Name]
		if !seen {
			events[r.Name] = off
			continue
		}

		keep, kind, msg := ruleFor(r.Name)(stored, off)
		events[r.Name] = keep
		if w != nil {
			w.Add(kind, r.JobID, r.Name, msg)
		}
	}
	return records, nil
}

// JobIDs returns the job ids in ascending order.
func (jr JobRecords) JobIDs() []string {
	ids := make([]string, 0, len(jr))
	for id := range jr {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Rows converts the records back to event rows anchored at origin, ordered
// by job id then offset.
func (jr JobRecords) Rows(origin time.Time) []model.EventRow {
	var rows []model.EventRow
	for _, id := range jr.JobIDs() {
		events := jr[id]
		names := make([]string, 0, len(events))
		for name := range events {
			names = append(names, name)
		}
		sort.Slice(names, func(i, j int) bool {
			if events[names[i]] != events[names[j]] {
				return events[names[i]] < events[names[j]]
			}
			return names[i] < names[j]
		})
		for _, name := range names {
			d := time.Duration(math.Round(events[name] * float64(time.Second)))
			rows = append(rows, model.EventRow{JobID: id, Name: name, Time: origin.Add(d)})
		}
	}
	return rows
}

// MaxOffset returns the largest offset of any event.
func (jr JobRecords) MaxOffset() float64 {
	var max float64
	for _, events := range jr {
		for _, off := range events {
			if off > max {
				max = off
			}
		}
	}
	return max
}
