package timeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tracelane/tracelane/internal/model"
	"github.com/tracelane/tracelane/pkg/telemetry"
)

// Options configures an analysis run.
type Options struct {
	// StartEvent and EndEvent drive the activity sweep.
	StartEvent string
	EndEvent   string

	// Workers bounds concurrent node partitioning (0 = NumCPU).
	Workers int

	Placement Placement
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		StartEvent: model.EventJobStart,
		EndEvent:   model.EventJobEnd,
		Placement:  PlacementFirstFit,
	}
}

// Result is the immutable outcome of one analysis run.
type Result struct {
	RunID    string    `json:"run_id"`
	Source   string    `json:"source"`
	Workflow Workflow  `json:"workflow"`
	Origin   time.Time `json:"origin"`

	Jobs  JobRecords  `json:"jobs"`
	Nodes []NodeLanes `json:"nodes"`

	// Bars are the displayed spans (jobStart to jobEnd) keyed by job id.
	Bars map[string]Interval `json:"bars"`

	Activity  []Sample `json:"activity"`
	TaskTypes []string `json:"task_types"`

	Descriptors map[string]model.JobDescriptor `json:"-"`
	Warnings    []Warning                      `json:"warnings"`

	Elapsed time.Duration `json:"elapsed_ns"`
}

// LaneCount returns the total number of lanes across nodes.
func (r *Result) LaneCount() int {
	n := 0
	for _, nl := range r.Nodes {
		n += len(nl.Lanes)
	}
	return n
}

// Lanes returns every lane, grouped by node in node-name order.
func (r *Result) Lanes() []Lane {
	var out []Lane
	for _, nl := range r.Nodes {
		out = append(out, nl.Lanes...)
	}
	return out
}

// TaskType returns the task type of a job, or "" when unknown.
func (r *Result) TaskType(jobID string) string {
	return r.Descriptors[jobID].TaskType
}

// MaxOffset returns the largest event offset of the run.
func (r *Result) MaxOffset() float64 {
	return r.Jobs.MaxOffset()
}

// Peak returns the sample with the highest concurrency.
func (r *Result) Peak() Sample {
	return Peak(r.Activity)
}

// Analyze runs the full pipeline over a loaded trace: origin, normalization,
// workflow check, node assembly, lane partitioning, activity sweep and
// task-type ordering. Fatal input problems are returned as errors; everything
// else is reported in Result.Warnings.
func Analyze(ctx context.Context, trace *model.Trace, opts Options) (res *Result, err error) {
	started := time.Now()
	if opts.StartEvent == "" {
		opts.StartEvent = model.EventJobStart
	}
	if opts.EndEvent == "" {
		opts.EndEvent = model.EventJobEnd
	}

	runID := uuid.New().String()
	ctx, span := telemetry.StartSpan(ctx, "timeline.analyze",
		telemetry.Attr("run.id", runID),
		telemetry.Attr("trace.source", trace.Source),
		telemetry.Attr("trace.events", len(trace.Events)),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	origin, err := Origin(trace.Events)
	if err != nil {
		return nil, err
	}

	var warnings Warnings
	_, nspan := telemetry.StartSpan(ctx, "timeline.normalize")
	records, err := Normalize(trace.Events, origin, &warnings)
	telemetry.EndSpan(nspan, err)
	if err != nil {
		return nil, err
	}

	wf, err := ResolveWorkflow(trace.Descriptors)
	if err != nil {
		return nil, err
	}

	descs := trace.DescriptorMap()
	nodes, err := Assemble(records, descs)
	if err != nil {
		return nil, err
	}

	pctx, pspan := telemetry.StartSpan(ctx, "timeline.partition",
		telemetry.Attr("nodes", len(nodes)),
		telemetry.Attr("placement", opts.Placement.String()),
	)
	lanes, err := Partition(pctx, nodes, opts.Placement, opts.Workers)
	telemetry.EndSpan(pspan, err)
	if err != nil {
		return nil, err
	}
	for _, nl := range lanes {
		for _, id := range nl.Excluded {
			warnings.Add(WarnMissingInterval, id, "",
				"missing handlerStart or end event, excluded from lanes")
		}
	}

	bars := make(map[string]Interval, len(records))
	for _, id := range records.JobIDs() {
		ev := records[id]
		start, okStart := ev[model.EventJobStart]
		end, okEnd := ev[model.EventJobEnd]
		if !okStart || !okEnd {
			warnings.Add(WarnMissingBar, id, "", "missing jobStart or jobEnd, no bar drawn")
			continue
		}
		bars[id] = Interval{JobID: id, Start: start, End: end}
	}

	_, sspan := telemetry.StartSpan(ctx, "timeline.sweep")
	activity := Sweep(trace.Events, origin, opts.StartEvent, opts.EndEvent)
	sspan.End()

	res = &Result{
		RunID:       runID,
		Source:      trace.Source,
		Workflow:    wf,
		Origin:      origin,
		Jobs:        records,
		Nodes:       lanes,
		Bars:        bars,
		Activity:    activity,
		TaskTypes:   OrderTaskTypes(trace.Events, origin, descs),
		Descriptors: descs,
		Warnings:    warnings.List(),
		Elapsed:     time.Since(started),
	}
	span.SetAttributes(
		telemetry.Attr("jobs", len(records)),
		telemetry.Attr("lanes", res.LaneCount()),
		telemetry.Attr("warnings", len(res.Warnings)),
	)
	return res, nil
}
