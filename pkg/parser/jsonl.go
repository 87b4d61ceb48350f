package parser

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/tracelane/tracelane/internal/model"
	"github.com/tracelane/tracelane/pkg/errors"
)

const maxLineSize = 16 * 1024 * 1024

// Stats counts what a decoder saw.
type Stats struct {
	Lines   int64
	Rows    int64
	Skipped int64
}

// flexString accepts a JSON string, number or bool and keeps its text.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(b)
	return nil
}

type metricLine struct {
	JobID     flexString      `json:"jobId"`
	Parameter string          `json:"parameter"`
	Value     json.RawMessage `json:"value"`
	Time      json.RawMessage `json:"time"`
}

type descriptorLine struct {
	JobID        flexString `json:"jobId"`
	NodeName     flexString `json:"nodeName"`
	Name         flexString `json:"name"`
	WorkflowName flexString `json:"workflowName"`
	Size         flexString `json:"size"`
	Version      flexString `json:"version"`
}

// scanLines calls fn for every non-blank line with its 1-based number.
func scanLines(ctx context.Context, r io.Reader, fn func(line []byte, n int64) error) (int64, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var n int64
	for scanner.Scan() {
		n++
		if n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return n, errors.ContextCanceled("decode")
			}
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(line, n); err != nil {
			return n, err
		}
	}
	if err := scanner.Err(); err != nil {
		return n, errors.Wrap(err, errors.CodeInvalidFormat, "read jsonl")
	}
	return n, nil
}

// DecodeMetrics reads metrics JSONL and returns the lifecycle event rows.
// Rows whose parameter is not "event" are dropped. Malformed lines are
// skipped and counted. An event row with an unusable time is fatal.
func DecodeMetrics(ctx context.Context, r io.Reader) ([]model.EventRow, Stats, error) {
	var (
		stats  Stats
		events []model.EventRow
	)

	lines, err := scanLines(ctx, r, func(line []byte, n int64) error {
		var m metricLine
		if err := json.Unmarshal(line, &m); err != nil {
			stats.Skipped++
			return nil
		}
		stats.Rows++
		if m.Parameter != model.ParameterEvent {
			return nil
		}

		var name string
		if err := json.Unmarshal(m.Value, &name); err != nil || name == "" || m.JobID == "" {
			stats.Skipped++
			return nil
		}

		ts, err := parseRawTime(m.Time)
		if err != nil {
			return errors.InvalidTimestamp(strings.TrimSpace(string(m.Time)), n)
		}
		events = append(events, model.EventRow{JobID: string(m.JobID), Name: name, Time: ts})
		return nil
	})
	stats.Lines = lines
	if err != nil {
		return nil, stats, err
	}
	return events, stats, nil
}

// DecodeDescriptors reads job descriptor JSONL. Lines without a jobId are
// skipped and counted.
func DecodeDescriptors(ctx context.Context, r io.Reader) ([]model.JobDescriptor, Stats, error) {
	var (
		stats Stats
		descs []model.JobDescriptor
	)

	lines, err := scanLines(ctx, r, func(line []byte, _ int64) error {
		var d descriptorLine
		if err := json.Unmarshal(line, &d); err != nil || d.JobID == "" {
			stats.Skipped++
			return nil
		}
		stats.Rows++
		descs = append(descs, model.JobDescriptor{
			JobID:           string(d.JobID),
			NodeName:        string(d.NodeName),
			TaskType:        string(d.Name),
			WorkflowName:    string(d.WorkflowName),
			WorkflowSize:    string(d.Size),
			WorkflowVersion: string(d.Version),
		})
		return nil
	})
	stats.Lines = lines
	if err != nil {
		return nil, stats, err
	}
	return descs, stats, nil
}
