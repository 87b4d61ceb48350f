package parser

import (
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tracelane/tracelane/pkg/errors"
	"github.com/tracelane/tracelane/pkg/storage/s3"
)

const metricsFixture = `{"jobId":"1-1","parameter":"event","value":"jobStart","time":"2024-03-01T12:00:00.000Z","name":"mProject"}
{"jobId":"1-1","parameter":"cpu","value":{"user":12},"time":"2024-03-01T12:00:00.500Z"}
{"jobId":"1-1","parameter":"event","value":"handlerStart","time":"2024-03-01T12:00:01.250Z"}
not json at all

{"jobId":"1-1","parameter":"event","value":"jobEnd","time":1709294405000}
{"jobId":"1-2","parameter":"event","value":"jobStart","time":"2024-03-01 12:00:02"}
{"parameter":"event","value":"jobStart","time":"2024-03-01T12:00:02Z"}
`

const descriptorsFixture = `{"jobId":"1-1","nodeName":"worker-a","name":"mProject","workflowName":"montage","size":0.25,"version":"1.0.0"}
{"jobId":"1-2","nodeName":"worker-b","name":"mDiff","workflowName":"montage","size":0.25,"version":"1.0.0"}
{"nodeName":"worker-b"}
`

func TestParseTime(t *testing.T) {
	want := time.Date(2024, 3, 1, 12, 0, 1, 250000000, time.UTC)
	tests := []struct {
		in string
		ok bool
	}{
		{"2024-03-01T12:00:01.250Z", true},
		{"2024-03-01T13:00:01.25+01:00", true},
		{"2024-03-01T12:00:01.250", true},
		{"2024-03-01 12:00:01.25", true},
		{"1709294401250", true},
		{"yesterday", false},
		{"", false},
	}

	for _, tt := range tests {
		got, err := ParseTime(tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("ParseTime(%q) error = %v", tt.in, err)
			continue
		}
		if tt.ok && !got.Equal(want) {
			t.Errorf("ParseTime(%q) = %v, want %v", tt.in, got, want)
		}
	}
}

func TestDecodeMetrics(t *testing.T) {
	events, stats, err := DecodeMetrics(context.Background(), strings.NewReader(metricsFixture))
	if err != nil {
		t.Fatalf("DecodeMetrics failed: %v", err)
	}

	if len(events) != 4 {
		t.Fatalf("Expected 4 events, got %d: %+v", len(events), events)
	}
	if events[1].Name != "handlerStart" || events[1].JobID != "1-1" {
		t.Errorf("Unexpected event %+v", events[1])
	}
	if !events[2].Time.Equal(time.Date(2024, 3, 1, 12, 0, 5, 0, time.UTC)) {
		t.Errorf("Epoch millis parsed as %v", events[2].Time)
	}
	if stats.Lines != 8 || stats.Rows != 6 || stats.Skipped != 2 {
		t.Errorf("Stats = %+v", stats)
	}
}

func TestDecodeMetrics_BadTimestampIsFatal(t *testing.T) {
	input := `{"jobId":"1","parameter":"event","value":"jobStart","time":"soon"}` + "\n"
	_, _, err := DecodeMetrics(context.Background(), strings.NewReader(input))
	if !errors.IsCode(err, errors.CodeInvalidTimestamp) {
		t.Errorf("Expected E105, got %v", err)
	}

	// Non-event rows may carry anything in time.
	input = `{"jobId":"1","parameter":"cpu","value":1,"time":"soon"}` + "\n"
	if _, _, err := DecodeMetrics(context.Background(), strings.NewReader(input)); err != nil {
		t.Errorf("Unexpected error for non-event row: %v", err)
	}
}

func TestDecodeDescriptors(t *testing.T) {
	descs, stats, err := DecodeDescriptors(context.Background(), strings.NewReader(descriptorsFixture))
	if err != nil {
		t.Fatalf("DecodeDescriptors failed: %v", err)
	}
	if len(descs) != 2 || stats.Skipped != 1 {
		t.Fatalf("descs = %d, stats = %+v", len(descs), stats)
	}
	d := descs[1]
	if d.NodeName != "worker-b" || d.TaskType != "mDiff" || d.WorkflowSize != "0.25" || d.WorkflowVersion != "1.0.0" {
		t.Errorf("Unexpected descriptor %+v", d)
	}
}

func writeTrace(t *testing.T, gzipMetrics bool) string {
	t.Helper()
	dir := t.TempDir()

	if gzipMetrics {
		f, err := os.Create(filepath.Join(dir, MetricsFile+".gz"))
		if err != nil {
			t.Fatal(err)
		}
		gz := gzip.NewWriter(f)
		gz.Write([]byte(metricsFixture))
		gz.Close()
		f.Close()
	} else if err := os.WriteFile(filepath.Join(dir, MetricsFile), []byte(metricsFixture), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, DescriptorsFile), []byte(descriptorsFixture), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoad_Dir(t *testing.T) {
	for _, gz := range []bool{false, true} {
		dir := writeTrace(t, gz)

		trace, err := Load(context.Background(), DirSource{Dir: dir}, EngineJSON)
		if err != nil {
			t.Fatalf("Load(gzip=%v) failed: %v", gz, err)
		}
		if len(trace.Events) != 4 || len(trace.Descriptors) != 2 {
			t.Errorf("gzip=%v: events=%d descriptors=%d", gz, len(trace.Events), len(trace.Descriptors))
		}
		if trace.SkippedLines != 3 || trace.MetricRows != 6 {
			t.Errorf("gzip=%v: skipped=%d rows=%d", gz, trace.SkippedLines, trace.MetricRows)
		}
		if trace.Source != dir {
			t.Errorf("Source = %q", trace.Source)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(context.Background(), DirSource{Dir: t.TempDir()}, EngineJSON)
	if !errors.IsCode(err, errors.CodeFileNotFound) {
		t.Errorf("Expected E101, got %v", err)
	}
}

func TestResolveSource(t *testing.T) {
	dir := writeTrace(t, false)

	src, err := ResolveSource(context.Background(), dir, s3.DefaultConfig("us-east-1"))
	if err != nil {
		t.Fatalf("ResolveSource failed: %v", err)
	}
	if d, ok := src.Local(); !ok || d != dir {
		t.Errorf("Local = %q, %v", d, ok)
	}

	if _, err := ResolveSource(context.Background(), filepath.Join(dir, MetricsFile), s3.DefaultConfig("us-east-1")); err == nil {
		t.Error("Expected error for file path")
	}
	if _, err := ResolveSource(context.Background(), filepath.Join(dir, "nope"), s3.DefaultConfig("us-east-1")); !errors.IsCode(err, errors.CodeFileNotFound) {
		t.Errorf("Expected E101, got %v", err)
	}
}

func TestParseEngine(t *testing.T) {
	if e, err := ParseEngine("DuckDB"); err != nil || e != EngineDuckDB {
		t.Errorf("ParseEngine(DuckDB) = %v, %v", e, err)
	}
	if _, err := ParseEngine("sqlite"); err == nil {
		t.Error("Expected error for unknown engine")
	}
}
