package pipe

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/tracelane/tracelane/pkg/config"
	"github.com/tracelane/tracelane/pkg/errors"
	"github.com/tracelane/tracelane/pkg/export"
	"github.com/tracelane/tracelane/pkg/parser"
	"github.com/tracelane/tracelane/pkg/render"
	"github.com/tracelane/tracelane/pkg/timeline"
)

const metrics = `{"jobId":"1","parameter":"event","value":"jobStart","time":"2024-03-01T12:00:00Z"}
{"jobId":"1","parameter":"event","value":"handlerStart","time":"2024-03-01T12:00:01Z"}
{"jobId":"1","parameter":"event","value":"jobEnd","time":"2024-03-01T12:00:10Z"}
{"jobId":"2","parameter":"event","value":"jobStart","time":"2024-03-01T12:00:02Z"}
{"jobId":"2","parameter":"event","value":"handlerStart","time":"2024-03-01T12:00:05Z"}
{"jobId":"2","parameter":"event","value":"jobEnd","time":"2024-03-01T12:00:15Z"}
`

const descriptors = `{"jobId":"1","nodeName":"node-1","name":"mProject","workflowName":"montage","size":"0.25","version":"1"}
{"jobId":"2","nodeName":"node-1","name":"mDiff","workflowName":"montage","size":"0.25","version":"1"}
`

// writeTrace creates a trace directory and returns its path.
func writeTrace(t *testing.T, root, name string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, parser.MetricsFile), []byte(metrics), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, parser.DescriptorsFile), []byte(descriptors), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func testConfig(out string) Config {
	return Config{
		Engine:    parser.EngineJSON,
		Analysis:  timeline.DefaultOptions(),
		Chart:     render.DefaultOptions(),
		OutputDir: out,
	}
}

type fakeUploader struct {
	mu   sync.Mutex
	keys map[string]string // key -> content type
}

func (f *fakeUploader) Put(_ context.Context, bucket, key, contentType string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keys == nil {
		f.keys = make(map[string]string)
	}
	f.keys[bucket+"/"+key] = contentType
	return nil
}

func TestFromConfig(t *testing.T) {
	c := config.Default()
	c.Analysis.Engine = "duckdb"
	c.Analysis.Placement = "heap"
	c.Output.Formats = []string{"json", "parquet"}

	cfg, err := FromConfig(c)
	if err != nil {
		t.Fatalf("FromConfig failed: %v", err)
	}
	if cfg.Engine != parser.EngineDuckDB || cfg.Analysis.Placement != timeline.PlacementHeap {
		t.Errorf("Unexpected config %+v", cfg)
	}
	if len(cfg.Formats) != 2 || cfg.Formats[1] != export.FormatParquet {
		t.Errorf("Formats = %v", cfg.Formats)
	}

	c.Output.Formats = []string{"csv"}
	if _, err := FromConfig(c); err == nil {
		t.Error("Expected error for unknown format")
	}
}

func TestRun_WritesChartAndExports(t *testing.T) {
	root := t.TempDir()
	src := writeTrace(t, root, "run1")
	out := filepath.Join(root, "out")

	cfg := testConfig(out)
	cfg.Formats = []export.Format{export.FormatJSON}
	cfg.UploadURL = "s3://charts/montage"
	up := &fakeUploader{}
	p := New(cfg).WithUploader(up)

	o, err := p.Run(context.Background(), src)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if o.Result.LaneCount() != 2 {
		t.Errorf("LaneCount = %d, want 2", o.Result.LaneCount())
	}

	wantFiles := []string{
		filepath.Join(out, "montage-0.25-1.svg"),
		filepath.Join(out, "montage-0.25-1.json"),
	}
	if len(o.Files) != len(wantFiles) {
		t.Fatalf("Files = %v", o.Files)
	}
	for i, f := range wantFiles {
		if o.Files[i] != f {
			t.Errorf("file %d = %s, want %s", i, o.Files[i], f)
		}
	}

	svg, _ := os.ReadFile(wantFiles[0])
	if !strings.Contains(string(svg), "Workflow: montage") {
		t.Error("Chart missing title")
	}

	if ct := up.keys["charts/montage/montage-0.25-1.svg"]; ct != "image/svg+xml" {
		t.Errorf("svg upload content type = %q (uploads %v)", ct, up.keys)
	}
	if len(o.Uploaded) != 2 || o.Uploaded[0] != "s3://charts/montage/montage-0.25-1.svg" {
		t.Errorf("Uploaded = %v", o.Uploaded)
	}
}

func TestRun_SkipChart(t *testing.T) {
	root := t.TempDir()
	src := writeTrace(t, root, "run1")

	cfg := testConfig(filepath.Join(root, "out"))
	cfg.SkipChart = true
	cfg.Formats = []export.Format{export.FormatXLSX}

	o, err := New(cfg).Run(context.Background(), src)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(o.Files) != 1 || !strings.HasSuffix(o.Files[0], ".xlsx") {
		t.Errorf("Files = %v", o.Files)
	}
}

func TestRun_MissingSource(t *testing.T) {
	p := New(testConfig(t.TempDir()))
	o, err := p.Run(context.Background(), filepath.Join(t.TempDir(), "nope"))
	if err == nil {
		t.Fatal("Expected error")
	}
	if !errors.IsCode(err, errors.CodeFileNotFound) {
		t.Errorf("Expected %s, got %v", errors.CodeFileNotFound, err)
	}
	if o.Err == nil || o.Result != nil {
		t.Errorf("Unexpected outcome %+v", o)
	}
	if runs, failed := p.Stats(); runs != 1 || failed != 1 {
		t.Errorf("Stats = %d, %d", runs, failed)
	}
}

func TestBatch(t *testing.T) {
	root := t.TempDir()
	good1 := writeTrace(t, root, "a")
	good2 := writeTrace(t, root, "b")
	bad := filepath.Join(root, "missing")

	p := New(testConfig(filepath.Join(root, "out")))

	var done int
	outcomes, err := p.Batch(context.Background(), []string{good1, bad, good2}, 2, false, func(*Outcome) { done++ })
	if err == nil || !strings.Contains(err.Error(), "1 of 3") {
		t.Errorf("Batch error = %v, want 1 of 3 failed", err)
	}
	if done != 3 || len(outcomes) != 3 {
		t.Fatalf("done = %d, outcomes = %d", done, len(outcomes))
	}
	if outcomes[0].Source != good1 || outcomes[1].Err == nil || outcomes[2].Err != nil {
		t.Errorf("Outcomes out of order or wrong: %+v %+v %+v", outcomes[0], outcomes[1], outcomes[2])
	}

	if !errors.IsCode(err, errors.CodeFileNotFound) || !strings.Contains(err.Error(), bad) {
		t.Errorf("Batch error does not carry the failed source: %v", err)
	}

	bad2 := filepath.Join(root, "missing2")
	_, err = p.Batch(context.Background(), []string{bad, good1, bad2}, 2, false, nil)
	var multi *errors.MultiError
	if !stderrors.As(err, &multi) || len(multi.Errors) != 2 {
		t.Fatalf("Expected both failures collected, got %v", err)
	}
	if !strings.Contains(multi.Errors[0].Error(), bad) || !strings.Contains(multi.Errors[1].Error(), bad2) {
		t.Errorf("Failures out of input order: %v", multi.Errors)
	}

	if _, err := p.Batch(context.Background(), []string{good1, good2}, 0, true, nil); err != nil {
		t.Errorf("Batch of good sources failed: %v", err)
	}
}
