package main

import (
	"os"
	"path/filepath"
	"testing"
)

const testMetrics = `{"jobId":"1","parameter":"event","value":"jobStart","time":"2024-03-01T12:00:00Z"}
{"jobId":"1","parameter":"event","value":"handlerStart","time":"2024-03-01T12:00:01Z"}
{"jobId":"1","parameter":"event","value":"jobEnd","time":"2024-03-01T12:00:10Z"}
{"jobId":"2","parameter":"event","value":"jobStart","time":"2024-03-01T12:00:02Z"}
{"jobId":"2","parameter":"event","value":"handlerStart","time":"2024-03-01T12:00:05Z"}
{"jobId":"2","parameter":"event","value":"jobEnd","time":"2024-03-01T12:00:15Z"}
`

const testDescriptors = `{"jobId":"1","nodeName":"node-1","name":"mProject","workflowName":"montage","size":"0.25","version":"1"}
{"jobId":"2","nodeName":"node-1","name":"mDiff","workflowName":"montage","size":"0.25","version":"1"}
`

func writeTestTrace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "metrics.jsonl"), []byte(testMetrics), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "job_descriptions.jsonl"), []byte(testDescriptors), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestRenderCommand(t *testing.T) {
	src := writeTestTrace(t)
	out := filepath.Join(t.TempDir(), "charts")

	rootCmd.SetArgs([]string{"render", "-s", src, "-o", out, "-a", "--format", "json"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("render failed: %v", err)
	}

	for _, name := range []string{"montage-0.25-1.svg", "montage-0.25-1.json"} {
		if _, err := os.Stat(filepath.Join(out, name)); err != nil {
			t.Errorf("%s not written: %v", name, err)
		}
	}
	if !cfg.Chart.ShowActive {
		t.Error("-a did not enable the active-jobs subplot")
	}
}

func TestInspectCommand(t *testing.T) {
	src := writeTestTrace(t)
	for _, args := range [][]string{
		{"inspect", "-s", src},
		{"inspect", "-s", src, "--json"},
	} {
		rootCmd.SetArgs(args)
		if err := rootCmd.Execute(); err != nil {
			t.Errorf("%v failed: %v", args, err)
		}
	}
}

func TestRenderCommand_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing source dir", []string{"render", "-s", filepath.Join(t.TempDir(), "nope")}},
		{"bad placement", []string{"analyze", "-s", writeTestTrace(t), "--placement", "random"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rootCmd.SetArgs(tt.args)
			if err := rootCmd.Execute(); err == nil {
				t.Error("Expected error")
			}
		})
	}
}
