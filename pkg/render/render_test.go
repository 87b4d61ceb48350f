package render

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/tracelane/tracelane/internal/model"
	"github.com/tracelane/tracelane/pkg/timeline"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func ev(job, name string, sec float64) model.EventRow {
	return model.EventRow{JobID: job, Name: name, Time: base.Add(time.Duration(sec * float64(time.Second)))}
}

func job(id string, start, end float64) []model.EventRow {
	return []model.EventRow{
		ev(id, model.EventJobStart, start),
		ev(id, model.EventHandlerStart, start+0.1),
		ev(id, model.EventHandlerEnd, end-0.1),
		ev(id, model.EventJobEnd, end),
	}
}

func descriptor(id, node, task string) model.JobDescriptor {
	return model.JobDescriptor{
		JobID: id, NodeName: node, TaskType: task,
		WorkflowName: "montage", WorkflowSize: "2", WorkflowVersion: "1.0",
	}
}

func testResult(t *testing.T) *timeline.Result {
	t.Helper()
	trace := &model.Trace{Source: "test"}
	trace.Events = append(trace.Events, job("a", 0, 10)...)
	trace.Events = append(trace.Events, job("b", 5, 15)...)
	trace.Events = append(trace.Events, job("c", 2, 6.4)...)
	trace.Events = append(trace.Events, job("d", 1, 3)...)
	trace.Events = append(trace.Events, ev("e", model.EventHandlerStart, 4), ev("e", model.EventHandlerEnd, 5))
	trace.Descriptors = []model.JobDescriptor{
		descriptor("a", "worker-node-10", "mProject"),
		descriptor("b", "worker-node-10", "mDiff"),
		descriptor("c", "worker-node-2", "mProject"),
		descriptor("d", "worker-node-3", "mAdd"),
		descriptor("e", "worker-node-3", "mAdd"),
	}

	res, err := timeline.Analyze(context.Background(), trace, timeline.DefaultOptions())
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	return res
}

func TestLabel(t *testing.T) {
	tests := []struct {
		key  string
		full bool
		want string
	}{
		{"worker-node-10_1", false, "10_1"},
		{"worker-node-10_1", true, "worker-node-10_1"},
		{"local_0", false, "local_0"},
	}
	for _, tt := range tests {
		if got := Label(tt.key, tt.full); got != tt.want {
			t.Errorf("Label(%q, %v) = %q, want %q", tt.key, tt.full, got, tt.want)
		}
	}
}

func TestRows_NaturalOrderAndShading(t *testing.T) {
	rows := Rows(testResult(t), false)

	var keys []string
	var shaded []bool
	for _, r := range rows {
		keys = append(keys, r.Key)
		shaded = append(shaded, r.Shaded)
	}

	wantKeys := []string{"worker-node-2_0", "worker-node-3_0", "worker-node-10_0", "worker-node-10_1"}
	if !reflect.DeepEqual(keys, wantKeys) {
		t.Errorf("keys = %v, want %v", keys, wantKeys)
	}
	wantShade := []bool{true, false, true, true}
	if !reflect.DeepEqual(shaded, wantShade) {
		t.Errorf("shading = %v, want %v", shaded, wantShade)
	}
	if rows[3].Label != "10_1" {
		t.Errorf("label = %q", rows[3].Label)
	}
}

func TestAxisMax(t *testing.T) {
	if got := AxisMax(testResult(t)); got != 15 {
		t.Errorf("AxisMax = %v, want 15", got)
	}
}

func TestTicks(t *testing.T) {
	tests := []struct {
		max  float64
		want []float64
	}{
		{21, []float64{0, 5, 10, 15, 20}},
		{10, []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}},
		{0, []float64{0}},
		{1, []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1}},
	}
	for _, tt := range tests {
		got := Ticks(tt.max, 10)
		if len(got) != len(tt.want) {
			t.Errorf("Ticks(%v) = %v, want %v", tt.max, got, tt.want)
			continue
		}
		for i := range got {
			if diff := got[i] - tt.want[i]; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("Ticks(%v)[%d] = %v, want %v", tt.max, i, got[i], tt.want[i])
			}
		}
	}
}

func TestPalette(t *testing.T) {
	colors := Palette(4, 1, 1)
	if len(colors) != 4 {
		t.Fatalf("len = %d", len(colors))
	}
	if colors[0].Hex() != "#ff0000" {
		t.Errorf("first colour = %s, want red", colors[0].Hex())
	}
	h, _, _ := colors[3].Hsv()
	if h < 299 || h > 301 {
		t.Errorf("last hue = %v, want 300", h)
	}
	if len(Palette(0, 1, 1)) != 0 {
		t.Error("Expected empty palette")
	}
}

func TestLighten(t *testing.T) {
	c, _ := colorful.Hex("#1f77b4")
	if got := Lighten(c, 0).Hex(); got != "#ffffff" {
		t.Errorf("Lighten(c, 0) = %s, want white", got)
	}
	if got := Lighten(c, 1); got.DistanceRgb(c) > 0.01 {
		t.Errorf("Lighten(c, 1) = %s, want %s", got.Hex(), c.Hex())
	}
}

func TestRender(t *testing.T) {
	res := testResult(t)

	opts := DefaultOptions()
	opts.ShowActive = true
	out, err := RenderBytes(res, opts)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	svg := string(out)

	if !strings.HasPrefix(svg, "<?xml") || !strings.HasSuffix(strings.TrimSpace(svg), "</svg>") {
		t.Error("Output is not a complete SVG document")
	}
	if !strings.Contains(svg, "Workflow: montage") {
		t.Error("Missing title")
	}
	if n := strings.Count(svg, "<title>"); n != 4 {
		t.Errorf("Expected 4 bar tooltips (job e has no bar), got %d", n)
	}
	if !strings.Contains(svg, "<title>mDiff\nJob ID: b\nStart: 5.00s\nEnd: 15.00s</title>") {
		t.Error("Missing tooltip for job b")
	}
	if n := strings.Count(svg, `fill="gray"`); n != 3 {
		t.Errorf("Expected 3 shaded rows, got %d", n)
	}
	if !strings.Contains(svg, `fill="none" stroke="#1f77b4"`) {
		t.Error("Missing active-jobs curve")
	}
	fill := Lighten(activeLine, 0.25).Hex()
	if fill == activeLine.Hex() || !strings.Contains(svg, `<polygon points="`) || !strings.Contains(svg, `fill="`+fill+`"`) {
		t.Errorf("Missing lightened area %s under the active-jobs curve", fill)
	}
	for _, task := range res.TaskTypes {
		if !strings.Contains(svg, ">"+task+"</text>") {
			t.Errorf("Legend missing %s", task)
		}
	}

	opts.ShowActive = false
	plain, _ := RenderBytes(res, opts)
	if strings.Contains(string(plain), "<polyline") || strings.Contains(string(plain), "<polygon") {
		t.Error("Active-jobs curve drawn without ShowActive")
	}

	if FileName(res) != "montage-2-1.0.svg" {
		t.Errorf("FileName = %q", FileName(res))
	}
}
