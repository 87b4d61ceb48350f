package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/tracelane/tracelane/internal/model"
	"github.com/tracelane/tracelane/internal/pipe"
	"github.com/tracelane/tracelane/pkg/index"
	"github.com/tracelane/tracelane/pkg/lifecycle"
	"github.com/tracelane/tracelane/pkg/parser"
	"github.com/tracelane/tracelane/pkg/storage/s3"
	"github.com/tracelane/tracelane/pkg/timeline"
	"github.com/tracelane/tracelane/pkg/tui"
	"github.com/tracelane/tracelane/pkg/watch"
)

var (
	compressionFlag string
	watchInterval   time.Duration
	parallelWorkers int
	failFast        bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export lanes and activity as JSON, Parquet or XLSX",
	Long: `Export the lane assignment (lane key, node, lane index, job id, task,
start, end) and the activity samples without drawing the chart.

Examples:
  tracelane export -s ./logs/montage-0.25 --format parquet -o tables
  tracelane export -s ./logs/montage-0.25 --format xlsx --format json`,
	RunE: runExport,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Report event coverage and lane counts of a trace",
	Long: `Show how many jobs carry each lifecycle event, which jobs cannot be
placed on a lane (in total, per node and per task type) and how many lanes
every node needs.`,
	RunE: runInspect,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-render the chart whenever the trace changes",
	Long: `Render once, then watch the trace directory and render again after
metrics.jsonl or job_descriptions.jsonl change.

Examples:
  tracelane watch -s ./logs/running -o charts -a`,
	RunE: runWatch,
}

var batchCmd = &cobra.Command{
	Use:   "batch [trace-dir...]",
	Short: "Render many traces in parallel",
	Long: `Render every given trace directory. Glob patterns are expanded.

Examples:
  tracelane batch logs/* -o charts
  tracelane batch logs/montage-* -o charts --parallel 8 --fail-fast`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBatch,
}

func init() {
	exportCmd.Flags().StringArrayVar(&formatFlags, "format", nil, "Export format: json, parquet, xlsx (repeatable, default json)")
	exportCmd.Flags().StringVar(&compressionFlag, "compression", "", "Parquet compression (none, snappy, gzip, zstd, lz4)")

	inspectCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output report as JSON")

	watchCmd.Flags().DurationVar(&watchInterval, "interval", watch.DefaultDebounce, "Debounce interval for change detection")

	batchCmd.Flags().IntVarP(&parallelWorkers, "parallel", "p", runtime.NumCPU(), "Traces processed in parallel")
	batchCmd.Flags().BoolVar(&failFast, "fail-fast", false, "Stop on first error")
	batchCmd.Flags().StringArrayVar(&formatFlags, "format", nil, "Also export as json, parquet or xlsx (repeatable)")

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(batchCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx, cancel := lifecycle.SignalContext(cmd.Context())
	defer cancel()

	if len(cfg.Output.Formats) == 0 {
		cfg.Output.Formats = []string{"json"}
	}
	if cmd.Flags().Changed("compression") {
		cfg.Output.Compression = compressionFlag
	}

	pc, err := pipe.FromConfig(cfg)
	if err != nil {
		return err
	}
	pc.SkipChart = true
	out, err := pipe.New(pc).Run(ctx, sourceDir)
	report(out)
	return err
}

// InspectReport is the JSON form of the inspect command.
type InspectReport struct {
	Source        string             `json:"source"`
	Jobs          int                `json:"jobs"`
	SkippedLines  int64              `json:"skipped_lines"`
	Coverage      []index.Coverage   `json:"coverage"`
	Nodes         []index.Group      `json:"nodes"`
	TaskTypes     []index.Group      `json:"task_types"`
	MissingStart  []string           `json:"missing_handler_start"`
	MissingEnd    []string           `json:"missing_end"`
	Undescribed   []string           `json:"undescribed"`
	LanesPerNode  map[string]int     `json:"lanes_per_node,omitempty"`
	Warnings      []timeline.Warning `json:"warnings,omitempty"`
	AnalysisError string             `json:"analysis_error,omitempty"`
}

func runInspect(cmd *cobra.Command, args []string) error {
	ctx, cancel := lifecycle.SignalContext(cmd.Context())
	defer cancel()

	pc, err := pipe.FromConfig(cfg)
	if err != nil {
		return err
	}
	src, err := parser.ResolveSource(ctx, sourceDir, cfg.S3Config())
	if err != nil {
		return err
	}
	trace, err := parser.Load(ctx, src, pc.Engine)
	if err != nil {
		return err
	}

	idx := index.Build(trace.Events, trace.Descriptors)
	rep := InspectReport{
		Source:       trace.Source,
		Jobs:         idx.Len(),
		SkippedLines: trace.SkippedLines,
		Coverage:     idx.EventCoverage(),
		Nodes:        idx.NodeGroups(),
		TaskTypes:    idx.TaskTypeGroups(),
		MissingStart: idx.IDs(idx.Missing(model.EventHandlerStart)),
		Undescribed:  idx.IDs(idx.Undescribed()),
	}
	noEnd := idx.Missing(model.EventHandlerEnd)
	noEnd.And(idx.Missing(model.EventJobEnd))
	rep.MissingEnd = idx.IDs(noEnd)

	// A fatal analysis error is part of the report, not a failure of it
	res, aerr := timeline.Analyze(ctx, trace, pc.Analysis)
	if aerr != nil {
		rep.AnalysisError = aerr.Error()
	} else {
		rep.Warnings = res.Warnings
		rep.LanesPerNode = make(map[string]int, len(res.Nodes))
		for _, nl := range res.Nodes {
			rep.LanesPerNode[nl.Node] = len(nl.Lanes)
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}

	fmt.Printf("Source:  %s\n", rep.Source)
	fmt.Printf("Jobs:    %d\n", rep.Jobs)
	if rep.SkippedLines > 0 {
		fmt.Printf("Skipped: %d malformed lines\n", rep.SkippedLines)
	}
	tui.PrintCoverage(os.Stdout, idx, res)
	tui.PrintGroups(os.Stdout, "JOBS PER NODE", rep.Nodes)
	tui.PrintGroups(os.Stdout, "JOBS PER TASK TYPE", rep.TaskTypes)
	fmt.Println()
	printIDs("Missing handlerStart", rep.MissingStart)
	printIDs("Missing end event", rep.MissingEnd)
	printIDs("Without descriptor", rep.Undescribed)
	if aerr != nil {
		tui.PrintError(os.Stdout, aerr)
	} else {
		tui.PrintWarnings(os.Stdout, rep.Warnings)
	}
	return nil
}

func printIDs(label string, ids []string) {
	const limit = 10
	if len(ids) == 0 {
		return
	}
	shown := ids
	if len(shown) > limit {
		shown = shown[:limit]
	}
	fmt.Printf("%s (%d): %v", label, len(ids), shown)
	if len(ids) > limit {
		fmt.Print(" ...")
	}
	fmt.Println()
}

func runWatch(cmd *cobra.Command, args []string) error {
	if s3.IsS3URL(sourceDir) {
		return fmt.Errorf("watch needs a local trace directory, got %s", sourceDir)
	}

	ctx, cancel := lifecycle.SignalContext(cmd.Context())
	defer cancel()

	p, err := newPipeline()
	if err != nil {
		return err
	}

	w, err := watch.NewWatcher(sourceDir, watchInterval)
	if err != nil {
		return err
	}

	renders := 0
	render := func(dir string) error {
		renders++
		fmt.Printf("[%s] Rendering #%d... ", time.Now().Format("15:04:05"), renders)
		out, err := p.Run(ctx, dir)
		if err != nil {
			fmt.Println("failed")
			return err
		}
		fmt.Printf("done (%d lanes, %s)\n", out.Result.LaneCount(), out.Duration.Round(time.Millisecond))
		tui.PrintWarnings(os.Stderr, out.Result.Warnings)
		for _, f := range out.Files {
			tui.PrintSaved(os.Stdout, "Output", f)
		}
		return nil
	}
	w.OnChange = render
	w.OnError = func(path string, err error) {
		tui.PrintError(os.Stderr, err)
	}

	// An incomplete trace is expected while the workflow is still running
	if err := render(w.Dir()); err != nil {
		tui.PrintError(os.Stderr, err)
	}

	fmt.Printf("Watching %s (Ctrl+C to stop)\n", w.Dir())
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	// Expand glob patterns and collect trace directories
	var sources []string
	for _, pattern := range args {
		if s3.IsS3URL(pattern) {
			sources = append(sources, pattern)
			continue
		}
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return fmt.Errorf("invalid glob pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			fmt.Fprintf(os.Stderr, "Warning: no directories match pattern %q\n", pattern)
		}
		for _, m := range matches {
			if info, err := os.Stat(m); err == nil && info.IsDir() {
				sources = append(sources, m)
			}
		}
	}
	if len(sources) == 0 {
		return fmt.Errorf("no trace directories found")
	}

	ctx, cancel := lifecycle.SignalContext(cmd.Context())
	defer cancel()

	p, err := newPipeline()
	if err != nil {
		return err
	}

	fmt.Printf("Rendering %d traces with %d workers...\n\n", len(sources), parallelWorkers)
	bar := tui.ShowProgress(os.Stderr, int64(len(sources)), "rendering")
	start := time.Now()

	outcomes, err := p.Batch(ctx, sources, parallelWorkers, failFast, func(*pipe.Outcome) {
		bar.Add(1)
	})
	bar.Finish()

	fmt.Println()
	fmt.Printf("=== Batch Complete (%s) ===\n\n", time.Since(start).Round(time.Millisecond))
	for _, o := range outcomes {
		if o == nil {
			continue
		}
		if o.Err != nil {
			fmt.Printf("  ✗ %s: %v\n", o.Source, o.Err)
			continue
		}
		fmt.Printf("  ✓ %s: %d lanes, %d warnings\n", o.Source, o.Result.LaneCount(), len(o.Result.Warnings))
		for _, f := range o.Files {
			fmt.Printf("      %s\n", f)
		}
	}
	return err
}
