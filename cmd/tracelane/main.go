// tracelane - lane charts from HyperFlow workflow execution traces.
// Reads metrics.jsonl and job_descriptions.jsonl and draws one row per
// execution lane of every node.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tracelane/tracelane/internal/pipe"
	"github.com/tracelane/tracelane/pkg/config"
	"github.com/tracelane/tracelane/pkg/export"
	"github.com/tracelane/tracelane/pkg/lifecycle"
	"github.com/tracelane/tracelane/pkg/telemetry"
	"github.com/tracelane/tracelane/pkg/tui"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// CLI flags
var (
	configFile    string
	verbose       bool
	sourceDir     string
	outputDir     string
	engineFlag    string
	placementFlag string
	workersFlag   int
	showActive    bool
	fullNames     bool
	formatFlags   []string
	uploadURL     string
	jsonOutput    bool

	// cfg is the merged configuration of the running command.
	cfg               *config.Config
	telemetryShutdown func(context.Context) error
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		if verbose {
			tui.PrintErrorStack(os.Stderr, err)
		} else {
			tui.PrintError(os.Stderr, err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tracelane",
	Short: "tracelane - execution lane charts for HyperFlow workflows",
	Long: `tracelane reads a HyperFlow trace directory (metrics.jsonl and
job_descriptions.jsonl, local or s3://bucket/prefix) and shows how the jobs
of every node were packed into parallel execution lanes.`,
	Version:           fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if telemetryShutdown != nil {
			return telemetryShutdown(context.Background())
		}
		return nil
	},
}

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render the lane chart of a trace as SVG",
	Long: `Render the lane chart of a trace directory as
{workflowName}-{size}-{version}.svg in the output directory.

Examples:
  tracelane render -s ./logs/montage-0.25
  tracelane render -s ./logs/montage-0.25 -o charts -a -f
  tracelane render -s s3://traces/montage-0.25 --upload s3://charts/montage
  tracelane render -s ./logs/montage-0.25 --format parquet --format xlsx`,
	RunE: runRender,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyse a trace and print the lane summary",
	Long: `Run the analysis without writing files. With --json the full
timeline document is printed to stdout.`,
	RunE: runAnalyze,
}

func init() {
	// Global flags
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "Config file (applied after the default locations)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	pf.StringVarP(&outputDir, "output", "o", "", "Output directory")
	pf.StringVar(&engineFlag, "engine", "", "Loader engine (json, duckdb)")
	pf.StringVar(&placementFlag, "placement", "", "Lane placement strategy (firstfit, heap)")
	pf.IntVar(&workersFlag, "workers", 0, "Nodes partitioned in parallel (0 = all CPUs)")

	// Source and chart flags
	for _, c := range []*cobra.Command{renderCmd, analyzeCmd, exportCmd, inspectCmd, watchCmd, serveCmd} {
		c.Flags().StringVarP(&sourceDir, "source", "s", "", "Trace directory or s3://bucket/prefix (required)")
		c.MarkFlagRequired("source")
	}
	for _, c := range []*cobra.Command{renderCmd, watchCmd, batchCmd, serveCmd} {
		c.Flags().BoolVarP(&showActive, "show-active-jobs", "a", false, "Add the active-jobs subplot")
		c.Flags().BoolVarP(&fullNames, "full-nodes-names", "f", false, "Label rows with full node names")
	}
	renderCmd.Flags().StringArrayVar(&formatFlags, "format", nil, "Also export as json, parquet or xlsx (repeatable)")
	renderCmd.Flags().StringVar(&uploadURL, "upload", "", "Copy written files to s3://bucket/prefix")
	analyzeCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the timeline document as JSON")

	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(analyzeCmd)
}

// setup loads the configuration, applies flags and starts telemetry.
func setup(cmd *cobra.Command, args []string) error {
	m := config.NewManager()
	if err := m.Load(configFile); err != nil {
		return err
	}
	cfg = m.Get()

	flags := cmd.Flags()
	if flags.Changed("output") {
		cfg.Output.Dir = outputDir
	}
	if flags.Changed("engine") {
		cfg.Analysis.Engine = engineFlag
	}
	if flags.Changed("placement") {
		cfg.Analysis.Placement = placementFlag
	}
	if flags.Changed("workers") {
		cfg.Analysis.Workers = workersFlag
	}
	if flags.Changed("show-active-jobs") {
		cfg.Chart.ShowActive = showActive
	}
	if flags.Changed("full-nodes-names") {
		cfg.Chart.FullNames = fullNames
	}
	if flags.Changed("format") {
		cfg.Output.Formats = formatFlags
	}
	if flags.Changed("upload") {
		cfg.Output.UploadURL = uploadURL
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if verbose {
		for _, p := range m.GetPaths() {
			fmt.Fprintf(os.Stderr, "Config:    %s\n", p)
		}
		fmt.Fprintf(os.Stderr, "Engine:    %s\n", cfg.Analysis.Engine)
		fmt.Fprintf(os.Stderr, "Placement: %s\n", cfg.Analysis.Placement)
		fmt.Fprintf(os.Stderr, "Output:    %s\n", cfg.Output.Dir)
	}

	shutdown, err := telemetry.Setup(cmd.Context(), cfg.Telemetry.Enabled, cfg.OTLPConfig())
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	telemetryShutdown = shutdown
	return nil
}

func newPipeline() (*pipe.Pipeline, error) {
	pc, err := pipe.FromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return pipe.New(pc), nil
}

// report prints warnings to stderr and the summary and files to stdout.
func report(out *pipe.Outcome) {
	if out.Result != nil {
		tui.PrintWarnings(os.Stderr, out.Result.Warnings)
		tui.PrintSummary(os.Stdout, out.Result)
	}
	for _, f := range out.Files {
		tui.PrintSaved(os.Stdout, "Output", f)
	}
	for _, u := range out.Uploaded {
		tui.PrintSaved(os.Stdout, "Upload", u)
	}
}

func runRender(cmd *cobra.Command, args []string) error {
	if verbose {
		fmt.Fprintf(os.Stderr, "Source:    %s\n", sourceDir)
	}

	ctx, cancel := lifecycle.SignalContext(cmd.Context())
	defer cancel()

	p, err := newPipeline()
	if err != nil {
		return err
	}
	out, err := p.Run(ctx, sourceDir)
	report(out)
	return err
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx, cancel := lifecycle.SignalContext(cmd.Context())
	defer cancel()

	p, err := newPipeline()
	if err != nil {
		return err
	}
	res, err := p.Analyze(ctx, sourceDir)
	if err != nil {
		return err
	}

	tui.PrintWarnings(os.Stderr, res.Warnings)
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(export.NewDocument(res))
	}
	tui.PrintSummary(os.Stdout, res)
	return nil
}
