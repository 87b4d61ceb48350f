package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/tracelane/tracelane/pkg/lifecycle"
	"github.com/tracelane/tracelane/pkg/server"
	"github.com/tracelane/tracelane/pkg/storage/s3"
	"github.com/tracelane/tracelane/pkg/timeline"
	"github.com/tracelane/tracelane/pkg/tui"
	"github.com/tracelane/tracelane/pkg/watch"
)

var (
	servePort  int
	serveHost  string
	serveOpen  bool
	serveWatch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chart and timeline of a trace over HTTP",
	Long: `Start a local HTTP server for one trace.

Routes:
  /chart.svg       lane chart (?active=true, ?full=true, ?refresh=true)
  /api/timeline    timeline document as JSON
  /api/refresh     POST to re-run the analysis
  /api/events      server-sent events on every refresh
  /api/health      liveness
  /metrics         Prometheus metrics

Examples:
  tracelane serve -s ./logs/montage-0.25
  tracelane serve -s ./logs/running --watch --port 3000`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (default from config)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (default from config)")
	serveCmd.Flags().BoolVar(&serveOpen, "open", false, "Open the chart in a browser")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "Re-run the analysis when the trace changes")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serveHost
	}

	ctx, cancel := lifecycle.SignalContext(cmd.Context())
	defer cancel()

	p, err := newPipeline()
	if err != nil {
		return err
	}
	srv := server.New(func(ctx context.Context) (*timeline.Result, error) {
		return p.Analyze(ctx, sourceDir)
	}, cfg.ChartOptions(), nil)

	// Fail early on a broken trace
	res, err := srv.Refresh(ctx)
	if err != nil {
		return err
	}
	tui.PrintWarnings(os.Stderr, res.Warnings)

	if serveWatch {
		if s3.IsS3URL(sourceDir) {
			return fmt.Errorf("--watch needs a local trace directory, got %s", sourceDir)
		}
		w, err := watch.NewWatcher(sourceDir, watch.DefaultDebounce)
		if err != nil {
			return err
		}
		w.OnChange = func(string) error {
			_, err := srv.Refresh(ctx)
			return err
		}
		w.OnError = func(path string, err error) {
			tui.PrintError(os.Stderr, err)
		}
		go w.Run(ctx)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	url := fmt.Sprintf("http://%s/chart.svg", addr)
	if cfg.Server.Host == "0.0.0.0" || cfg.Server.Host == "" {
		url = fmt.Sprintf("http://localhost:%d/chart.svg", cfg.Server.Port)
	}

	fmt.Println()
	fmt.Println("  ╭─────────────────────────────────────────────╮")
	fmt.Println("  │              TRACELANE SERVER               │")
	fmt.Println("  ├─────────────────────────────────────────────┤")
	fmt.Printf("  │  Chart:  %-34s │\n", url)
	fmt.Printf("  │  Trace:  %-34s │\n", res.Workflow.Stem())
	fmt.Println("  │                                             │")
	fmt.Println("  │  Press Ctrl+C to stop                       │")
	fmt.Println("  ╰─────────────────────────────────────────────╯")
	fmt.Println()

	if serveOpen {
		go func() {
			time.Sleep(500 * time.Millisecond)
			openBrowser(url)
		}()
	}

	if err := srv.ListenAndServe(ctx, addr); err != nil {
		return err
	}
	fmt.Println("\nShut down.")
	return nil
}

// openBrowser opens URL in the default browser.
func openBrowser(url string) {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return
	}

	cmd.Start()
}
