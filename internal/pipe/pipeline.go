// Package pipe runs the source -> analysis -> output flow for one or many
// trace sources.
package pipe

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tracelane/tracelane/pkg/config"
	"github.com/tracelane/tracelane/pkg/errors"
	"github.com/tracelane/tracelane/pkg/export"
	"github.com/tracelane/tracelane/pkg/parser"
	"github.com/tracelane/tracelane/pkg/render"
	"github.com/tracelane/tracelane/pkg/storage/s3"
	"github.com/tracelane/tracelane/pkg/telemetry"
	"github.com/tracelane/tracelane/pkg/timeline"
)

// Config holds pipeline configuration.
type Config struct {
	Engine   parser.Engine
	Analysis timeline.Options
	Chart    render.Options

	// OutputDir receives the chart and exports.
	OutputDir string

	// Formats are written next to the chart.
	Formats     []export.Format
	Compression string

	// SkipChart disables the SVG, e.g. for export-only runs.
	SkipChart bool

	// UploadURL, when set, is an s3://bucket/prefix the written files are
	// copied to.
	UploadURL string
	S3        s3.Config
}

// FromConfig converts the loaded configuration.
func FromConfig(c *config.Config) (Config, error) {
	engine, err := parser.ParseEngine(c.Analysis.Engine)
	if err != nil {
		return Config{}, err
	}
	opts, err := c.AnalysisOptions()
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Engine:      engine,
		Analysis:    opts,
		Chart:       c.ChartOptions(),
		OutputDir:   c.Output.Dir,
		Compression: c.Output.Compression,
		UploadURL:   c.Output.UploadURL,
		S3:          c.S3Config(),
	}
	for _, name := range c.Output.Formats {
		f, err := export.ParseFormat(name)
		if err != nil {
			return Config{}, err
		}
		cfg.Formats = append(cfg.Formats, f)
	}
	return cfg, nil
}

// Uploader stores an object. *s3.Client satisfies it.
type Uploader interface {
	Put(ctx context.Context, bucket, key, contentType string, data []byte) error
}

// Pipeline orchestrates the Load -> Analyze -> Write flow.
type Pipeline struct {
	cfg Config

	uploadOnce sync.Once
	uploader   Uploader
	uploadErr  error

	// Statistics (atomic for lock-free access)
	runs   atomic.Int64
	failed atomic.Int64
}

// New creates a pipeline.
func New(cfg Config) *Pipeline {
	if cfg.OutputDir == "" {
		cfg.OutputDir = "."
	}
	return &Pipeline{cfg: cfg}
}

// WithUploader replaces the S3 client used for uploads.
func (p *Pipeline) WithUploader(u Uploader) *Pipeline {
	p.uploadOnce.Do(func() {})
	p.uploader = u
	return p
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Stats returns the number of runs and failed runs so far.
func (p *Pipeline) Stats() (runs, failed int64) {
	return p.runs.Load(), p.failed.Load()
}

// Outcome is the result of processing one source.
type Outcome struct {
	Source   string
	Result   *timeline.Result
	Files    []string
	Uploaded []string
	Duration time.Duration
	Err      error
}

// Analyze loads the trace at location and analyses it.
func (p *Pipeline) Analyze(ctx context.Context, location string) (*timeline.Result, error) {
	src, err := parser.ResolveSource(ctx, location, p.cfg.S3)
	if err != nil {
		return nil, err
	}
	trace, err := parser.Load(ctx, src, p.cfg.Engine)
	if err != nil {
		return nil, err
	}
	return timeline.Analyze(ctx, trace, p.cfg.Analysis)
}

// Run analyses location and writes the chart, exports and uploads.
func (p *Pipeline) Run(ctx context.Context, location string) (out *Outcome, err error) {
	start := time.Now()
	out = &Outcome{Source: location}
	p.runs.Add(1)
	defer func() {
		out.Duration = time.Since(start)
		out.Err = err
		if err != nil {
			p.failed.Add(1)
		}
	}()

	res, err := p.Analyze(ctx, location)
	if err != nil {
		return out, err
	}
	out.Result = res

	files, err := p.Write(ctx, res)
	out.Files = files
	if err != nil {
		return out, err
	}

	out.Uploaded, err = p.upload(ctx, files)
	return out, err
}

// Write renders and exports res into the output directory.
func (p *Pipeline) Write(ctx context.Context, res *timeline.Result) (files []string, err error) {
	_, span := telemetry.StartSpan(ctx, "pipe.write",
		telemetry.Attr("run.id", res.RunID),
		telemetry.Attr("output.dir", p.cfg.OutputDir),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	if err := os.MkdirAll(p.cfg.OutputDir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.CodeWriteFailed, "create output directory").WithContext("path", p.cfg.OutputDir)
	}

	if !p.cfg.SkipChart {
		path := filepath.Join(p.cfg.OutputDir, render.FileName(res))
		if err := writeChart(path, res, p.cfg.Chart); err != nil {
			return nil, err
		}
		files = append(files, path)
	}

	for _, f := range p.cfg.Formats {
		written, err := export.WriteFiles(p.cfg.OutputDir, res, f, p.cfg.Compression)
		if err != nil {
			return files, err
		}
		files = append(files, written...)
	}
	return files, nil
}

func writeChart(path string, res *timeline.Result, opts render.Options) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "create chart file").WithContext("path", path)
	}
	if err := render.Render(f, res, opts); err != nil {
		f.Close()
		return errors.Wrap(err, errors.CodeRenderFailed, "render chart").WithContext("path", path)
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "close chart file").WithContext("path", path)
	}
	return nil
}

func (p *Pipeline) client(ctx context.Context) (Uploader, error) {
	p.uploadOnce.Do(func() {
		p.uploader, p.uploadErr = s3.NewClient(ctx, p.cfg.S3)
	})
	return p.uploader, p.uploadErr
}

// upload copies files to UploadURL and returns their s3:// locations.
func (p *Pipeline) upload(ctx context.Context, files []string) ([]string, error) {
	if p.cfg.UploadURL == "" || len(files) == 0 {
		return nil, nil
	}
	bucket, prefix, err := s3.ParseURL(p.cfg.UploadURL)
	if err != nil {
		return nil, err
	}
	client, err := p.client(ctx)
	if err != nil {
		return nil, err
	}

	var uploaded []string
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return uploaded, errors.Wrap(err, errors.CodeFileNotFound, "read output for upload").WithContext("path", path)
		}
		key := s3.JoinKey(prefix, filepath.Base(path))
		if err := client.Put(ctx, bucket, key, contentType(path), data); err != nil {
			return uploaded, err
		}
		uploaded = append(uploaded, fmt.Sprintf("s3://%s/%s", bucket, key))
	}
	return uploaded, nil
}

func contentType(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// Batch runs many sources with at most workers in parallel. Outcomes are
// returned in input order. Unless failFast is set every source is
// attempted; the returned error then wraps every per-source failure.
func (p *Pipeline) Batch(ctx context.Context, locations []string, workers int, failFast bool, onDone func(*Outcome)) ([]*Outcome, error) {
	if workers <= 0 {
		workers = 1
	}
	outcomes := make([]*Outcome, len(locations))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var mu sync.Mutex
	for i, loc := range locations {
		i, loc := i, loc
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				outcomes[i] = &Outcome{Source: loc, Err: err}
				return nil
			}
			out, err := p.Run(gctx, loc)
			outcomes[i] = out
			if onDone != nil {
				mu.Lock()
				onDone(out)
				mu.Unlock()
			}
			if err != nil && failFast {
				return fmt.Errorf("%s: %w", loc, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return outcomes, err
	}

	var failed errors.MultiError
	for _, o := range outcomes {
		if o.Err != nil {
			failed.Add(fmt.Errorf("%s: %w", o.Source, o.Err))
		}
	}
	if failed.HasErrors() {
		return outcomes, fmt.Errorf("%d of %d sources failed: %w", len(failed.Errors), len(locations), failed.Combined())
	}
	return outcomes, nil
}
