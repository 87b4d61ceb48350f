// Package parser loads HyperFlow execution traces from local directories or
// object storage.
package parser

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tracelane/tracelane/internal/model"
	"github.com/tracelane/tracelane/pkg/errors"
	"github.com/tracelane/tracelane/pkg/storage/s3"
	"github.com/tracelane/tracelane/pkg/telemetry"
	"github.com/tracelane/tracelane/pkg/util"
)

// Trace file names inside a source directory.
const (
	MetricsFile     = "metrics.jsonl"
	DescriptorsFile = "job_descriptions.jsonl"
)

// Source provides the files of one trace.
type Source interface {
	// Open returns the named trace file, decompressed.
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// Local returns the directory when files live on the local filesystem.
	Local() (dir string, ok bool)

	String() string
}

// DirSource reads trace files from a local directory.
type DirSource struct {
	Dir string
}

// Open returns the named file, falling back to its .gz variant.
func (s DirSource) Open(_ context.Context, name string) (io.ReadCloser, error) {
	path, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	return util.OpenFile(path)
}

func (s DirSource) resolve(name string) (string, error) {
	path := filepath.Join(s.Dir, name)
	if util.FileExists(path) {
		return path, nil
	}
	if util.FileExists(path + ".gz") {
		return path + ".gz", nil
	}
	return "", errors.FileNotFound(path)
}

// Local returns the directory.
func (s DirSource) Local() (string, bool) {
	return s.Dir, true
}

func (s DirSource) String() string {
	return s.Dir
}

// ResolveSource maps a location to a Source: s3://bucket/prefix URLs use
// object storage, anything else is a local directory.
func ResolveSource(ctx context.Context, location string, s3cfg s3.Config) (Source, error) {
	if s3.IsS3URL(location) {
		client, err := s3.NewClient(ctx, s3cfg)
		if err != nil {
			return nil, err
		}
		return s3.NewSource(client, location)
	}

	info, err := os.Stat(location)
	if err != nil {
		return nil, errors.FileNotFound(location)
	}
	if !info.IsDir() {
		return nil, errors.New(errors.CodeInvalidFormat, "trace source must be a directory").
			WithContext("path", location)
	}
	return DirSource{Dir: location}, nil
}

// Engine selects how trace files are decoded.
type Engine int

const (
	EngineJSON Engine = iota
	EngineDuckDB
)

func (e Engine) String() string {
	switch e {
	case EngineJSON:
		return "json"
	case EngineDuckDB:
		return "duckdb"
	default:
		return "unknown"
	}
}

// ParseEngine parses an engine name.
func ParseEngine(s string) (Engine, error) {
	switch strings.ToLower(s) {
	case "", "json":
		return EngineJSON, nil
	case "duckdb":
		return EngineDuckDB, nil
	default:
		return EngineJSON, fmt.Errorf("unknown engine %q (want json or duckdb)", s)
	}
}

// Load reads both trace files of a source.
func Load(ctx context.Context, src Source, engine Engine) (trace *model.Trace, err error) {
	ctx, span := telemetry.StartSpan(ctx, "parser.load",
		telemetry.Attr("trace.source", src.String()),
		telemetry.Attr("engine", engine.String()),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	if engine == EngineDuckDB {
		dir, ok := src.Local()
		if !ok {
			return nil, fmt.Errorf("duckdb engine needs a local directory, got %s", src)
		}
		return loadDuckDB(ctx, DirSource{Dir: dir})
	}

	trace = &model.Trace{Source: src.String()}

	mr, err := src.Open(ctx, MetricsFile)
	if err != nil {
		return nil, err
	}
	events, mstats, err := DecodeMetrics(ctx, mr)
	mr.Close()
	if err != nil {
		return nil, err
	}

	dr, err := src.Open(ctx, DescriptorsFile)
	if err != nil {
		return nil, err
	}
	descs, dstats, err := DecodeDescriptors(ctx, dr)
	dr.Close()
	if err != nil {
		return nil, err
	}

	trace.Events = events
	trace.Descriptors = descs
	trace.MetricRows = mstats.Rows
	trace.SkippedLines = mstats.Skipped + dstats.Skipped
	return trace, nil
}

func loadDuckDB(ctx context.Context, src DirSource) (*model.Trace, error) {
	metricsPath, err := src.resolve(MetricsFile)
	if err != nil {
		return nil, err
	}
	descPath, err := src.resolve(DescriptorsFile)
	if err != nil {
		return nil, err
	}

	loader, err := NewDuckDBLoader()
	if err != nil {
		return nil, err
	}
	defer loader.Close()

	events, mstats, err := loader.Metrics(ctx, metricsPath)
	if err != nil {
		return nil, err
	}
	descs, dstats, err := loader.Descriptors(ctx, descPath)
	if err != nil {
		return nil, err
	}

	return &model.Trace{
		Source:       src.String(),
		Events:       events,
		Descriptors:  descs,
		MetricRows:   mstats.Rows,
		SkippedLines: mstats.Skipped + dstats.Skipped,
	}, nil
}
