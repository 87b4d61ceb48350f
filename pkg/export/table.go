// Package export writes analysis results as Parquet, XLSX or JSON.
package export

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tracelane/tracelane/pkg/timeline"
)

// Format is an export file format.
type Format int

const (
	FormatJSON Format = iota
	FormatParquet
	FormatXLSX
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatParquet:
		return "parquet"
	case FormatXLSX:
		return "xlsx"
	default:
		return "unknown"
	}
}

// ParseFormat parses a format name.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "parquet", "pq":
		return FormatParquet, nil
	case "xlsx", "excel":
		return FormatXLSX, nil
	default:
		return FormatJSON, fmt.Errorf("unknown export format %q (want json, parquet or xlsx)", s)
	}
}

// LaneRow is one job placed in a lane, flattened for tabular output.
type LaneRow struct {
	LaneKey   string   `json:"lane"`
	Node      string   `json:"node"`
	LaneIndex int      `json:"lane_index"`
	JobID     string   `json:"job_id"`
	TaskType  string   `json:"task_type"`
	Start     float64  `json:"start"`
	End       float64  `json:"end"`
	JobStart  *float64 `json:"job_start,omitempty"`
	JobEnd    *float64 `json:"job_end,omitempty"`
}

// LaneRows flattens the lanes of a result in node, lane, start order.
func LaneRows(res *timeline.Result) []LaneRow {
	var rows []LaneRow
	for _, lane := range res.Lanes() {
		for _, iv := range lane.Jobs {
			row := LaneRow{
				LaneKey:   lane.Key,
				Node:      lane.Node,
				LaneIndex: lane.Index,
				JobID:     iv.JobID,
				TaskType:  res.TaskType(iv.JobID),
				Start:     iv.Start,
				End:       iv.End,
			}
			if bar, ok := res.Bars[iv.JobID]; ok {
				start, end := bar.Start, bar.End
				row.JobStart, row.JobEnd = &start, &end
			}
			rows = append(rows, row)
		}
	}
	return rows
}

// Path returns the output file for a result in dir. suffix distinguishes
// tables when a format needs more than one file.
func Path(dir string, res *timeline.Result, suffix string, f Format) string {
	name := res.Workflow.Stem()
	if suffix != "" {
		name += "-" + suffix
	}
	return filepath.Join(dir, name+"."+f.String())
}

// WriteFiles exports res into dir in the given format and returns the files
// written.
func WriteFiles(dir string, res *timeline.Result, f Format, codec string) ([]string, error) {
	switch f {
	case FormatParquet:
		lanes := Path(dir, res, "lanes", f)
		activity := Path(dir, res, "activity", f)
		if err := WriteParquetFiles(lanes, activity, res, codec); err != nil {
			return nil, err
		}
		return []string{lanes, activity}, nil
	case FormatXLSX:
		path := Path(dir, res, "", f)
		if err := WriteXLSXFile(path, res); err != nil {
			return nil, err
		}
		return []string{path}, nil
	default:
		path := Path(dir, res, "", FormatJSON)
		if err := WriteJSONFile(path, res); err != nil {
			return nil, err
		}
		return []string{path}, nil
	}
}
