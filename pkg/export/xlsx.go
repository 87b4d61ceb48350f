package export

import (
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/tracelane/tracelane/pkg/errors"
	"github.com/tracelane/tracelane/pkg/timeline"
)

// Sheet names of the workbook.
const (
	SheetLanes     = "Lanes"
	SheetActivity  = "Activity"
	SheetTaskTypes = "TaskTypes"
	SheetWarnings  = "Warnings"
)

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

// Workbook builds an XLSX workbook with one sheet per table.
func Workbook(res *timeline.Result) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetLanes); err != nil {
		f.Close()
		return nil, err
	}
	for _, name := range []string{SheetActivity, SheetTaskTypes, SheetWarnings} {
		if _, err := f.NewSheet(name); err != nil {
			f.Close()
			return nil, err
		}
	}

	fill := func() error {
		if err := setRow(f, SheetLanes, 1, []interface{}{
			"lane", "node", "lane_index", "job_id", "task_type", "start", "end", "job_start", "job_end",
		}); err != nil {
			return err
		}
		for i, r := range LaneRows(res) {
			values := []interface{}{r.LaneKey, r.Node, r.LaneIndex, r.JobID, r.TaskType, r.Start, r.End, nil, nil}
			if r.JobStart != nil {
				values[7], values[8] = *r.JobStart, *r.JobEnd
			}
			if err := setRow(f, SheetLanes, i+2, values); err != nil {
				return err
			}
		}

		if err := setRow(f, SheetActivity, 1, []interface{}{"offset", "active"}); err != nil {
			return err
		}
		for i, s := range res.Activity {
			if err := setRow(f, SheetActivity, i+2, []interface{}{s.Offset, s.Active}); err != nil {
				return err
			}
		}

		if err := setRow(f, SheetTaskTypes, 1, []interface{}{"order", "task_type"}); err != nil {
			return err
		}
		for i, t := range res.TaskTypes {
			if err := setRow(f, SheetTaskTypes, i+2, []interface{}{i + 1, t}); err != nil {
				return err
			}
		}

		if err := setRow(f, SheetWarnings, 1, []interface{}{"kind", "job_id", "event", "message"}); err != nil {
			return err
		}
		for i, w := range res.Warnings {
			if err := setRow(f, SheetWarnings, i+2, []interface{}{w.Kind.String(), w.JobID, w.Event, w.Message}); err != nil {
				return err
			}
		}
		return nil
	}

	if err := fill(); err != nil {
		f.Close()
		return nil, errors.Wrap(err, errors.CodeWriteFailed, "fill workbook")
	}
	return f, nil
}

// WriteXLSX writes the workbook for res to w.
func WriteXLSX(w io.Writer, res *timeline.Result) error {
	f, err := Workbook(res)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "write workbook")
	}
	return nil
}

// WriteXLSXFile writes the workbook for res to path.
func WriteXLSXFile(path string, res *timeline.Result) error {
	return writeFile(path, func(w io.Writer) error { return WriteXLSX(w, res) })
}
