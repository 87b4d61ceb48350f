package parser

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/tracelane/tracelane/internal/model"
	"github.com/tracelane/tracelane/pkg/errors"
)

// DuckDBLoader reads trace files through DuckDB's read_json. It only works
// on local paths; DuckDB decompresses .gz files itself.
type DuckDBLoader struct {
	db *sql.DB
}

// NewDuckDBLoader opens an in-memory DuckDB.
func NewDuckDBLoader() (*DuckDBLoader, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}
	return &DuckDBLoader{db: db}, nil
}

// Close releases the database.
func (l *DuckDBLoader) Close() error {
	return l.db.Close()
}

func quotePath(path string) string {
	return strings.ReplaceAll(path, "'", "''")
}

func readJSON(path, columns string) string {
	return fmt.Sprintf(
		"read_json('%s', format='newline_delimited', ignore_errors=true, columns={%s})",
		quotePath(path), columns)
}

// Metrics loads event rows from a metrics.jsonl file.
func (l *DuckDBLoader) Metrics(ctx context.Context, path string) ([]model.EventRow, Stats, error) {
	var stats Stats
	src := readJSON(path, "jobId: 'VARCHAR', parameter: 'VARCHAR', value: 'VARCHAR', time: 'VARCHAR'")

	if err := l.db.QueryRowContext(ctx, "SELECT count(*) FROM "+src).Scan(&stats.Rows); err != nil {
		return nil, stats, errors.Wrap(err, errors.CodeInvalidFormat, "count metrics").WithContext("path", path)
	}
	stats.Lines = stats.Rows

	rows, err := l.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT jobId, value, "time" FROM %s WHERE parameter = '%s'`, src, model.ParameterEvent))
	if err != nil {
		return nil, stats, errors.Wrap(err, errors.CodeInvalidFormat, "query metrics").WithContext("path", path)
	}
	defer rows.Close()

	var events []model.EventRow
	var n int64
	for rows.Next() {
		n++
		var jobID, name, ts sql.NullString
		if err := rows.Scan(&jobID, &name, &ts); err != nil {
			return nil, stats, errors.Wrap(err, errors.CodeInvalidFormat, "scan metrics row")
		}
		if !jobID.Valid || jobID.String == "" || !name.Valid || name.String == "" {
			stats.Skipped++
			continue
		}
		t, err := ParseTime(ts.String)
		if err != nil {
			return nil, stats, errors.InvalidTimestamp(ts.String, n)
		}
		events = append(events, model.EventRow{JobID: jobID.String, Name: name.String, Time: t})
	}
	if err := rows.Err(); err != nil {
		return nil, stats, errors.Wrap(err, errors.CodeInvalidFormat, "iterate metrics")
	}
	return events, stats, nil
}

// Descriptors loads job descriptors from a job_descriptions.jsonl file.
func (l *DuckDBLoader) Descriptors(ctx context.Context, path string) ([]model.JobDescriptor, Stats, error) {
	var stats Stats
	src := readJSON(path, "jobId: 'VARCHAR', nodeName: 'VARCHAR', name: 'VARCHAR', "+
		"workflowName: 'VARCHAR', size: 'VARCHAR', version: 'VARCHAR'")

	rows, err := l.db.QueryContext(ctx,
		"SELECT jobId, nodeName, name, workflowName, size, version FROM "+src)
	if err != nil {
		return nil, stats, errors.Wrap(err, errors.CodeInvalidFormat, "query descriptors").WithContext("path", path)
	}
	defer rows.Close()

	var descs []model.JobDescriptor
	for rows.Next() {
		stats.Lines++
		var f [6]sql.NullString
		if err := rows.Scan(&f[0], &f[1], &f[2], &f[3], &f[4], &f[5]); err != nil {
			return nil, stats, errors.Wrap(err, errors.CodeInvalidFormat, "scan descriptor row")
		}
		if f[0].String == "" {
			stats.Skipped++
			continue
		}
		stats.Rows++
		descs = append(descs, model.JobDescriptor{
			JobID:           f[0].String,
			NodeName:        f[1].String,
			TaskType:        f[2].String,
			WorkflowName:    f[3].String,
			WorkflowSize:    f[4].String,
			WorkflowVersion: f[5].String,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, stats, errors.Wrap(err, errors.CodeInvalidFormat, "iterate descriptors")
	}
	return descs, stats, nil
}
