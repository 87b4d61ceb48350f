package export

import (
	"io"
	"os"
	"strings"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	"github.com/tracelane/tracelane/pkg/errors"
	"github.com/tracelane/tracelane/pkg/timeline"
)

// codecFor maps a compression name to a Parquet codec.
func codecFor(name string) compress.Compression {
	switch strings.ToLower(name) {
	case "snappy", "":
		return compress.Codecs.Snappy
	case "gzip":
		return compress.Codecs.Gzip
	case "zstd":
		return compress.Codecs.Zstd
	case "lz4":
		return compress.Codecs.Lz4
	default:
		return compress.Codecs.Uncompressed
	}
}

func runMetadata(res *timeline.Result) *arrow.Metadata {
	md := arrow.NewMetadata(
		[]string{"run_id", "workflow", "source"},
		[]string{res.RunID, res.Workflow.Stem(), res.Source},
	)
	return &md
}

func laneSchema(res *timeline.Result) *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "lane", Type: arrow.BinaryTypes.String},
		{Name: "node", Type: arrow.BinaryTypes.String},
		{Name: "lane_index", Type: arrow.PrimitiveTypes.Int32},
		{Name: "job_id", Type: arrow.BinaryTypes.String},
		{Name: "task_type", Type: arrow.BinaryTypes.String},
		{Name: "start", Type: arrow.PrimitiveTypes.Float64},
		{Name: "end", Type: arrow.PrimitiveTypes.Float64},
		{Name: "job_start", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "job_end", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	}, runMetadata(res))
}

func activitySchema(res *timeline.Result) *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "offset", Type: arrow.PrimitiveTypes.Float64},
		{Name: "active", Type: arrow.PrimitiveTypes.Int64},
	}, runMetadata(res))
}

func writeRecord(w io.Writer, rec arrow.Record, codec string) error {
	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(codecFor(codec)),
		parquet.WithDictionaryDefault(true),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	fw, err := pqarrow.NewFileWriter(rec.Schema(), w, writerProps, arrowProps)
	if err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "create parquet writer")
	}
	if err := fw.Write(rec); err != nil {
		fw.Close()
		return errors.Wrap(err, errors.CodeWriteFailed, "write parquet record")
	}
	return fw.Close()
}

// LaneRecord builds the lanes table as an Arrow record. The caller must
// release it.
func LaneRecord(res *timeline.Result) arrow.Record {
	b := array.NewRecordBuilder(memory.NewGoAllocator(), laneSchema(res))
	defer b.Release()

	for _, r := range LaneRows(res) {
		b.Field(0).(*array.StringBuilder).Append(r.LaneKey)
		b.Field(1).(*array.StringBuilder).Append(r.Node)
		b.Field(2).(*array.Int32Builder).Append(int32(r.LaneIndex))
		b.Field(3).(*array.StringBuilder).Append(r.JobID)
		b.Field(4).(*array.StringBuilder).Append(r.TaskType)
		b.Field(5).(*array.Float64Builder).Append(r.Start)
		b.Field(6).(*array.Float64Builder).Append(r.End)
		if r.JobStart != nil {
			b.Field(7).(*array.Float64Builder).Append(*r.JobStart)
			b.Field(8).(*array.Float64Builder).Append(*r.JobEnd)
		} else {
			b.Field(7).(*array.Float64Builder).AppendNull()
			b.Field(8).(*array.Float64Builder).AppendNull()
		}
	}
	return b.NewRecord()
}

// ActivityRecord builds the activity table as an Arrow record. The caller
// must release it.
func ActivityRecord(res *timeline.Result) arrow.Record {
	b := array.NewRecordBuilder(memory.NewGoAllocator(), activitySchema(res))
	defer b.Release()

	for _, s := range res.Activity {
		b.Field(0).(*array.Float64Builder).Append(s.Offset)
		b.Field(1).(*array.Int64Builder).Append(int64(s.Active))
	}
	return b.NewRecord()
}

// WriteLanesParquet writes the lanes table to w.
func WriteLanesParquet(w io.Writer, res *timeline.Result, codec string) error {
	rec := LaneRecord(res)
	defer rec.Release()
	return writeRecord(w, rec, codec)
}

// WriteActivityParquet writes the activity table to w.
func WriteActivityParquet(w io.Writer, res *timeline.Result, codec string) error {
	rec := ActivityRecord(res)
	defer rec.Release()
	return writeRecord(w, rec, codec)
}

// WriteParquetFiles writes the lanes and activity tables to two files.
func WriteParquetFiles(lanesPath, activityPath string, res *timeline.Result, codec string) error {
	if err := writeFile(lanesPath, func(w io.Writer) error { return WriteLanesParquet(w, res, codec) }); err != nil {
		return err
	}
	return writeFile(activityPath, func(w io.Writer) error { return WriteActivityParquet(w, res, codec) })
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "create file").WithContext("path", path)
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
