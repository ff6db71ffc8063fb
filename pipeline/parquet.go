package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	parquetbuffer "github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"
	"go.uber.org/zap"

	"github.com/bopra/bopradb/logging"
	"github.com/bopra/bopradb/table"
)

const parquetParallel = 4

type seriesParquetRow struct {
	Time      *int64   `parquet:"name=time, type=INT64, repetitiontype=OPTIONAL"`
	CaseID    int64    `parquet:"name=case_id, type=INT64"`
	RSO2      *float64 `parquet:"name=rso2, type=DOUBLE, repetitiontype=OPTIONAL"`
	BadAuto   bool     `parquet:"name=bad_rso2_auto, type=BOOLEAN"`
	BadManual bool     `parquet:"name=bad_rso2_manual, type=BOOLEAN"`
}

type anchorParquetRow struct {
	CaseID int64  `parquet:"name=case_id, type=INT64"`
	Start  *int64 `parquet:"name=start, type=INT64, repetitiontype=OPTIONAL"`
	Mark   *int64 `parquet:"name=mark, type=INT64, repetitiontype=OPTIONAL"`
	End    *int64 `parquet:"name=end, type=INT64, repetitiontype=OPTIONAL"`
}

// ParquetWriter writes one file per release table into Dir.
type ParquetWriter struct {
	Dir    string
	Logger *zap.Logger
}

// WriteRelease writes the four release tables and returns their paths.
func (w *ParquetWriter) WriteRelease(r *Release) ([]string, error) {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create parquet directory: %w", err)
	}
	logger := logging.OrNop(w.Logger)

	jobs := []struct {
		name string
		rows int
		fn   func(source.ParquetFile) error
	}{
		{TableRegistry, r.Registry.Len(), func(pf source.ParquetFile) error { return writeTableParquet(pf, r.Registry) }},
		{TableDerived, r.Derived.Len(), func(pf source.ParquetFile) error { return writeTableParquet(pf, r.Derived) }},
		{TableSeries, len(r.Series), func(pf source.ParquetFile) error { return writeSeriesParquet(pf, r.Series) }},
		{TableAnchors, len(r.Anchors), func(pf source.ParquetFile) error { return writeAnchorParquet(pf, r.Anchors) }},
	}
	paths := make([]string, 0, len(jobs))
	for _, j := range jobs {
		path := filepath.Join(w.Dir, j.name+".parquet")
		if err := writeParquetFile(path, j.fn); err != nil {
			return nil, fmt.Errorf("write %s parquet: %w", j.name, err)
		}
		logger.Info("table written", zap.String("format", FormatParquet),
			zap.String("table", j.name), zap.Int("rows", j.rows))
		paths = append(paths, path)
	}
	return paths, nil
}

// writeParquetFile encodes into memory and renames into place, so a failed
// write never leaves a truncated file behind.
func writeParquetFile(path string, fn func(source.ParquetFile) error) error {
	fw := parquetbuffer.NewBufferFile()
	if err := fn(fw); err != nil {
		return err
	}
	if err := fw.Close(); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, fw.Bytes(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ParquetSchema returns csv-writer metadata for a table. Every column is
// optional since any cell may be null.
func ParquetSchema(t *table.Table) []string {
	md := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		md[i] = fmt.Sprintf("name=%s, %s, repetitiontype=OPTIONAL", c.Name, parquetType(c.Kind))
	}
	return md
}

func parquetType(k table.Kind) string {
	switch k {
	case table.Int:
		return "type=INT64"
	case table.Float:
		return "type=DOUBLE"
	case table.Bool:
		return "type=BOOLEAN"
	default:
		return "type=BYTE_ARRAY, convertedtype=UTF8"
	}
}

func writeTableParquet(pf source.ParquetFile, t *table.Table) error {
	pw, err := writer.NewCSVWriter(ParquetSchema(t), pf, parquetParallel)
	if err != nil {
		return err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	n := t.Len()
	for i := 0; i < n; i++ {
		if err := pw.Write(t.Row(i)); err != nil {
			_ = pw.WriteStop()
			return err
		}
	}
	return pw.WriteStop()
}

func writeSeriesParquet(pf source.ParquetFile, rows []SeriesRow) error {
	pw, err := writer.NewParquetWriter(pf, new(seriesParquetRow), parquetParallel)
	if err != nil {
		return err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, r := range rows {
		row := seriesParquetRow{
			Time:      r.Time.Ptr(),
			CaseID:    r.CaseID,
			RSO2:      r.RSO2.Ptr(),
			BadAuto:   r.BadAuto,
			BadManual: r.BadManual,
		}
		if err := pw.Write(row); err != nil {
			_ = pw.WriteStop()
			return err
		}
	}
	return pw.WriteStop()
}

func writeAnchorParquet(pf source.ParquetFile, rows []AnchorRow) error {
	pw, err := writer.NewParquetWriter(pf, new(anchorParquetRow), parquetParallel)
	if err != nil {
		return err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, r := range rows {
		row := anchorParquetRow{
			CaseID: r.CaseID,
			Start:  r.Start.Ptr(),
			Mark:   r.Mark.Ptr(),
			End:    r.End.Ptr(),
		}
		if err := pw.Write(row); err != nil {
			_ = pw.WriteStop()
			return err
		}
	}
	return pw.WriteStop()
}
