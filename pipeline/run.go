package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bopra/bopradb/logging"
	"github.com/bopra/bopradb/reltime"
)

// Run builds the release and writes every requested format. Outputs are
// only touched once the whole release has been built.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if strings.TrimSpace(opts.OutDir) == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	formats, err := normalizeFormats(opts.Formats)
	if err != nil {
		return nil, err
	}
	dialect, err := DialectFor(opts.DBDriver)
	if err != nil {
		return nil, err
	}
	if dialect.Driver == DriverPostgres && formats[FormatSQL] && strings.TrimSpace(opts.DBDSN) == "" {
		return nil, fmt.Errorf("db dsn is required for driver %s", DriverPostgres)
	}
	logger := logging.OrNop(opts.Logger)

	rel, err := Build(ctx, opts)
	if err != nil {
		return nil, err
	}

	names := releaseNames(opts.OutDir, rel.Version)
	targets := []string{names.manifest}
	if formats[FormatSQL] && dialect.Driver == DriverSQLite {
		targets = append(targets, names.sqlite)
	}
	if formats[FormatParquet] {
		targets = append(targets, names.parquet)
	}
	if formats[FormatCSV] {
		targets = append(targets, names.csv)
	}
	if err := ensureOutputDir(opts.OutDir, targets, opts.Overwrite); err != nil {
		return nil, err
	}

	res := &Result{RunID: uuid.New().String(), OutputDir: opts.OutDir, Stats: rel.Stats}
	var outputs []string

	if formats[FormatSQL] {
		dsn := opts.DBDSN
		if dialect.Driver == DriverSQLite {
			dsn = names.sqlite
			res.DatabasePath = names.sqlite
			outputs = append(outputs, filepath.Base(names.sqlite))
		}
		if err := writeDatabase(ctx, dialect, dsn, rel, logger); err != nil {
			return nil, fmt.Errorf("write %s database: %w", dialect.Driver, err)
		}
	}

	if formats[FormatParquet] {
		pw := &ParquetWriter{Dir: names.parquet, Logger: logger}
		paths, err := pw.WriteRelease(rel)
		if err != nil {
			return nil, err
		}
		res.ParquetDir = names.parquet
		for _, p := range paths {
			name, err := filepath.Rel(opts.OutDir, p)
			if err != nil {
				name = p
			}
			outputs = append(outputs, name)
		}
	}

	if formats[FormatCSV] {
		flat, err := FlatTable(rel)
		if err != nil {
			return nil, fmt.Errorf("build flat table: %w", err)
		}
		if err := writeTableCSV(names.csv, flat); err != nil {
			return nil, fmt.Errorf("write %s: %w", filepath.Base(names.csv), err)
		}
		logger.Info("table written", zap.String("format", FormatCSV),
			zap.String("table", flat.Name), zap.Int("rows", flat.Len()))
		res.CSVPath = names.csv
		outputs = append(outputs, filepath.Base(names.csv))
	}

	zone := opts.Zone
	if zone == "" {
		zone = reltime.DefaultZone
	}
	manifest := Manifest{
		RunID:       res.RunID,
		Version:     rel.Version,
		GeneratedAt: time.Now().UTC(),
		Zone:        zone,
		Sources:     rel.Sources,
		Outputs:     outputs,
		Tables:      describeTables(rel),
		Stats:       rel.Stats,
		Quality:     rel.Quality,
	}
	if err := writeJSON(names.manifest, manifest); err != nil {
		return nil, fmt.Errorf("write %s: %w", filepath.Base(names.manifest), err)
	}
	res.ManifestPath = names.manifest

	logger.Info("release written",
		zap.String("run_id", res.RunID),
		zap.String("version", rel.Version),
		zap.Strings("outputs", outputs))
	return res, nil
}

type outputNames struct {
	sqlite, parquet, csv, manifest string
}

func releaseNames(dir, version string) outputNames {
	base := filepath.Join(dir, "bopra_"+version)
	return outputNames{
		sqlite:   base + ".sqlite",
		parquet:  base + ".parquet",
		csv:      base + ".csv",
		manifest: filepath.Join(dir, "manifest_"+version+".json"),
	}
}

func normalizeFormats(in []string) (map[string]bool, error) {
	if len(in) == 0 {
		in = DefaultFormats
	}
	out := make(map[string]bool, len(in))
	for _, f := range in {
		f = strings.ToLower(strings.TrimSpace(f))
		switch f {
		case FormatSQL, FormatParquet, FormatCSV:
			out[f] = true
		case "":
		default:
			return nil, fmt.Errorf("unsupported format %q (expected %s|%s|%s)", f, FormatSQL, FormatParquet, FormatCSV)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no output format selected")
	}
	return out, nil
}

func writeDatabase(ctx context.Context, dialect Dialect, dsn string, rel *Release, logger *zap.Logger) error {
	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return err
	}
	return NewSQLWriter(db, dialect, logger).WriteTables(ctx, rel.Tables()...)
}

func describeTables(rel *Release) []TableSchema {
	notes := map[string][]string{
		TableRegistry: {"case_id is the 0-based registry row index", "t_* columns are ns offsets from the alarm time", "days_to_* columns are civil-day offsets"},
		TableDerived:  {"case_id is null for rows without a registry case"},
		TableSeries:   {"time is the ns offset from the alarm time", "rso2 is null where the sample was discarded"},
		TableAnchors:  {"start, mark and end are ns offsets from the alarm time"},
	}
	tables := rel.Tables()
	out := make([]TableSchema, 0, len(tables))
	for _, t := range tables {
		out = append(out, TableSchema{Name: t.Name, Rows: t.Len(), Columns: t.Names(), Notes: notes[t.Name]})
	}
	return out
}

// ensureOutputDir creates dir and refuses to replace existing release files
// unless overwrite is set.
func ensureOutputDir(dir string, targets []string, overwrite bool) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if overwrite {
		return nil
	}
	for _, p := range targets {
		if _, err := os.Stat(p); err == nil {
			return fmt.Errorf("release output exists: %s (set overwrite=true to allow)", p)
		}
	}
	return nil
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
