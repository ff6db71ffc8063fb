package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/bopra/bopradb/logging"
	"github.com/bopra/bopradb/nirs"
	"github.com/bopra/bopradb/registry"
	"github.com/bopra/bopradb/reltime"
	"github.com/bopra/bopradb/table"
)

// lowValidFraction flags series where most samples were blanked.
const lowValidFraction = 0.5

// Build loads and merges every input into a Release without touching the
// output directory. Any reconciliation error aborts the build.
func Build(ctx context.Context, opts Options) (*Release, error) {
	if strings.TrimSpace(opts.RegistryPath) == "" {
		return nil, fmt.Errorf("registry path is required")
	}
	if strings.TrimSpace(opts.DerivedPath) == "" {
		return nil, fmt.Errorf("derived metrics path is required")
	}
	logger := logging.OrNop(opts.Logger)
	version := opts.Version
	if version == "" {
		version = DefaultVersion
	}

	norm, err := reltime.New(opts.Zone)
	if err != nil {
		return nil, err
	}

	reg, err := registry.Load(opts.RegistryPath, opts.RegistrySheet, registry.DefaultSchema(), logger)
	if err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}
	reg.Name = TableRegistry
	stats := Stats{Unparsed: map[string]int{}}

	rowRefs, err := registry.ReferenceInstants(reg, norm)
	if err != nil {
		return nil, err
	}
	cids, err := registry.CaseIDs(reg)
	if err != nil {
		return nil, err
	}
	refs := make(reltime.Refs, len(cids))
	for i, cid := range cids {
		if !rowRefs[i].Valid {
			stats.MissingRef++
			logger.Warn("case has no reference instant; its offsets stay null", zap.Int64("cid", cid))
			continue
		}
		if _, ok := refs[cid]; !ok {
			refs[cid] = rowRefs[i].Time
		}
	}

	fields := presentFields(reg, logger, registry.InstantFields, registry.DateFields)
	unparsed, err := norm.NormalizeTable(reg, reltime.RowRefs(rowRefs), fields)
	if err != nil {
		return nil, fmt.Errorf("normalize registry timestamps: %w", err)
	}
	for col, n := range unparsed {
		stats.Unparsed[col] = n
		logger.Warn("unparseable timestamps set to null", zap.String("column", col), zap.Int("cells", n))
	}

	if err := registry.AssignSurrogates(reg); err != nil {
		return nil, fmt.Errorf("assign surrogate ids: %w", err)
	}
	index, err := registry.SurrogateIndex(reg)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	derived, err := registry.LoadDerived(opts.DerivedPath, logger)
	if err != nil {
		return nil, fmt.Errorf("load derived metrics: %w", err)
	}
	derived.Name = TableDerived
	unmatched, err := registry.AttachSurrogates(derived, index)
	if err != nil {
		return nil, err
	}
	if unmatched > 0 {
		logger.Warn("derived metric rows without a registry case", zap.Int("rows", unmatched))
	}
	stats.DerivedRows = derived.Len()
	stats.UnmatchedDerived = unmatched
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cases := uniqueIDs(cids)
	asm := &nirs.Assembler{
		RawDir:            opts.RawDir,
		CorrectionDir:     opts.CorrectionDir,
		RawPatterns:       opts.RawPatterns,
		CorrectionPattern: opts.CorrectionPattern,
		Loc:               norm.Loc,
		Logger:            logger,
	}
	col, err := asm.Assemble(cases)
	if err != nil {
		return nil, fmt.Errorf("assemble nirs series: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	series, anchors, err := buildRows(col, norm, refs, index)
	if err != nil {
		return nil, err
	}

	quality := make([]CaseQuality, 0, len(col.Series))
	for _, s := range col.Series {
		q := CaseQuality{CaseID: index[s.CaseID], Quality: s.Quality}
		if q.ValidFraction() < lowValidFraction {
			logger.Warn("nirs series is mostly invalid",
				zap.Int64("cid", s.CaseID), zap.Float64("valid_fraction", q.ValidFraction()))
		}
		quality = append(quality, q)
	}

	reg.Drop(registry.ColCID)

	stats.Cases = len(cases)
	stats.Complete = col.Count(nirs.StatusComplete)
	stats.Partial = col.Count(nirs.StatusPartial)
	stats.NoData = col.Count(nirs.StatusNoData)
	stats.Samples = len(series)

	sources := make([]SourceFile, 0, 2)
	for _, src := range []struct{ role, path string }{
		{"registry", opts.RegistryPath},
		{"derived", opts.DerivedPath},
	} {
		sf, err := describeSource(src.role, src.path)
		if err != nil {
			return nil, err
		}
		sources = append(sources, sf)
	}

	logger.Info("release built",
		zap.String("version", version),
		zap.Int("cases", stats.Cases),
		zap.Int("complete", stats.Complete),
		zap.Int("partial", stats.Partial),
		zap.Int("samples", stats.Samples))

	return &Release{
		Version:  version,
		Registry: reg,
		Derived:  derived,
		Series:   series,
		Anchors:  anchors,
		Stats:    stats,
		Sources:  sources,
		Quality:  quality,
	}, nil
}

// presentFields keeps the fields whose source column exists in tbl.
func presentFields(tbl *table.Table, logger *zap.Logger, groups ...[]reltime.Field) []reltime.Field {
	var out []reltime.Field
	for _, g := range groups {
		for _, f := range g {
			if tbl.Col(f.Column) == nil {
				logger.Warn("registry has no timestamp column", zap.String("column", f.Column))
				continue
			}
			out = append(out, f)
		}
	}
	return out
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func describeSource(role, path string) (SourceFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return SourceFile{}, fmt.Errorf("open %s source: %w", role, err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return SourceFile{}, fmt.Errorf("hash %s source: %w", role, err)
	}
	return SourceFile{Role: role, Path: path, SHA256: hex.EncodeToString(h.Sum(nil)), SizeBytes: n}, nil
}
