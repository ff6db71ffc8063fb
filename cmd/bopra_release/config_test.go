package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bopra/bopradb/pipeline"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	registerFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(newViper(), newFlags(t), "")
	require.NoError(t, err)

	assert.Equal(t, pipeline.DefaultVersion, cfg.Version)
	assert.Equal(t, "Europe/Helsinki", cfg.Timezone)
	assert.Equal(t, pipeline.DefaultFormats, cfg.Formats)
	assert.Equal(t, []string{"*{cid}*.csv", "*{cid}*.fit"}, cfg.RawPatterns)
	assert.Equal(t, "nirs_{cid}_a2.csv", cfg.AmendPattern)
	assert.Equal(t, "/data/bopra/db_release", cfg.OutDir)
	assert.True(t, cfg.Overwrite)
	assert.Equal(t, pipeline.DriverSQLite, cfg.DBDriver)
}

func TestLoadConfigPrecedence(t *testing.T) {
	file := filepath.Join(t.TempDir(), "bopra.yaml")
	require.NoError(t, os.WriteFile(file, []byte("version: v-file\nout-dir: /from/file\nlog-level: debug\n"), 0o644))
	t.Setenv("BOPRA_OUT_DIR", "/from/env")
	t.Setenv("BOPRA_FORMATS", "csv,parquet")

	cfg, err := loadConfig(newViper(), newFlags(t, "--version", "v-flag"), file)
	require.NoError(t, err)

	assert.Equal(t, "v-flag", cfg.Version)
	assert.Equal(t, "/from/env", cfg.OutDir)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, []string{"csv", "parquet"}, cfg.Formats)

	opts := cfg.options(nil)
	assert.Equal(t, "/from/env", opts.OutDir)
	assert.Equal(t, cfg.AmendDir, opts.CorrectionDir)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := loadConfig(newViper(), newFlags(t), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestRootCommandReportsRunFailure(t *testing.T) {
	dir := t.TempDir()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{
		"--registry", filepath.Join(dir, "missing.xlsx"),
		"--derived", filepath.Join(dir, "missing.csv"),
		"--out-dir", filepath.Join(dir, "out"),
		"--log-level", "error",
	})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load registry")
	assert.Empty(t, out.String())
	assert.NoDirExists(t, filepath.Join(dir, "out"))
}

func TestPrintSummary(t *testing.T) {
	var out bytes.Buffer
	printSummary(&out, &pipeline.Result{
		RunID:        "run-1",
		OutputDir:    "/out",
		CSVPath:      "/out/bopra_v.csv",
		ManifestPath: "/out/manifest_v.json",
		Stats:        pipeline.Stats{Cases: 3, Complete: 1, Partial: 1, NoData: 1, Samples: 3, UnmatchedDerived: 1},
	})
	s := out.String()
	assert.Contains(t, s, "cases:               3 (complete 1, partial 1, no data 1)")
	assert.Contains(t, s, "1 derived rows without a registry case")
	assert.NotContains(t, s, "sqlite:")
}
