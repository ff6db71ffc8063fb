package main

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/bopra/bopradb/nirs"
	"github.com/bopra/bopradb/pipeline"
	"github.com/bopra/bopradb/reltime"
)

const envPrefix = "BOPRA"

// Config is the release configuration: flags, then BOPRA_* env vars, then
// the optional config file, then defaults.
type Config struct {
	Registry      string   `mapstructure:"registry"`
	RegistrySheet string   `mapstructure:"registry-sheet"`
	Derived       string   `mapstructure:"derived"`
	RawDir        string   `mapstructure:"raw-dir"`
	AmendDir      string   `mapstructure:"amend-dir"`
	RawPatterns   []string `mapstructure:"raw-patterns"`
	AmendPattern  string   `mapstructure:"amend-pattern"`
	OutDir        string   `mapstructure:"out-dir"`
	Version       string   `mapstructure:"version"`
	Timezone      string   `mapstructure:"timezone"`
	Formats       []string `mapstructure:"formats"`
	Overwrite     bool     `mapstructure:"overwrite"`
	DBDriver      string   `mapstructure:"db-driver"`
	DBDSN         string   `mapstructure:"db-dsn"`
	LogLevel      string   `mapstructure:"log-level"`
	LogFormat     string   `mapstructure:"log-format"`
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("registry", "/data/bopra/source_data/fhdb_export.xlsx")
	v.SetDefault("registry-sheet", "")
	v.SetDefault("derived", "/data/bopra/source_data/cde_main202403021535.csv")
	v.SetDefault("raw-dir", "/data/bopra/source_data/nirs_raw")
	v.SetDefault("amend-dir", "/data/bopra/source_data/nirs_amend")
	v.SetDefault("raw-patterns", nirs.DefaultRawPatterns)
	v.SetDefault("amend-pattern", nirs.DefaultCorrectionPattern)
	v.SetDefault("out-dir", "/data/bopra/db_release")
	v.SetDefault("version", pipeline.DefaultVersion)
	v.SetDefault("timezone", reltime.DefaultZone)
	v.SetDefault("formats", pipeline.DefaultFormats)
	v.SetDefault("overwrite", true)
	v.SetDefault("db-driver", pipeline.DriverSQLite)
	v.SetDefault("db-dsn", "")
	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", "json")
	return v
}

func registerFlags(fs *pflag.FlagSet) {
	fs.String("registry", "", "registry export (xlsx)")
	fs.String("registry-sheet", "", "registry sheet name (default: first sheet)")
	fs.String("derived", "", "derived metrics file (semicolon csv)")
	fs.String("raw-dir", "", "directory of raw nirs recordings")
	fs.String("amend-dir", "", "directory of nirs correction files")
	fs.StringSlice("raw-patterns", nil, "raw file globs; {cid} is the case id")
	fs.String("amend-pattern", "", "correction file glob; {cid} is the case id")
	fs.String("out-dir", "", "release output directory")
	fs.String("version", "", "release version tag")
	fs.String("timezone", "", "civil time zone of the recording site")
	fs.StringSlice("formats", nil, "outputs to write: sqlite,parquet,csv")
	fs.Bool("overwrite", true, "replace existing release files")
	fs.String("db-driver", "", "relational target: sqlite3|postgres")
	fs.String("db-dsn", "", "postgres connection string")
	fs.String("log-level", "", "debug|info|warn|error")
	fs.String("log-format", "", "json|console")
}

// loadConfig binds fs into v, reads the optional config file and decodes.
func loadConfig(v *viper.Viper, fs *pflag.FlagSet, file string) (*Config, error) {
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" || f.Name == "help" {
			return
		}
		// only flags set on the command line override env and file values
		if f.Changed {
			_ = v.BindPFlag(f.Name, f)
		}
	})
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func (c *Config) options(logger *zap.Logger) pipeline.Options {
	return pipeline.Options{
		RegistryPath:      c.Registry,
		RegistrySheet:     c.RegistrySheet,
		DerivedPath:       c.Derived,
		RawDir:            c.RawDir,
		CorrectionDir:     c.AmendDir,
		RawPatterns:       c.RawPatterns,
		CorrectionPattern: c.AmendPattern,
		OutDir:            c.OutDir,
		Version:           c.Version,
		Zone:              c.Timezone,
		Formats:           c.Formats,
		Overwrite:         c.Overwrite,
		DBDriver:          c.DBDriver,
		DBDSN:             c.DBDSN,
		Logger:            logger,
	}
}
