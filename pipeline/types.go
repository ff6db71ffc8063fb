package pipeline

import (
	"time"

	"go.uber.org/zap"

	"github.com/bopra/bopradb/nirs"
	"github.com/bopra/bopradb/table"
)

// DefaultVersion is the release tag used when none is given.
const DefaultVersion = "v2024-001"

// Output table names, shared by every format.
const (
	TableRegistry = "fhdb"
	TableDerived  = "derived_quantities"
	TableSeries   = "nirs"
	TableAnchors  = "nirs_info"
)

// Output formats.
const (
	FormatSQL     = "sqlite"
	FormatParquet = "parquet"
	FormatCSV     = "csv"
)

// DefaultFormats are written when Options.Formats is empty.
var DefaultFormats = []string{FormatSQL, FormatParquet, FormatCSV}

// Options configures one release build.
type Options struct {
	RegistryPath  string
	RegistrySheet string // empty means the first sheet
	DerivedPath   string

	RawDir            string
	CorrectionDir     string
	RawPatterns       []string
	CorrectionPattern string

	OutDir    string
	Version   string
	Zone      string   // civil zone of the recording site
	Formats   []string // sqlite|parquet|csv
	Overwrite bool

	// DBDriver selects the relational target: "sqlite3" writes
	// bopra_<version>.sqlite under OutDir, "postgres" writes to DBDSN.
	DBDriver string
	DBDSN    string

	Logger *zap.Logger
}

// Release holds every published table, fully prepared. Building a release
// has no side effects on the output directory.
type Release struct {
	Version  string
	Registry *table.Table
	Derived  *table.Table
	Series   []SeriesRow
	Anchors  []AnchorRow
	Stats    Stats
	Sources  []SourceFile
	Quality  []CaseQuality
}

// CaseQuality is the signal summary of one published series.
type CaseQuality struct {
	CaseID int64 `json:"case_id"`
	nirs.Quality
}

// Stats summarises a release build.
type Stats struct {
	Cases            int            `json:"cases"`
	Complete         int            `json:"cases_complete"`
	Partial          int            `json:"cases_partial"`
	NoData           int            `json:"cases_no_data"`
	Samples          int            `json:"samples"`
	DerivedRows      int            `json:"derived_rows"`
	UnmatchedDerived int            `json:"derived_rows_unmatched"`
	MissingRef       int            `json:"cases_missing_t_ref"`
	Unparsed         map[string]int `json:"unparsed_timestamps,omitempty"`
}

// Result returns generated output paths.
type Result struct {
	RunID        string `json:"run_id"`
	OutputDir    string `json:"output_dir"`
	ManifestPath string `json:"manifest_path"`
	DatabasePath string `json:"database_path,omitempty"`
	ParquetDir   string `json:"parquet_dir,omitempty"`
	CSVPath      string `json:"csv_path,omitempty"`
	Stats        Stats  `json:"stats"`
}

// SourceFile identifies one input file of a release.
type SourceFile struct {
	Role      string `json:"role"`
	Path      string `json:"path"`
	SHA256    string `json:"sha256"`
	SizeBytes int64  `json:"size_bytes"`
}

// Manifest captures release metadata and pointers to the written files.
type Manifest struct {
	RunID       string        `json:"run_id"`
	Version     string        `json:"version"`
	GeneratedAt time.Time     `json:"generated_at"`
	Zone        string        `json:"zone"`
	Sources     []SourceFile  `json:"sources"`
	Outputs     []string      `json:"outputs"`
	Tables      []TableSchema `json:"tables"`
	Stats       Stats         `json:"stats"`
	Quality     []CaseQuality `json:"nirs_quality,omitempty"`
}

// TableSchema documents one published table.
type TableSchema struct {
	Name    string   `json:"name"`
	Rows    int      `json:"rows"`
	Columns []string `json:"columns"`
	Notes   []string `json:"notes,omitempty"`
}
