package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/bopra/bopradb/logging"
	"github.com/bopra/bopradb/table"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Dialect holds the per-driver SQL differences.
type Dialect struct {
	Driver string
	types  map[table.Kind]string
	bind   func(n int) string
}

var (
	sqliteDialect = Dialect{
		Driver: DriverSQLite,
		types: map[table.Kind]string{
			table.String: "TEXT",
			table.Int:    "INTEGER",
			table.Float:  "REAL",
			table.Bool:   "INTEGER",
		},
		bind: func(int) string { return "?" },
	}
	postgresDialect = Dialect{
		Driver: DriverPostgres,
		types: map[table.Kind]string{
			table.String: "TEXT",
			table.Int:    "BIGINT",
			table.Float:  "DOUBLE PRECISION",
			table.Bool:   "BOOLEAN",
		},
		bind: func(n int) string { return "$" + strconv.Itoa(n) },
	}
)

// DialectFor returns the dialect of a database/sql driver name.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverSQLite, "sqlite":
		return sqliteDialect, nil
	case DriverPostgres, "postgresql":
		return postgresDialect, nil
	}
	return Dialect{}, fmt.Errorf("unsupported database driver %q (expected %s|%s)", driver, DriverSQLite, DriverPostgres)
}

// CreateTable returns the DDL for t.
func (d Dialect) CreateTable(t *table.Table) string {
	defs := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		defs[i] = quoteIdent(c.Name) + " " + d.types[c.Kind]
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(t.Name), strings.Join(defs, ", "))
}

// Insert returns a single-row insert statement for t.
func (d Dialect) Insert(t *table.Table) string {
	cols := make([]string, len(t.Columns))
	binds := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = quoteIdent(c.Name)
		binds[i] = d.bind(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(t.Name), strings.Join(cols, ", "), strings.Join(binds, ", "))
}

// DropTable returns the statement removing a previous copy of t.
func (d Dialect) DropTable(t *table.Table) string {
	return "DROP TABLE IF EXISTS " + quoteIdent(t.Name)
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// SQLWriter replaces release tables in a relational database.
type SQLWriter struct {
	db      *sql.DB
	dialect Dialect
	logger  *zap.Logger
}

// NewSQLWriter wraps an open database.
func NewSQLWriter(db *sql.DB, dialect Dialect, logger *zap.Logger) *SQLWriter {
	return &SQLWriter{db: db, dialect: dialect, logger: logging.OrNop(logger)}
}

// WriteTables replaces every table, each in its own transaction.
func (w *SQLWriter) WriteTables(ctx context.Context, tables ...*table.Table) error {
	for _, t := range tables {
		if err := w.WriteTable(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// WriteTable drops, recreates and fills one table in a single transaction.
func (w *SQLWriter) WriteTable(ctx context.Context, t *table.Table) (err error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", t.Name, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, w.dialect.DropTable(t)); err != nil {
		return fmt.Errorf("drop %s: %w", t.Name, err)
	}
	if _, err = tx.ExecContext(ctx, w.dialect.CreateTable(t)); err != nil {
		return fmt.Errorf("create %s: %w", t.Name, err)
	}

	stmt, err := tx.PrepareContext(ctx, w.dialect.Insert(t))
	if err != nil {
		return fmt.Errorf("prepare insert %s: %w", t.Name, err)
	}
	defer stmt.Close()

	n := t.Len()
	for i := 0; i < n; i++ {
		if _, err = stmt.ExecContext(ctx, t.Row(i)...); err != nil {
			return fmt.Errorf("insert %s row %d: %w", t.Name, i, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", t.Name, err)
	}
	w.logger.Info("table written", zap.String("driver", w.dialect.Driver),
		zap.String("table", t.Name), zap.Int("rows", n))
	return nil
}
