package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/guregu/null.v3"
)

func sampleAnchors() *Release {
	return &Release{Anchors: []AnchorRow{
		{CaseID: 0, Start: null.IntFrom(60), Mark: null.Int{}, End: null.IntFrom(62)},
	}}
}

func TestDialectStatements(t *testing.T) {
	tbl := AnchorTable(sampleAnchors().Anchors)

	pg, err := DialectFor("postgresql")
	require.NoError(t, err)
	assert.Equal(t, `CREATE TABLE "nirs_info" ("case_id" BIGINT, "start" BIGINT, "mark" BIGINT, "end" BIGINT)`, pg.CreateTable(tbl))
	assert.Equal(t, `INSERT INTO "nirs_info" ("case_id", "start", "mark", "end") VALUES ($1, $2, $3, $4)`, pg.Insert(tbl))

	lite, err := DialectFor("")
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "nirs_info" ("case_id", "start", "mark", "end") VALUES (?, ?, ?, ?)`, lite.Insert(tbl))
	assert.Equal(t, `DROP TABLE IF EXISTS "nirs_info"`, lite.DropTable(tbl))

	_, err = DialectFor("mysql")
	assert.Error(t, err)
}

func TestSQLWriterReplacesTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DROP TABLE IF EXISTS "nirs_info"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE "nirs_info"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	prep := mock.ExpectPrepare(regexp.QuoteMeta(`INSERT INTO "nirs_info"`))
	prep.ExpectExec().
		WithArgs(int64(0), int64(60), nil, int64(62)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	pg, err := DialectFor(DriverPostgres)
	require.NoError(t, err)
	w := NewSQLWriter(db, pg, zap.NewNop())
	require.NoError(t, w.WriteTable(context.Background(), AnchorTable(sampleAnchors().Anchors)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLWriterRollsBackOnInsertError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`DROP TABLE`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE`).WillReturnResult(sqlmock.NewResult(0, 0))
	prep := mock.ExpectPrepare(`INSERT INTO`)
	prep.ExpectExec().WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	w := NewSQLWriter(db, sqliteDialect, nil)
	err = w.WriteTable(context.Background(), AnchorTable(sampleAnchors().Anchors))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert nirs_info row 0")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteRoundTripReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bopra.sqlite")
	db, err := sql.Open(DriverSQLite, path)
	require.NoError(t, err)
	defer db.Close()

	w := NewSQLWriter(db, sqliteDialect, nil)
	rel := sampleAnchors()
	require.NoError(t, w.WriteTables(context.Background(), AnchorTable(rel.Anchors)))

	rel.Anchors = append(rel.Anchors, AnchorRow{CaseID: 3, End: null.IntFrom(5)})
	require.NoError(t, w.WriteTables(context.Background(), AnchorTable(rel.Anchors)))

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM nirs_info`).Scan(&n))
	assert.Equal(t, 2, n)

	var mark sql.NullInt64
	require.NoError(t, db.QueryRow(`SELECT mark FROM nirs_info WHERE case_id = 0`).Scan(&mark))
	assert.False(t, mark.Valid)
}
