package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fred-ingest/internal/config"
	"fred-ingest/internal/model"
)

func openTestSQLite(t *testing.T) *SQLStore {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "fred.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func sampleObservations() []model.Observation {
	day := func(s string) time.Time { d, _ := time.Parse("2006-01-02", s); return d }
	until := day("2024-02-14")
	return []model.Observation{
		{Series: "UNRATE", ReportingDate: day("2024-01-01"), PublishedDate: day("2024-02-01"), ValidUntilDate: &until,
			Value: decimal.NewNullDecimal(decimal.RequireFromString("3.7")), WebsiteURL: "https://fred.stlouisfed.org/series/UNRATE", Fingerprint: "fp-1"},
		{Series: "UNRATE", ReportingDate: day("2024-02-01"), PublishedDate: day("2024-03-01"),
			WebsiteURL: "https://fred.stlouisfed.org/series/UNRATE", Fingerprint: "fp-2"},
	}
}

func TestInferColumnType(t *testing.T) {
	cases := []struct {
		in   any
		want ColumnType
	}{
		{int64(3), Integer},
		{3, Integer},
		{1.5, Float},
		{decimal.NewFromInt(1), Float},
		{true, Boolean},
		{time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Date},
		{time.Date(2024, 1, 1, 12, 30, 0, 0, time.UTC), DateTime},
		{(*time.Time)(nil), Date},
		{"x", Text},
		{nil, Text},
		{[]byte("x"), Text},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, InferColumnType(tc.in), "InferColumnType(%#v)", tc.in)
	}
}

func TestObservationTableDescriptor(t *testing.T) {
	table := ObservationTable("observations_all")
	require.Len(t, table.Columns, len(ObservationColumns))
	types := map[string]ColumnType{}
	for _, c := range table.Columns {
		types[c.Name] = c.Type
	}
	assert.Equal(t, Text, types["series_id"])
	assert.Equal(t, Date, types["reporting_date"])
	assert.Equal(t, Date, types["valid_until_date"])
	assert.Equal(t, Float, types["value"])

	ddl := postgresDialect.createTableSQL(table)
	assert.Contains(t, ddl, `"observations_all"`)
	assert.Contains(t, ddl, "fingerprint TEXT NOT NULL UNIQUE")
	assert.Contains(t, ddl, `"value" DOUBLE PRECISION`)
	assert.Contains(t, ddl, "BIGSERIAL PRIMARY KEY")
}

func TestInsertSQLIgnoresConflicts(t *testing.T) {
	table := ObservationTable("t")
	pg := postgresDialect.insertSQL(table)
	assert.True(t, strings.HasSuffix(pg, "ON CONFLICT (fingerprint) DO NOTHING"))
	assert.Contains(t, pg, "$7")
	lite := sqliteDialect.insertSQL(table)
	assert.Equal(t, 7, strings.Count(lite, "?"))
}

func TestQuoteIdentEscapes(t *testing.T) {
	assert.Equal(t, `"series_info"`, quoteIdent("series_info"))
	assert.Equal(t, `"a""b"`, quoteIdent(`a"b`))
}

func TestInfoRowsAlignWithTable(t *testing.T) {
	fields := []string{"title", "frequency", "popularity"}
	table := InfoTable("series_info", fields)
	assert.Equal(t, []string{"series_id", "title", "frequency", "popularity", "units", "website_url"}, table.ColumnNames())

	rows := InfoRows([]model.SeriesInfo{{
		Series:      "GDP",
		Fields:      map[string]string{"title": "Gross Domestic Product", "frequency": "Quarterly", "units": "Billions", "popularity": "90"},
		Fingerprint: "info-1",
	}}, fields)
	require.Len(t, rows, 1)
	assert.Equal(t, []any{"GDP", "Gross Domestic Product", "Quarterly", "90", "Billions", ""}, rows[0].Values)
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)
	table := ObservationTable("observations_latest")
	require.NoError(t, s.CreateTableIfAbsent(ctx, table))
	require.NoError(t, s.CreateTableIfAbsent(ctx, table), "creation must be idempotent")

	rows := ObservationRows(sampleObservations())
	n, err := s.InsertMany(ctx, table, rows)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = s.InsertMany(ctx, table, rows)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n, "stored fingerprints are skipped")

	fps, err := s.Fingerprints(ctx, table.Name)
	require.NoError(t, err)
	assert.Len(t, fps, 2)
	assert.Contains(t, fps, "fp-1")

	all, err := s.SelectAll(ctx, table.Name, []string{"fingerprint", "value"})
	require.NoError(t, err)
	assert.Equal(t, []string{"fingerprint", "value"}, all.Columns)
	require.Len(t, all.Rows, 2)
	assert.Equal(t, "fp-1", all.Rows[0][0])
	assert.InDelta(t, 3.7, all.Rows[0][1], 1e-9)
	assert.Nil(t, all.Rows[1][1], "missing value stays null")

	recent, err := s.SelectRecent(ctx, table.Name, nil, 1)
	require.NoError(t, err)
	require.Len(t, recent.Rows, 1)
	assert.Contains(t, recent.Columns, "loaded_at")
}

func TestInsertManyRejectsMisalignedRows(t *testing.T) {
	s := openTestSQLite(t)
	table := ObservationTable("t")
	_, err := s.InsertMany(context.Background(), table, []Row{{Fingerprint: "x", Values: []any{"only one"}}})
	assert.Error(t, err)
	_, err = s.InsertMany(context.Background(), table, []Row{{Values: make([]any, len(table.Columns))}})
	assert.Error(t, err)
}

func TestInsertManyRollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewSQLStore(db, zerolog.Nop())
	table := ObservationTable("t")
	rows := ObservationRows(sampleObservations())

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`INSERT INTO "t"`)
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	n, err := s.InsertMany(context.Background(), table, rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotConfigured(t *testing.T) {
	var pg *PostgresStore
	_, err := pg.Fingerprints(context.Background(), "t")
	assert.ErrorIs(t, err, ErrNotConfigured)
	var lite *SQLStore
	_, err = lite.SelectAll(context.Background(), "t", nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestBuildConnString(t *testing.T) {
	got := BuildConnString(config.DatabaseConfig{Host: "db", User: "fred", Password: "p@ss word", Name: "macro"})
	assert.Equal(t, "postgres://fred:p%40ss%20word@db:5432/macro?sslmode=prefer", got)

	got = BuildConnString(config.DatabaseConfig{DSN: "postgres://x/y", Host: "ignored"})
	assert.Equal(t, "postgres://x/y", got)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.DatabaseConfig{Driver: "oracle"}, zerolog.Nop())
	assert.Error(t, err)
}
