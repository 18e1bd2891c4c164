package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	types: map[ColumnType]string{
		Text:     "TEXT",
		Integer:  "INTEGER",
		Float:    "REAL",
		Boolean:  "BOOLEAN",
		Date:     "DATE",
		DateTime: "DATETIME",
	},
	idColumn:    "INTEGER PRIMARY KEY AUTOINCREMENT",
	fingerprint: "TEXT NOT NULL UNIQUE",
	loadedAt:    "DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP",
	placeholder: func(int) string { return "?" },
}

// SQLStore persists tables through database/sql. It backs local SQLite runs.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	logger  zerolog.Logger
}

var _ Store = (*SQLStore)(nil)

// OpenSQLite opens a SQLite database. ":memory:" is shared across the pool.
func OpenSQLite(ctx context.Context, path string, logger zerolog.Logger) (*SQLStore, error) {
	connStr := path
	if path == ":memory:" {
		connStr = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows a single writer; one connection avoids SQLITE_BUSY and
	// keeps in-memory databases visible to every caller.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return NewSQLStore(db, logger), nil
}

// NewSQLStore wraps an open SQLite handle.
func NewSQLStore(db *sql.DB, logger zerolog.Logger) *SQLStore {
	return &SQLStore{db: db, dialect: sqliteDialect, logger: logger.With().Str("component", "sqlite_store").Logger()}
}

// Close releases the database handle.
func (s *SQLStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	if err := s.db.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("close sqlite")
	}
}

func (s *SQLStore) getDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotConfigured
	}
	return s.db, nil
}

// CreateTableIfAbsent provisions the table with its unique fingerprint column.
func (s *SQLStore) CreateTableIfAbsent(ctx context.Context, table Table) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, s.dialect.createTableSQL(table)); err != nil {
		return fmt.Errorf("create table %s: %w", table.Name, err)
	}
	return nil
}

// Fingerprints reads every stored fingerprint of a table.
func (s *SQLStore) Fingerprints(ctx context.Context, table string) (map[string]struct{}, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, fingerprintsSQL(table))
	if err != nil {
		return nil, fmt.Errorf("list fingerprints of %s: %w", table, err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		out[fp] = struct{}{}
	}
	return out, rows.Err()
}

// InsertMany inserts rows in one transaction, skipping fingerprints already
// present. It returns the number of rows actually inserted.
func (s *SQLStore) InsertMany(ctx context.Context, table Table, rows []Row) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}
	for _, r := range rows {
		if err := checkRow(table, r); err != nil {
			return 0, err
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin insert into %s: %w", table.Name, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.dialect.insertSQL(table))
	if err != nil {
		return 0, fmt.Errorf("prepare insert into %s: %w", table.Name, err)
	}
	defer stmt.Close()

	var inserted int64
	for _, r := range rows {
		res, err := stmt.ExecContext(ctx, rowArgs(r)...)
		if err != nil {
			return 0, fmt.Errorf("insert into %s: %w", table.Name, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		inserted += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit insert into %s: %w", table.Name, err)
	}
	return inserted, nil
}

// SelectAll reads the given columns of every row, oldest first. No columns means all.
func (s *SQLStore) SelectAll(ctx context.Context, table string, columns []string) (Records, error) {
	return s.selectRecords(ctx, selectAllSQL(table, columns))
}

// SelectRecent reads the most recently loaded rows, newest first.
func (s *SQLStore) SelectRecent(ctx context.Context, table string, columns []string, limit int) (Records, error) {
	return s.selectRecords(ctx, selectRecentSQL(table, columns, "?"), limit)
}

func (s *SQLStore) selectRecords(ctx context.Context, query string, args ...any) (Records, error) {
	db, err := s.getDB()
	if err != nil {
		return Records{}, err
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return Records{}, fmt.Errorf("select records: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return Records{}, fmt.Errorf("read columns: %w", err)
	}
	out := Records{Columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Records{}, fmt.Errorf("scan record: %w", err)
		}
		out.Rows = append(out.Rows, values)
	}
	return out, rows.Err()
}
