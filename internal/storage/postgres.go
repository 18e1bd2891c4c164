package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const (
	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

var postgresDialect = dialect{
	types: map[ColumnType]string{
		Text:     "TEXT",
		Integer:  "BIGINT",
		Float:    "DOUBLE PRECISION",
		Boolean:  "BOOLEAN",
		Date:     "DATE",
		DateTime: "TIMESTAMPTZ",
	},
	idColumn:    "BIGSERIAL PRIMARY KEY",
	fingerprint: "TEXT NOT NULL UNIQUE",
	loadedAt:    "TIMESTAMPTZ NOT NULL DEFAULT now()",
	placeholder: func(i int) string { return "$" + strconv.Itoa(i) },
}

// PostgresStore persists tables in PostgreSQL through a pgx pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

var (
	_ Store          = (*PostgresStore)(nil)
	_ AdvisoryLocker = (*PostgresStore)(nil)
)

// NewPostgresStore wires a pgx pool into a Store.
func NewPostgresStore(pool *pgxpool.Pool, logger zerolog.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger.With().Str("component", "postgres_store").Logger()}
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *PostgresStore) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *PostgresStore) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			s.logger.Warn().Err(err).Int64("key", key).Msg("advisory unlock failed")
		}
		conn.Release()
	}
	return unlock, true, nil
}

// CreateTableIfAbsent provisions the table with its unique fingerprint column.
func (s *PostgresStore) CreateTableIfAbsent(ctx context.Context, table Table) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, postgresDialect.createTableSQL(table)); err != nil {
		return fmt.Errorf("create table %s: %w", table.Name, err)
	}
	return nil
}

// Fingerprints reads every stored fingerprint of a table.
func (s *PostgresStore) Fingerprints(ctx context.Context, table string) (map[string]struct{}, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, fingerprintsSQL(table))
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
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// InsertMany inserts rows in one transaction, skipping fingerprints already
// present. It returns the number of rows actually inserted.
func (s *PostgresStore) InsertMany(ctx context.Context, table Table, rows []Row) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	query := postgresDialect.insertSQL(table)
	batch := &pgx.Batch{}
	for _, r := range rows {
		if err := checkRow(table, r); err != nil {
			return 0, err
		}
		batch.Queue(query, rowArgs(r)...)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin insert into %s: %w", table.Name, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	results := tx.SendBatch(ctx, batch)
	var inserted int64
	for range rows {
		tag, err := results.Exec()
		if err != nil {
			_ = results.Close()
			return 0, fmt.Errorf("insert into %s: %w", table.Name, err)
		}
		inserted += tag.RowsAffected()
	}
	if err := results.Close(); err != nil {
		return 0, fmt.Errorf("insert into %s: %w", table.Name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit insert into %s: %w", table.Name, err)
	}
	return inserted, nil
}

// SelectAll reads the given columns of every row, oldest first. No columns means all.
func (s *PostgresStore) SelectAll(ctx context.Context, table string, columns []string) (Records, error) {
	return s.selectRecords(ctx, selectAllSQL(table, columns))
}

// SelectRecent reads the most recently loaded rows, newest first.
func (s *PostgresStore) SelectRecent(ctx context.Context, table string, columns []string, limit int) (Records, error) {
	return s.selectRecords(ctx, selectRecentSQL(table, columns, "$1"), limit)
}

func (s *PostgresStore) selectRecords(ctx context.Context, query string, args ...any) (Records, error) {
	pool, err := s.getPool()
	if err != nil {
		return Records{}, err
	}

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return Records{}, fmt.Errorf("select records: %w", err)
	}
	defer rows.Close()

	var out Records
	for _, fd := range rows.FieldDescriptions() {
		out.Columns = append(out.Columns, fd.Name)
	}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return Records{}, fmt.Errorf("scan record: %w", err)
		}
		out.Rows = append(out.Rows, values)
	}
	if rows.Err() != nil {
		return Records{}, rows.Err()
	}
	return out, nil
}
