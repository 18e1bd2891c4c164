package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"fred-ingest/internal/config"
)

var (
	// ErrNotConfigured indicates the storage backend was not initialised.
	ErrNotConfigured = errors.New("storage: backend not configured")
)

// Store is the relational collaborator of the loader. InsertMany must be
// all-or-nothing and must skip rows whose fingerprint is already stored.
type Store interface {
	CreateTableIfAbsent(ctx context.Context, table Table) error
	Fingerprints(ctx context.Context, table string) (map[string]struct{}, error)
	InsertMany(ctx context.Context, table Table, rows []Row) (int64, error)
	SelectAll(ctx context.Context, table string, columns []string) (Records, error)
	SelectRecent(ctx context.Context, table string, columns []string, limit int) (Records, error)
	Close()
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Records is a tabular read result.
type Records struct {
	Columns []string
	Rows    [][]any
}

// Open connects the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (Store, error) {
	switch cfg.Driver {
	case "", "postgres":
		pool, err := NewPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewPostgresStore(pool, logger), nil
	case "sqlite":
		return OpenSQLite(ctx, cfg.DSN, logger)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func quoteIdents(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}

func selectList(columns []string) string {
	if len(columns) == 0 {
		return "*"
	}
	return quoteIdents(columns)
}

// dialect renders the DDL and DML differences between backends.
type dialect struct {
	types       map[ColumnType]string
	idColumn    string
	fingerprint string
	loadedAt    string
	placeholder func(i int) string
}

func (d dialect) createTableSQL(t Table) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n    id %s,\n    fingerprint %s,\n", quoteIdent(t.Name), d.idColumn, d.fingerprint)
	for _, c := range t.Columns {
		fmt.Fprintf(&b, "    %s %s,\n", quoteIdent(c.Name), d.types[c.Type])
	}
	fmt.Fprintf(&b, "    loaded_at %s\n)", d.loadedAt)
	return b.String()
}

func (d dialect) insertSQL(t Table) string {
	columns := append([]string{"fingerprint"}, t.ColumnNames()...)
	params := make([]string, len(columns))
	for i := range params {
		params[i] = d.placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (fingerprint) DO NOTHING",
		quoteIdent(t.Name), quoteIdents(columns), strings.Join(params, ", "))
}

func fingerprintsSQL(table string) string {
	return fmt.Sprintf("SELECT fingerprint FROM %s", quoteIdent(table))
}

func selectAllSQL(table string, columns []string) string {
	return fmt.Sprintf("SELECT %s FROM %s ORDER BY id", selectList(columns), quoteIdent(table))
}

func selectRecentSQL(table string, columns []string, placeholder string) string {
	return fmt.Sprintf("SELECT %s FROM %s ORDER BY id DESC LIMIT %s", selectList(columns), quoteIdent(table), placeholder)
}

func rowArgs(r Row) []any {
	return append([]any{r.Fingerprint}, r.Values...)
}

func checkRow(t Table, r Row) error {
	if r.Fingerprint == "" {
		return fmt.Errorf("row without fingerprint for table %s", t.Name)
	}
	if len(r.Values) != len(t.Columns) {
		return fmt.Errorf("row has %d values, table %s has %d columns", len(r.Values), t.Name, len(t.Columns))
	}
	return nil
}
