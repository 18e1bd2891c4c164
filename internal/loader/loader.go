// Package loader appends only unseen records to a target table.
package loader

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"fred-ingest/internal/metrics"
	"fred-ingest/internal/storage"
)

// PersistenceError reports a failed store operation for one table. The batch
// for that table is abandoned; rows inserted by earlier calls are kept.
type PersistenceError struct {
	Table string
	Op    string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %s: %v", e.Table, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Index is a set of fingerprints already present in a table.
type Index map[string]struct{}

// Has reports whether the fingerprint is present.
func (ix Index) Has(fp string) bool {
	_, ok := ix[fp]
	return ok
}

// Result summarises one incremental load.
type Result struct {
	Table      string
	Candidates int
	Inserted   int64
	Skipped    int
}

// Loader reconciles candidate rows against a store.
type Loader struct {
	store  storage.Store
	logger zerolog.Logger
}

// New constructs a Loader.
func New(store storage.Store, logger zerolog.Logger) *Loader {
	return &Loader{store: store, logger: logger.With().Str("component", "loader").Logger()}
}

// LoadIncremental creates the table when needed, reads its fingerprints and
// inserts the candidates not yet stored, in one transaction.
func (l *Loader) LoadIncremental(ctx context.Context, table storage.Table, rows []storage.Row) (Result, error) {
	if len(rows) == 0 {
		return Result{Table: table.Name}, nil
	}
	if err := l.store.CreateTableIfAbsent(ctx, table); err != nil {
		return Result{Table: table.Name}, &PersistenceError{Table: table.Name, Op: "create table", Err: err}
	}
	existing, err := l.store.Fingerprints(ctx, table.Name)
	if err != nil {
		return Result{Table: table.Name}, &PersistenceError{Table: table.Name, Op: "read fingerprints", Err: err}
	}
	return l.LoadAgainst(ctx, table, rows, existing)
}

// LoadAgainst inserts the candidates missing from index. The store's unique
// fingerprint constraint still drops rows another loader stored after index
// was read.
func (l *Loader) LoadAgainst(ctx context.Context, table storage.Table, rows []storage.Row, index Index) (Result, error) {
	res := Result{Table: table.Name, Candidates: len(rows)}

	fresh := Unseen(rows, index)
	res.Skipped = len(rows) - len(fresh)
	if len(fresh) == 0 {
		l.logger.Debug().Str("table", table.Name).Int("candidates", res.Candidates).Msg("nothing new to load")
		metrics.RowsSkipped.WithLabelValues(table.Name).Add(float64(res.Skipped))
		return res, nil
	}

	inserted, err := l.store.InsertMany(ctx, table, fresh)
	if err != nil {
		return res, &PersistenceError{Table: table.Name, Op: "insert", Err: err}
	}
	res.Inserted = inserted
	// Rows dropped by the conflict clause count as skipped too.
	res.Skipped += len(fresh) - int(inserted)

	metrics.RowsInserted.WithLabelValues(table.Name).Add(float64(res.Inserted))
	metrics.RowsSkipped.WithLabelValues(table.Name).Add(float64(res.Skipped))
	l.logger.Info().
		Str("table", table.Name).
		Int("candidates", res.Candidates).
		Int64("inserted", res.Inserted).
		Int("skipped", res.Skipped).
		Msg("incremental load finished")
	return res, nil
}

// Unseen returns the rows whose fingerprint is neither in index nor repeated
// earlier in rows, preserving order.
func Unseen(rows []storage.Row, index Index) []storage.Row {
	seen := make(map[string]struct{}, len(rows))
	out := make([]storage.Row, 0, len(rows))
	for _, r := range rows {
		if index.Has(r.Fingerprint) {
			continue
		}
		if _, dup := seen[r.Fingerprint]; dup {
			continue
		}
		seen[r.Fingerprint] = struct{}{}
		out = append(out, r)
	}
	return out
}
