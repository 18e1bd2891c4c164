package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"fred-ingest/internal/analysis"
)

// Export writes a stored table as CSV, to CSVPath or to Out when empty.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	table, columns, err := a.resolveTable(opts.Table)
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	records, err := store.SelectAll(ctx, table, columns)
	if err != nil {
		return err
	}

	text, err := analysis.RenderCSV(records.Columns, records.Rows)
	if err != nil {
		return err
	}

	if opts.CSVPath == "" {
		_, err = fmt.Fprint(a.Out, text)
		return err
	}

	if err := ensureDir(opts.CSVPath); err != nil {
		return err
	}
	if err := os.WriteFile(opts.CSVPath, []byte(text), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", opts.CSVPath, err)
	}
	a.Logger.Info().Str("table", table).Int("rows", len(records.Rows)).Str("path", opts.CSVPath).Msg("table exported")
	return nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
