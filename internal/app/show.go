package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"fred-ingest/internal/analysis"
	"fred-ingest/internal/fetcher"
	"fred-ingest/internal/model"
	"fred-ingest/internal/storage"
)

// Show prints the most recently loaded rows of a table.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	table, columns, err := a.resolveTable(opts.Table)
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	records, err := store.SelectRecent(ctx, table, columns, opts.Limit)
	if err != nil {
		return err
	}
	if len(records.Rows) == 0 {
		fmt.Fprintf(a.Out, "no rows in %s\n", table)
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, strings.Join(records.Columns, "\t"))
	cells := make([]string, len(records.Columns))
	for _, row := range records.Rows {
		for i := range cells {
			cells[i] = ""
			if i < len(row) {
				cells[i] = sanitizeInline(analysis.FormatCell(row[i]))
			}
		}
		fmt.Fprintln(writer, strings.Join(cells, "\t"))
	}

	return writer.Flush()
}

// resolveTable accepts a revision mode name, "info", or a configured table
// name, and returns the table with its data columns.
func (a *App) resolveTable(name string) (string, []string, error) {
	tables := a.Config.Tables
	name = strings.TrimSpace(name)
	switch {
	case name == "" || strings.EqualFold(name, "info") || name == tables.Info:
		fields := a.Config.Sync.InfoFields
		if len(fields) == 0 {
			fields = fetcher.DefaultInfoFields
		}
		return tables.Info, storage.InfoTable(tables.Info, fields).ColumnNames(), nil
	case name == tables.Latest || name == tables.First || name == tables.All:
		return name, storage.ObservationColumns, nil
	}
	mode, err := model.ParseRevisionMode(name)
	if err != nil {
		return "", nil, fmt.Errorf("unknown table %q: want info, latest, first, all or a configured table name", name)
	}
	return tables.Table(mode), storage.ObservationColumns, nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	cleaned = strings.ReplaceAll(cleaned, "\t", " ")
	return cleaned
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
