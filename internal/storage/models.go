package storage

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"fred-ingest/internal/model"
)

// ColumnType is the storage class of a column, inferred from Go values.
type ColumnType int

const (
	Text ColumnType = iota
	Integer
	Float
	Boolean
	Date
	DateTime
)

func (t ColumnType) String() string {
	switch t {
	case Integer:
		return "integer"
	case Float:
		return "float"
	case Boolean:
		return "boolean"
	case Date:
		return "date"
	case DateTime:
		return "datetime"
	default:
		return "text"
	}
}

// InferColumnType maps a sample value to a column type. Times at midnight UTC
// are dates; anything unrecognised is stored as text.
func InferColumnType(v any) ColumnType {
	switch x := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32:
		return Integer
	case float32, float64, decimal.Decimal, decimal.NullDecimal:
		return Float
	case bool:
		return Boolean
	case time.Time:
		return timeType(x)
	case *time.Time:
		if x == nil {
			return Date
		}
		return timeType(*x)
	default:
		return Text
	}
}

func timeType(t time.Time) ColumnType {
	u := t.UTC()
	if u.Hour() == 0 && u.Minute() == 0 && u.Second() == 0 && u.Nanosecond() == 0 {
		return Date
	}
	return DateTime
}

// Column describes one data column.
type Column struct {
	Name string
	Type ColumnType
}

// Table describes a target table. Every table also carries an auto-increment
// id, a unique fingerprint and a loaded_at timestamp, which are not listed in
// Columns.
type Table struct {
	Name    string
	Columns []Column
}

// ColumnNames returns the data column names in order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// InferTable builds a table descriptor from column names and one prototype value per column.
func InferTable(name string, columns []string, prototype []any) Table {
	t := Table{Name: name, Columns: make([]Column, len(columns))}
	for i, c := range columns {
		var sample any
		if i < len(prototype) {
			sample = prototype[i]
		}
		t.Columns[i] = Column{Name: c, Type: InferColumnType(sample)}
	}
	return t
}

// Row is one record to insert; Values align with Table.Columns.
type Row struct {
	Fingerprint string
	Values      []any
}

// ObservationColumns are the data columns of every observation table.
var ObservationColumns = []string{
	"series_id",
	"reporting_date",
	"published_date",
	"valid_until_date",
	"value",
	"website_url",
}

var observationPrototype = []any{
	"",
	time.Time{},
	time.Time{},
	(*time.Time)(nil),
	0.0,
	"",
}

// ObservationTable describes an observation table.
func ObservationTable(name string) Table {
	return InferTable(name, ObservationColumns, observationPrototype)
}

// ObservationRows converts observations into insertable rows.
func ObservationRows(obs []model.Observation) []Row {
	rows := make([]Row, len(obs))
	for i, o := range obs {
		var validUntil any
		if o.ValidUntilDate != nil {
			validUntil = o.ValidUntilDate.UTC()
		}
		rows[i] = Row{
			Fingerprint: o.Fingerprint,
			Values: []any{
				string(o.Series),
				o.ReportingDate.UTC(),
				o.PublishedDate.UTC(),
				validUntil,
				nullFloat(o.Value),
				o.WebsiteURL,
			},
		}
	}
	return rows
}

func nullFloat(v decimal.NullDecimal) any {
	if !v.Valid {
		return nil
	}
	f := v.Decimal.InexactFloat64()
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

// InfoTable describes a series info table holding the given metadata fields as text.
func InfoTable(name string, fields []string) Table {
	columns := infoColumns(fields)
	prototype := make([]any, len(columns))
	for i := range prototype {
		prototype[i] = ""
	}
	return InferTable(name, columns, prototype)
}

// InfoRows converts series info into rows matching InfoTable(name, fields).
func InfoRows(infos []model.SeriesInfo, fields []string) []Row {
	columns := infoColumns(fields)
	rows := make([]Row, len(infos))
	for i, info := range infos {
		values := make([]any, len(columns))
		values[0] = string(info.Series)
		for j, c := range columns[1:] {
			values[j+1] = info.Field(c)
		}
		rows[i] = Row{Fingerprint: info.Fingerprint, Values: values}
	}
	return rows
}

func infoColumns(fields []string) []string {
	columns := []string{"series_id"}
	seen := map[string]bool{"series_id": true, "id": true}
	for _, f := range append(append([]string{}, fields...), "frequency", "units", "website_url") {
		if seen[f] {
			continue
		}
		seen[f] = true
		columns = append(columns, f)
	}
	return columns
}
