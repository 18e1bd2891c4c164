// Package fingerprint derives the deduplication keys stored alongside every
// persisted observation and series-info row.
//
// The canonical form is versioned by KeyVersion. Changing the field
// selection, the field order or any formatting rule below makes every key
// already persisted unreachable, so incremental loads would re-insert the
// whole history. Such a change needs a new KeyVersion and a migration of the
// stored keys.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fred-ingest/internal/model"
)

const (
	// KeyVersion identifies the canonical form implemented here.
	KeyVersion = 1
	// ValuePlaces is the fixed number of decimals numeric fields are rendered with.
	ValuePlaces = 5
	// DateLayout renders dates before hashing.
	DateLayout = "2006-01-02"

	separator = "\x1f"
	null      = "null"
)

// Mode selects whether the published date takes part in an observation key.
type Mode int

const (
	// WithoutRevision keys on (reporting date, value, series).
	WithoutRevision Mode = iota
	// WithRevision keys on (published date, reporting date, value, series).
	WithRevision
)

// ModeFor returns the key mode used for rows fetched in the given revision mode.
func ModeFor(m model.RevisionMode) Mode {
	if m == model.LatestOnly {
		return WithoutRevision
	}
	return WithRevision
}

// Sum hashes the canonical rendering of fields, in order, to a hex SHA-256 digest.
func Sum(fields ...any) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = Format(f)
	}
	digest := sha256.Sum256([]byte(strings.Join(parts, separator)))
	return hex.EncodeToString(digest[:])
}

// Observation returns the key of one observation.
func Observation(mode Mode, series model.SeriesID, reporting, published time.Time, value decimal.NullDecimal) string {
	if mode == WithRevision {
		return Sum(published, reporting, value, series)
	}
	return Sum(reporting, value, series)
}

// SeriesInfo returns the key of a series metadata row. Volatile fields such as
// popularity are not part of it.
func SeriesInfo(series model.SeriesID, frequency, units string) string {
	return Sum(series, frequency, units)
}

// Format renders one field in canonical form.
func Format(v any) string {
	switch x := v.(type) {
	case nil:
		return null
	case string:
		return x
	case model.SeriesID:
		return string(x)
	case time.Time:
		if x.IsZero() {
			return null
		}
		return x.UTC().Format(DateLayout)
	case *time.Time:
		if x == nil {
			return null
		}
		return Format(*x)
	case decimal.Decimal:
		return x.StringFixed(ValuePlaces)
	case decimal.NullDecimal:
		if !x.Valid {
			return null
		}
		return x.Decimal.StringFixed(ValuePlaces)
	case float64:
		return formatFloat(x)
	case float32:
		return formatFloat(float64(x))
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func formatFloat(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return null
	}
	return decimal.NewFromFloat(f).StringFixed(ValuePlaces)
}
