package fingerprint

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"fred-ingest/internal/model"
)

func date(s string) time.Time {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func value(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func TestSumDeterministic(t *testing.T) {
	a := Sum(date("2024-01-01"), value("3.7"), model.SeriesID("UNRATE"))
	b := Sum(date("2024-01-01"), value("3.7"), model.SeriesID("UNRATE"))
	if a != b {
		t.Fatalf("same input produced different keys: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
}

func TestSumDiffersOnAnyField(t *testing.T) {
	base := []any{date("2024-01-01"), value("3.7"), "UNRATE"}
	variants := [][]any{
		{date("2024-01-02"), value("3.7"), "UNRATE"},
		{date("2024-01-01"), value("3.8"), "UNRATE"},
		{date("2024-01-01"), value("3.7"), "PAYEMS"},
		{date("2024-01-01"), decimal.NullDecimal{}, "UNRATE"},
		{value("3.7"), date("2024-01-01"), "UNRATE"},
	}
	ref := Sum(base...)
	seen := map[string]int{ref: -1}
	for i, v := range variants {
		got := Sum(v...)
		if prev, ok := seen[got]; ok {
			t.Fatalf("variant %d collides with %d", i, prev)
		}
		seen[got] = i
	}
}

func TestFieldBoundariesMatter(t *testing.T) {
	if Sum("ab", "c") == Sum("a", "bc") {
		t.Fatal("field boundaries must be part of the canonical form")
	}
}

func TestFormatCanonicalValues(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{nil, "null"},
		{decimal.NullDecimal{}, "null"},
		{value("3.7"), "3.70000"},
		{value("1.234567"), "1.23457"},
		{3.7, "3.70000"},
		{math.NaN(), "null"},
		{date("2024-03-01"), "2024-03-01"},
		{(*time.Time)(nil), "null"},
		{model.SeriesID("GDP"), "GDP"},
		{42, "42"},
		{true, "true"},
	}
	for _, tc := range cases {
		if got := Format(tc.in); got != tc.want {
			t.Errorf("Format(%#v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestObservationModes(t *testing.T) {
	reporting := date("2024-01-01")
	v := value("3.7")

	withoutA := Observation(WithoutRevision, "UNRATE", reporting, date("2024-02-01"), v)
	withoutB := Observation(WithoutRevision, "UNRATE", reporting, date("2024-03-01"), v)
	if withoutA != withoutB {
		t.Fatal("published date must not affect WithoutRevision keys")
	}

	withA := Observation(WithRevision, "UNRATE", reporting, date("2024-02-01"), v)
	withB := Observation(WithRevision, "UNRATE", reporting, date("2024-03-01"), v)
	if withA == withB {
		t.Fatal("published date must affect WithRevision keys")
	}
	if withA == withoutA {
		t.Fatal("modes must not share keys")
	}
}

func TestModeFor(t *testing.T) {
	if ModeFor(model.LatestOnly) != WithoutRevision {
		t.Fatal("latest rows key without revision")
	}
	if ModeFor(model.AllRevisions) != WithRevision || ModeFor(model.FirstOnly) != WithRevision {
		t.Fatal("vintage rows key with revision")
	}
}

func TestSeriesInfoIgnoresVolatileFields(t *testing.T) {
	a := SeriesInfo("UNRATE", "Monthly", "Percent")
	b := SeriesInfo("UNRATE", "Monthly", "Percent")
	if a != b {
		t.Fatal("series info key must be stable")
	}
	if a == SeriesInfo("UNRATE", "Quarterly", "Percent") {
		t.Fatal("frequency must affect the key")
	}
}
