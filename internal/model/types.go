package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SeriesID names one remote time series, e.g. "UNRATE".
type SeriesID string

// RevisionMode selects which vintages of a series are fetched.
type RevisionMode int

const (
	// LatestOnly returns the current value for every reporting date.
	LatestOnly RevisionMode = iota
	// FirstOnly returns the earliest published value for every reporting date.
	FirstOnly
	// AllRevisions returns every published vintage.
	AllRevisions
)

func (m RevisionMode) String() string {
	switch m {
	case LatestOnly:
		return "latest"
	case FirstOnly:
		return "first"
	case AllRevisions:
		return "all"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseRevisionMode accepts the names used in config and on the command line.
func ParseRevisionMode(s string) (RevisionMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "latest", "latest_only", "revised":
		return LatestOnly, nil
	case "first", "first_only", "unrevised":
		return FirstOnly, nil
	case "all", "all_revisions":
		return AllRevisions, nil
	default:
		return 0, fmt.Errorf("unknown revision mode %q", s)
	}
}

// Observation is one reported value of a series. Revisions are separate
// Observations with their own PublishedDate and Fingerprint.
type Observation struct {
	Series         SeriesID
	ReportingDate  time.Time
	PublishedDate  time.Time
	ValidUntilDate *time.Time
	// Value is invalid when the source marks the point as missing.
	Value       decimal.NullDecimal
	WebsiteURL  string
	Fingerprint string
}

// SeriesInfo holds selected metadata fields of a series.
type SeriesInfo struct {
	Series      SeriesID
	Fields      map[string]string
	Fingerprint string
}

// Field returns the named metadata value or "".
func (s SeriesInfo) Field(name string) string {
	if s.Fields == nil {
		return ""
	}
	return s.Fields[name]
}

// Category is a node of the remote category tree.
type Category struct {
	ID       int
	Name     string
	ParentID int
}
