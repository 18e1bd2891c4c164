package model

import "errors"

var (
	// ErrTransientRemote marks failures worth retrying later (rate limited, server error, network).
	ErrTransientRemote = errors.New("transient remote error")
	// ErrFatalRemote marks failures that will not succeed on retry (bad request, not found).
	ErrFatalRemote = errors.New("fatal remote error")
	// ErrNotFound marks an identifier the remote source does not know.
	ErrNotFound = errors.New("series not found")
)

// Status classifies a FetchOutcome.
type Status int

const (
	StatusSuccess Status = iota
	StatusNotFound
	StatusTransient
	StatusFatal
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusNotFound:
		return "not_found"
	case StatusTransient:
		return "transient_error"
	case StatusFatal:
		return "fatal_error"
	default:
		return "unknown"
	}
}

// Outcome is the single result recorded for one dispatched identifier.
type Outcome[T any] struct {
	Series SeriesID
	Status Status
	Value  T
	Err    error
}

// Success wraps a fetched value.
func Success[T any](id SeriesID, v T) Outcome[T] {
	return Outcome[T]{Series: id, Status: StatusSuccess, Value: v}
}

// NotFound records that the identifier does not exist remotely.
func NotFound[T any](id SeriesID, err error) Outcome[T] {
	if err == nil {
		err = ErrNotFound
	}
	return Outcome[T]{Series: id, Status: StatusNotFound, Err: err}
}

// Transient records a retryable failure.
func Transient[T any](id SeriesID, err error) Outcome[T] {
	return Outcome[T]{Series: id, Status: StatusTransient, Err: err}
}

// Fatal records a non-retryable failure.
func Fatal[T any](id SeriesID, err error) Outcome[T] {
	return Outcome[T]{Series: id, Status: StatusFatal, Err: err}
}

// OK reports whether the outcome is a success.
func (o Outcome[T]) OK() bool {
	return o.Status == StatusSuccess
}

// Message is the user-facing reason for a non-success outcome.
func (o Outcome[T]) Message() string {
	if o.Err != nil {
		return o.Err.Error()
	}
	if o.Status == StatusSuccess {
		return ""
	}
	return o.Status.String()
}
