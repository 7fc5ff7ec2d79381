package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingTimestamp is returned when a page has no generation timestamp marker.
	ErrMissingTimestamp = errors.New("missing report timestamp")

	// ErrUnknownZone is returned when a station time zone cannot be loaded.
	ErrUnknownZone = errors.New("unknown time zone")
)

// FormatError reports a timestamp that does not match the expected layout.
type FormatError struct {
	Value  string
	Layout string
	Err    error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("timestamp %q does not match layout %q: %v", e.Value, e.Layout, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// ParseErrorKind classifies page parse failures.
type ParseErrorKind string

const (
	KindMissingTimestamp ParseErrorKind = "missing_timestamp"
	KindInvalidDateTime  ParseErrorKind = "invalid_datetime"
)

// ParseError aborts parsing of a whole page. Box is -1 for page-level failures.
type ParseError struct {
	Kind ParseErrorKind
	Box  int
	Err  error
}

func (e *ParseError) Error() string {
	if e.Box < 0 {
		return fmt.Sprintf("parse page: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("parse page: box %d: %s: %v", e.Box, e.Kind, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
