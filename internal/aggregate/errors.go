package aggregate

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingColumn is matched by *MissingColumnError.
	ErrMissingColumn = errors.New("missing required column")
	// ErrUnreadable wraps failures to open or read the input at all.
	ErrUnreadable = errors.New("unreadable input")
)

type MissingColumnError struct {
	Column   Column
	Accepted []string
	Header   []string
}

func (e *MissingColumnError) Error() string {
	if e == nil {
		return ErrMissingColumn.Error()
	}
	return fmt.Sprintf(
		"%s %q (accepted names: %s; header: %s)",
		ErrMissingColumn.Error(),
		string(e.Column),
		strings.Join(e.Accepted, "|"),
		strings.Join(e.Header, ","),
	)
}

func (e *MissingColumnError) Is(target error) bool {
	return target == ErrMissingColumn
}

type SkipReason string

const (
	SkipBadYear    SkipReason = "bad_year"
	SkipBadBrand   SkipReason = "bad_brand"
	SkipBadPrice   SkipReason = "bad_price"
	SkipFieldCount SkipReason = "field_count"
	SkipMalformed  SkipReason = "malformed"
)

// RowError describes one data row that was skipped.
type RowError struct {
	Line   int
	Reason SkipReason
	Value  string
	Err    error
}

func (e *RowError) Error() string {
	if e == nil {
		return "malformed row"
	}
	if e.Err != nil {
		return fmt.Sprintf("line %d: %s %q: %v", e.Line, e.Reason, e.Value, e.Err)
	}
	return fmt.Sprintf("line %d: %s %q", e.Line, e.Reason, e.Value)
}

func (e *RowError) Unwrap() error { return e.Err }
