// Package diag defines the error taxonomy shared by the synthesizer.
//
// Every failure the engine reports falls into one of three categories:
//   - Configuration errors: the requested instruction instance cannot be
//     synthesized (illegal EMUL, exhausted register pool, missing vset kind).
//   - Report errors: the simulator state report is absent where an update was
//     expected, or cannot be parsed.
//   - Internal errors: the synthesizer violated one of its own invariants.
//
// Callers test categories with errors.Is against the sentinel values.
package diag

import (
	"errors"
	"fmt"
)

// Sentinel errors for each category.
var (
	ErrConfig   = errors.New("configuration error")
	ErrReport   = errors.New("simulator report error")
	ErrInternal = errors.New("internal synthesizer error")

	// ErrNoUpdate marks a report that carried no update for an instruction
	// whose label does not declare a no-update expectation. It is also a
	// report error.
	ErrNoUpdate = errors.New("unexpected no-update")
)

// Category classifies an Error.
type Category int

// Error categories.
const (
	CategoryConfig Category = iota
	CategoryReport
	CategoryInternal
	CategoryNoUpdate
)

func (c Category) String() string {
	switch c {
	case CategoryConfig:
		return "config"
	case CategoryReport:
		return "report"
	case CategoryInternal:
		return "internal"
	case CategoryNoUpdate:
		return "no-update"
	default:
		return "unknown"
	}
}

// Error is a categorized synthesizer error.
type Error struct {
	Category Category
	Msg      string
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Category, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s error: %s", e.Category, e.Msg)
}

// Unwrap exposes the category sentinel and the cause (if any) to errors.Is.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 3)
	switch e.Category {
	case CategoryConfig:
		errs = append(errs, ErrConfig)
	case CategoryReport:
		errs = append(errs, ErrReport)
	case CategoryInternal:
		errs = append(errs, ErrInternal)
	case CategoryNoUpdate:
		errs = append(errs, ErrNoUpdate, ErrReport)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// Configf returns a configuration error.
func Configf(format string, args ...any) error {
	return &Error{Category: CategoryConfig, Msg: fmt.Sprintf(format, args...)}
}

// Reportf returns a simulator report error.
func Reportf(format string, args ...any) error {
	return &Error{Category: CategoryReport, Msg: fmt.Sprintf(format, args...)}
}

// Internalf returns an internal synthesizer error.
func Internalf(format string, args ...any) error {
	return &Error{Category: CategoryInternal, Msg: fmt.Sprintf(format, args...)}
}

// NoUpdatef returns an unexpected no-update error.
func NoUpdatef(format string, args ...any) error {
	return &Error{Category: CategoryNoUpdate, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a category and message to an underlying error.
func Wrap(c Category, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Category: c, Msg: fmt.Sprintf(format, args...), Cause: err}
}

// CategoryOf returns the category of err, if it is (or wraps) an *Error.
func CategoryOf(err error) (Category, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Category, true
	}
	return 0, false
}
