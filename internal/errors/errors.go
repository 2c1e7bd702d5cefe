// Package errors defines the typed error kinds raised across the background
// engine, and thin wrappers over go-errors/errors and go-multierror for
// stack-traced construction and aggregation, in the same shape terragrunt's
// config package uses for its own config-time errors.
package errors

import (
	"fmt"

	goerrors "github.com/go-errors/errors"
	"github.com/hashicorp/go-multierror"
)

// Kind classifies a failure for callers that want to branch on it without
// a type switch over every concrete error struct.
type Kind string

const (
	// KindInvalidReference marks a malformed or unrecognized argument shape
	// passed to the Query Surface.
	KindInvalidReference Kind = "invalid_reference"
	// KindAmbiguousReference marks a termination that resolved to more than
	// one candidate with no preferred-provider tie-break available.
	KindAmbiguousReference Kind = "ambiguous_reference"
	// KindNoLciDatabase marks an operation that requires the background
	// matrices A and B but the Flat Background holds none.
	KindNoLciDatabase Kind = "no_lci_database"
	// KindUnsupportedFiletype marks a serialization path given a file
	// extension the matfile/ordmanifest readers don't recognize.
	KindUnsupportedFiletype Kind = "unsupported_filetype"
	// KindUnknownTermination marks a (process, flow) pair that is in neither
	// the foreground nor the background index.
	KindUnknownTermination Kind = "unknown_termination"
	// KindNotImplemented marks a solver mode or query path that is named by
	// the configuration but not (yet) implemented.
	KindNotImplemented Kind = "not_implemented"
)

// Kinded is implemented by every typed error in this package so callers can
// recover the Kind without a type switch.
type Kinded interface {
	error
	Kind() Kind
}

// InvalidReferenceError reports a Query Surface argument shape that does not
// match any of the accepted forms.
type InvalidReferenceError struct {
	Got string
}

func (e InvalidReferenceError) Error() string {
	return fmt.Sprintf("invalid reference: %s", e.Got)
}

// Kind implements Kinded.
func (e InvalidReferenceError) Kind() Kind { return KindInvalidReference }

// InvalidDirectionError reports a direction string outside {"Input",
// "Output"}.
type InvalidDirectionError struct {
	Value string
}

func (e InvalidDirectionError) Error() string {
	return fmt.Sprintf("invalid direction: %q", e.Value)
}

// Kind implements Kinded.
func (e InvalidDirectionError) Kind() Kind { return KindInvalidReference }

// AmbiguousTerminationError reports a flow/direction pair with more than one
// candidate termination and no way to prefer one.
type AmbiguousTerminationError struct {
	FlowRef    string
	Candidates int
}

func (e AmbiguousTerminationError) Error() string {
	return fmt.Sprintf("ambiguous termination for flow %s: %d candidates", e.FlowRef, e.Candidates)
}

// Kind implements Kinded.
func (e AmbiguousTerminationError) Kind() Kind { return KindAmbiguousReference }

// NoLciDatabaseError reports a query that needs the background matrices A
// and B, issued against a Flat Background that holds none.
type NoLciDatabaseError struct {
	Op string
}

func (e NoLciDatabaseError) Error() string {
	return fmt.Sprintf("no lci database available for %s", e.Op)
}

// Kind implements Kinded.
func (e NoLciDatabaseError) Kind() Kind { return KindNoLciDatabase }

// UnsupportedFiletypeError reports a serialization path given an extension
// with no registered codec.
type UnsupportedFiletypeError struct {
	Path string
	Ext  string
}

func (e UnsupportedFiletypeError) Error() string {
	return fmt.Sprintf("unsupported filetype %q for %s", e.Ext, e.Path)
}

// Kind implements Kinded.
func (e UnsupportedFiletypeError) Kind() Kind { return KindUnsupportedFiletype }

// UnknownTerminationError reports a (process, flow) pair that is in neither
// the foreground nor the background index.
type UnknownTerminationError struct {
	NodeRef string
	FlowRef string
}

func (e UnknownTerminationError) Error() string {
	return fmt.Sprintf("unknown termination for %s / %s", e.NodeRef, e.FlowRef)
}

// Kind implements Kinded.
func (e UnknownTerminationError) Kind() Kind { return KindUnknownTermination }

// NotImplementedError reports a named but unimplemented solver mode or
// query path.
type NotImplementedError struct {
	Feature string
}

func (e NotImplementedError) Error() string {
	return fmt.Sprintf("not implemented: %s", e.Feature)
}

// Kind implements Kinded.
func (e NotImplementedError) Kind() Kind { return KindNotImplemented }

// New wraps err with a captured stack trace.
func New(e error) error {
	return goerrors.Wrap(e, 1)
}

// Errorf constructs a stack-traced error from a format string, mirroring
// go-errors/errors.Errorf.
func Errorf(format string, args ...any) error {
	return goerrors.Errorf(format, args...)
}

// As is a re-export of the standard errors.As for callers that only import
// this package.
func As(err error, target any) bool {
	return goerrors.As(err, target)
}

// WithStackTrace attaches a stack trace to err if it does not already carry
// one.
func WithStackTrace(err error) error {
	if err == nil {
		return nil
	}
	return goerrors.Wrap(err, 1)
}

// MultiError accumulates independent failures from a batch operation into
// a single error value.
type MultiError struct {
	inner *multierror.Error
}

// Append records err into the accumulator. A nil err is a no-op.
func (m *MultiError) Append(err error) *MultiError {
	if err == nil {
		return m
	}
	m.inner = multierror.Append(m.inner, err)
	return m
}

// ErrorOrNil returns the accumulated error, or nil if nothing was appended.
func (m *MultiError) ErrorOrNil() error {
	if m.inner == nil {
		return nil
	}
	return m.inner.ErrorOrNil()
}

// Len reports how many errors have been appended.
func (m *MultiError) Len() int {
	if m.inner == nil {
		return 0
	}
	return len(m.inner.Errors)
}
