// Package errors wraps github.com/pkg/errors with a marker type for fatal
// errors. Code in this module never panics to report a domain failure: it
// returns an error and, where the failure should halt the streaming
// engine, marks that error as fatal with Fatal/Fatalf so callers can test
// for it with IsFatal instead of inspecting error strings.
package errors

import "github.com/pkg/errors"

// New, Errorf, Wrap, WithStack and WithMessage are re-exported so the rest
// of the module never imports github.com/pkg/errors directly.
var (
	New         = errors.New
	Errorf      = errors.Errorf
	Wrap        = errors.Wrap
	Wrapf       = errors.Wrapf
	WithStack   = errors.WithStack
	WithMessage = errors.WithMessage
	Is          = errors.Is
	As          = errors.As
	Unwrap      = errors.Unwrap
)

type fatalError struct {
	error
}

// Fatal creates an error that IsFatal reports as unrecoverable: the
// dictionary failed to load, the startup scan failed, or a chunk rollover
// batch could not be committed. The streaming engine halts generation
// rather than risk broadcasting a character it could not durably commit.
func Fatal(s string) error {
	return fatalError{errors.New(s)}
}

// Fatalf is Fatal with fmt.Sprintf-style formatting.
func Fatalf(format string, args ...interface{}) error {
	return fatalError{errors.Errorf(format, args...)}
}

// IsFatal reports whether err (or anything it wraps) was created with
// Fatal or Fatalf.
func IsFatal(err error) bool {
	var f fatalError
	return errors.As(err, &f)
}

func (f fatalError) Unwrap() error { return f.error }
