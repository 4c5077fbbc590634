// Package ctxerr provides functions to wrap errors with annotations and a
// stack trace, tagged with the identifier of the monitoring run found in the
// context.
//
// Typical uses of this package should be to call New or Wrap[f] as close as
// possible from where the error is encountered, and to log the error once,
// where it is absorbed (e.g. at the boundary of an extraction strategy or a
// notifier) or where it aborts the command.
package ctxerr

import (
	"context"
	"errors"

	pkgerrors "github.com/pkg/errors"
)

type key int

const runIDKey key = 0

// NewContext returns a context derived from ctx that carries the run
// identifier, which is added to every error created or wrapped with that
// context.
func NewContext(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunID returns the run identifier stored in ctx, if any.
func RunID(ctx context.Context) string {
	v, _ := ctx.Value(runIDKey).(string)
	return v
}

// New creates a new error with the provided error message.
func New(ctx context.Context, errMsg string) error {
	return ensureCommonMetadata(ctx, errors.New(errMsg))
}

// Errorf creates a new error with the provided formatted message.
func Errorf(ctx context.Context, fmsg string, args ...interface{}) error {
	return ensureCommonMetadata(ctx, pkgerrors.Errorf(fmsg, args...))
}

// Wrap annotates err with the provided message. It returns nil if err is
// nil.
func Wrap(ctx context.Context, err error, msg string) error {
	if err == nil {
		return nil
	}
	err = ensureCommonMetadata(ctx, err)
	return pkgerrors.Wrap(err, msg)
}

// Wrapf annotates err with the provided formatted message. It returns nil if
// err is nil.
func Wrapf(ctx context.Context, err error, fmsg string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	err = ensureCommonMetadata(ctx, err)
	return pkgerrors.Wrapf(err, fmsg, args...)
}

// Cause returns the root error in err's chain.
func Cause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

// RunIDFromError returns the run identifier attached to err, if any.
func RunIDFromError(err error) string {
	var re *runError
	if errors.As(err, &re) {
		return re.runID
	}
	return ""
}

type runError struct {
	runID string
	err   error
}

func (e *runError) Error() string { return e.err.Error() }
func (e *runError) Unwrap() error { return e.err }

func ensureCommonMetadata(ctx context.Context, err error) error {
	var re *runError
	if err == nil || errors.As(err, &re) {
		return err
	}

	// only the error closest to the failure gets the stack trace
	var st interface{ StackTrace() pkgerrors.StackTrace }
	if !errors.As(err, &st) {
		err = pkgerrors.WithStack(err)
	}
	return &runError{runID: RunID(ctx), err: err}
}
