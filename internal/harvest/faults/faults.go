// Package faults defines the error taxonomy the pipeline branches on.
package faults

import (
	"errors"
	"fmt"
)

// ErrChallenge is returned when the source answered with an anti-automation
// challenge instead of a normal response. The caller should refresh the
// session and retry once.
var ErrChallenge = errors.New("challenge required")

// ErrCorruptState is returned when a progress or metadata file exists but
// cannot be decoded. This is fatal at the top level: silently reinitializing
// would mask data loss.
var ErrCorruptState = errors.New("corrupt state file")

// OverCapError reports a range whose result count meets or exceeds the
// listing cap. Pagination past the cap is never attempted; the range must be
// split instead.
type OverCapError struct {
	Count int
	Cap   int
}

func (e *OverCapError) Error() string {
	return fmt.Sprintf("range count %d meets result cap %d", e.Count, e.Cap)
}

// Transient wraps an error that is worth retrying with backoff.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err}
}

type transientError struct{ err error }

func (e *transientError) Error() string { return "transient: " + e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}
