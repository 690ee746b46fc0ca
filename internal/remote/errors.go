// VitalSync - Incremental Health Metrics Mirror
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vitalsync/vitalsync

package remote

import (
	"errors"
	"fmt"
)

// ShapeError reports a response that doesn't match the expected
// structure: malformed bodies, validation failures, missing required
// fields. Shape errors are not retried — the remote simply has nothing
// usable for that (metric, date) — and they never fail the date.
type ShapeError struct {
	Metric string
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *ShapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("shape error for %s: %s: %v", e.Metric, e.Reason, e.Err)
	}
	return fmt.Sprintf("shape error for %s: %s", e.Metric, e.Reason)
}

// Unwrap returns the underlying cause, if any.
func (e *ShapeError) Unwrap() error { return e.Err }

// Shape wraps an error as a non-retryable shape error.
func Shape(metric, reason string, err error) error {
	return &ShapeError{Metric: metric, Reason: reason, Err: err}
}

// IsShape reports whether err is (or wraps) a ShapeError.
func IsShape(err error) bool {
	var se *ShapeError
	return errors.As(err, &se)
}
