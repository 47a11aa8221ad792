package envdisplay

import (
	"context"
	"errors"
	"fmt"
)

// InitError reports a device that is absent or returned a malformed identity
// or calibration during startup.
type InitError struct {
	Device string
	Err    error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("%s: initialization failed: %v", e.Device, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// MeasureError reports a failed measurement cycle.
type MeasureError struct {
	Device string
	Err    error
}

func (e *MeasureError) Error() string {
	return fmt.Sprintf("%s: measurement failed: %v", e.Device, e.Err)
}

func (e *MeasureError) Unwrap() error { return e.Err }

// IoError reports a failed steady-state write or render.
type IoError struct {
	Device string
	Op     string
	Err    error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("%s: %s failed: %v", e.Device, e.Op, e.Err)
}

func (e *IoError) Unwrap() error { return e.Err }

// Retryable tells whether a failed cycle may be retried on the next one.
// Initialization failures and context cancellation are never retryable.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var initErr *InitError
	if errors.As(err, &initErr) {
		return false
	}
	var measureErr *MeasureError
	var ioErr *IoError
	if errors.As(err, &measureErr) || errors.As(err, &ioErr) {
		return true
	}
	for _, target := range []error{ErrBusBusy, ErrNoAck, ErrTimeout, ErrIO, ErrMalformed} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
