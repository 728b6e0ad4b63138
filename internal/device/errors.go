package device

import (
	"fmt"

	"github.com/gravitational/trace"
)

// InterruptedError is returned when waiting for a device lock was cancelled.
// No device state has changed; the caller may retry.
type InterruptedError struct {
	Minor int
	Err   error
}

func (e *InterruptedError) Error() string {
	return fmt.Sprintf("device %d: lock wait interrupted: %v", e.Minor, e.Err)
}

func IsInterrupted(err error) bool {
	_, ok := trace.Unwrap(err).(*InterruptedError)
	return ok
}

// IsOutOfMemory reports whether err is a failed segment or page allocation.
func IsOutOfMemory(err error) bool {
	return trace.IsLimitExceeded(err)
}
