package engine

import "time"

// SetSubmitRetryDelay overrides the pause between submit attempts for the
// duration of a test.
func SetSubmitRetryDelay(d time.Duration) (restore func()) {
	prev := submitRetryDelay
	submitRetryDelay = d
	return func() { submitRetryDelay = prev }
}
