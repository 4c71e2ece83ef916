package storage

import (
	"fmt"
	"time"
)

// WithRetry runs fn up to attempts times, sleeping backoff between tries.
// Transient storage errors (locked database, brief I/O hiccups) exhaust the
// budget before escalating to the caller as a recoverable error.
func WithRetry(attempts int, backoff time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i < attempts-1 {
			time.Sleep(backoff)
		}
	}
	return fmt.Errorf("exhausted %d attempts: %w", attempts, err)
}
