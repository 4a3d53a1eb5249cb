// Package kvstore provides the key-value store behind the security engine's
// trust, captcha and session state. Implementations must be safe for
// concurrent use; per-key atomicity is exposed through CompareAndSwap so that
// read-modify-write cycles on a single identity never interleave.
package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("kvstore: key not found")

// ErrConflict is returned by CompareAndSwap when the stored value no longer
// matches the expected value. Callers retry with a fresh read.
var ErrConflict = errors.New("kvstore: compare-and-swap conflict")

// Store is the persistence contract for security state. Values are opaque
// byte slices; callers own serialization. A zero TTL means no expiry.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any existing value.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// CompareAndSwap replaces the value under key with next only if the
	// current value equals expected. A nil expected asserts the key is
	// absent (create-if-missing). Returns ErrConflict when the assertion
	// fails and ErrNotFound when expected is non-nil and the key is gone.
	CompareAndSwap(ctx context.Context, key string, expected, next []byte, ttl time.Duration) error

	// Close releases resources and stops background goroutines.
	Close() error
}
