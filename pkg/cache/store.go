// Package cache provides key-value stores with per-entry expiry used to
// cache courier reference data and sessions.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when a key is absent or expired.
var ErrNotFound = errors.New("cache: key not found")

// Store is a key-value cache with per-entry expiry.
type Store interface {
	// Has reports whether key holds an unexpired value.
	Has(ctx context.Context, key string) (bool, error)

	// Get returns the value for key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value under key for ttl. A zero ttl never expires.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Forget removes key. Forgetting a missing key is not an error.
	Forget(ctx context.Context, key string) error

	// Close releases the store's resources.
	Close() error
}
