// Package idempotency records the outcome of client-keyed operations so that a
// retried request returns the first attempt's result instead of re-executing.
// Entries live in durable storage; a process restart must not forget them.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

var (
	// ErrInProgress means another attempt with the same key has not finished.
	ErrInProgress = errors.New("idempotent request in progress")
	// ErrConflict means the key was reused for a different request.
	ErrConflict = errors.New("idempotency key reused with different request")
	// ErrNotHeld is returned by Complete when no processing entry exists.
	ErrNotHeld = errors.New("idempotency key not held")
)

const (
	statusProcessing = "processing"
	statusCompleted  = "completed"

	// DefaultTTL keeps completed outcomes replayable for a day.
	DefaultTTL = 24 * time.Hour
	// DefaultStaleWindow is how long a processing entry may sit before another
	// attempt is allowed to take it over.
	DefaultStaleWindow = 2 * time.Minute
)

// Store persists idempotency entries scoped per caller.
//
// Acquire reserves (scope, key). When it returns acquired=true the caller owns
// the key and must either Complete or Release it. When a completed entry with
// the same request hash exists, the stored response is returned with
// acquired=false.
type Store interface {
	Acquire(ctx context.Context, scope, key, requestHash string) (cached []byte, acquired bool, err error)
	Complete(ctx context.Context, scope, key string, response []byte) error
	Release(ctx context.Context, scope, key string) error
}

// Options tunes retention.
type Options struct {
	TTL         time.Duration
	StaleWindow time.Duration
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.StaleWindow <= 0 {
		o.StaleWindow = DefaultStaleWindow
	}
	return o
}

// HashRequest derives a stable fingerprint from the request's identifying
// fields.
func HashRequest(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// Purger is implemented by stores that can drop expired entries in bulk.
type Purger interface {
	Purge(ctx context.Context) (int64, error)
}
