// Package storage holds persistence-level contracts shared across the domain
// repositories.
package storage

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrConcurrencyConflict is returned by repositories when an atomic
// conditional update lost a race against a concurrent writer and the
// operation should be re-read and retried.
var ErrConcurrencyConflict = errors.New("concurrent update conflict")

// maxRetries bounds the internal retry loop for lost conditional updates.
const maxRetries = 3

// WithRetry runs fn, retrying up to maxRetries times while it returns
// ErrConcurrencyConflict. Any other outcome is returned as-is; after the
// final attempt the conflict itself surfaces to the caller.
func WithRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = fn(ctx)
		if !errors.Is(err, ErrConcurrencyConflict) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}
