// Package retry is the single bounded-retry policy applied to contended
// storage: SQLite busy/locked errors, ledger document locks and ledger file I/O.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/receipt-ledger/internal/domain/entity"
)

const (
	DefaultAttempts = 3
	DefaultDelay    = 50 * time.Millisecond
)

// Policy retries an operation a bounded number of times with linear backoff:
// the n-th wait lasts n*Delay.
type Policy struct {
	Attempts int
	Delay    time.Duration
}

// Default returns the policy used when nothing is configured
func Default() Policy {
	return Policy{Attempts: DefaultAttempts, Delay: DefaultDelay}
}

// Classifier reports whether an error is transient contention worth retrying
type Classifier func(error) bool

// Do runs op until it succeeds, fails with a non-retryable error, or the
// attempts are used up. Exhaustion is reported as entity.ErrStorageContention
// wrapping the last error.
func (p Policy) Do(ctx context.Context, retryable Classifier, op func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if retryable == nil || !retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		timer := time.NewTimer(p.Delay * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %w", entity.ErrStorageContention, ctx.Err())
		case <-timer.C:
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", entity.ErrStorageContention, attempts, err)
}

// Value runs op under the policy and returns its result
func Value[T any](ctx context.Context, p Policy, retryable Classifier, op func() (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, retryable, func() error {
		v, err := op()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
