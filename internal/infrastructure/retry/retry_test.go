package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/garyjia/receipt-ledger/internal/domain/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBusy = errors.New("database is locked")

func isBusy(err error) bool { return errors.Is(err, errBusy) }

func TestPolicy_SucceedsAfterContention(t *testing.T) {
	calls := 0
	err := Policy{Attempts: 3, Delay: time.Millisecond}.Do(context.Background(), isBusy, func() error {
		calls++
		if calls < 3 {
			return errBusy
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestPolicy_ExhaustionIsStorageContention(t *testing.T) {
	calls := 0
	err := Policy{Attempts: 3, Delay: time.Millisecond}.Do(context.Background(), isBusy, func() error {
		calls++
		return errBusy
	})

	assert.Equal(t, 3, calls)
	assert.True(t, errors.Is(err, entity.ErrStorageContention))
	assert.True(t, errors.Is(err, errBusy))
}

func TestPolicy_NonRetryableReturnsImmediately(t *testing.T) {
	boom := errors.New("constraint failed")
	calls := 0
	err := Default().Do(context.Background(), isBusy, func() error {
		calls++
		return boom
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, boom, err)
	assert.False(t, errors.Is(err, entity.ErrStorageContention))
}

func TestPolicy_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_ = Policy{}.Do(context.Background(), isBusy, func() error {
		calls++
		return errBusy
	})
	assert.Equal(t, 1, calls)
}

func TestPolicy_ContextCancelStopsWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Policy{Attempts: 5, Delay: time.Hour}.Do(ctx, isBusy, func() error { return errBusy })

	assert.True(t, errors.Is(err, entity.ErrStorageContention))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestValue(t *testing.T) {
	calls := 0
	got, err := Value(context.Background(), Policy{Attempts: 2, Delay: time.Millisecond}, isBusy, func() (int, error) {
		calls++
		if calls == 1 {
			return 0, errBusy
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
}
