package shared

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsSQLiteConflictError(t *testing.T) {
	t.Parallel()

	assert.False(t, IsSQLiteConflictError(nil))
	assert.True(t, IsSQLiteConflictError(errors.New("sqlite: step: SQLITE_BUSY")))
	assert.True(t, IsSQLiteConflictError(errors.New("database is locked (5)")))
	assert.False(t, IsSQLiteConflictError(errors.New("no such table: sessions")))
}

func TestRetryOnConflict(t *testing.T) {
	t.Parallel()

	calls := 0
	err := RetryOnConflict(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("SQLITE_BUSY")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryOnConflictGivesUp(t *testing.T) {
	t.Parallel()

	calls := 0
	err := RetryOnConflict(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return errors.New("database is locked")
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryOnConflictStopsOnOtherErrors(t *testing.T) {
	t.Parallel()

	calls := 0
	err := RetryOnConflict(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return errors.New("constraint failed")
	})
	assert.EqualError(t, err, "constraint failed")
	assert.Equal(t, 1, calls)
}

func TestRetryOnConflictHonoursContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := RetryOnConflict(ctx, 3, time.Hour, func() error { return errors.New("SQLITE_BUSY") })
	assert.ErrorIs(t, err, context.Canceled)
}
