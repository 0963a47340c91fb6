package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestAddRejectsInvalidSpec(t *testing.T) {
	t.Parallel()

	s := New(context.Background(), 0, nil)
	err := s.Add("broken", "not a schedule", func(context.Context) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Equal(t, 0, s.Len())
}

func TestJobRunsAndStopWaits(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := New(context.Background(), time.Second, nil)
	var runs atomic.Int32
	var hadDeadline atomic.Bool
	require.NoError(t, s.Add("tick", "@every 1s", func(ctx context.Context) {
		_, ok := ctx.Deadline()
		hadDeadline.Store(ok)
		runs.Add(1)
	}))
	assert.Equal(t, 1, s.Len())

	s.Start()
	require.Eventually(t, func() bool { return runs.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
	s.Stop()

	assert.True(t, hadDeadline.Load())
}
