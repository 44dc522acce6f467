package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/coinfolio/internal/domain"
)

func TestLockManager_AcquireRelease(t *testing.T) {
	c, _ := newTestClient(t)
	lm := NewLockManager(c, 0)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "holding:w1:btc", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "holding:w1:btc", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()

	again, err := lm.Acquire(ctx, "holding:w1:btc", time.Minute)
	require.NoError(t, err)
	again()
}

func TestLockManager_WaitsForRelease(t *testing.T) {
	c, _ := newTestClient(t)
	lm := NewLockManager(c, 5*time.Millisecond)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	go func() {
		time.Sleep(30 * time.Millisecond)
		unlock()
	}()

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	second, err := lm.Acquire(waitCtx, "k", time.Minute)
	require.NoError(t, err)
	second()
}

func TestLockManager_WaitCancelled(t *testing.T) {
	c, _ := newTestClient(t)
	lm := NewLockManager(c, 5*time.Millisecond)

	unlock, err := lm.Acquire(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = lm.Acquire(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
