package httpclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterThirdCallBlocks(t *testing.T) {
	rl := NewRateLimiter(2, time.Second, 0)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, rl.Acquire(ctx))
	require.NoError(t, rl.Acquire(ctx))
	assert.Less(t, time.Since(start), 100*time.Millisecond, "first two calls dispatch immediately")

	require.NoError(t, rl.Acquire(ctx))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 900*time.Millisecond, "third call waits for the window")
	assert.Less(t, elapsed, 1500*time.Millisecond)
}

func TestRateLimiterSlidingWindowConformance(t *testing.T) {
	const n = 3
	period := 300 * time.Millisecond
	rl := NewRateLimiter(n, period, 0)
	ctx := context.Background()

	var stamps []time.Time
	for i := 0; i < 3*n; i++ {
		require.NoError(t, rl.Acquire(ctx))
		stamps = append(stamps, time.Now())
	}

	for i := range stamps {
		inWindow := 1
		for j := i + 1; j < len(stamps); j++ {
			if stamps[j].Sub(stamps[i]) < period {
				inWindow++
			}
		}
		assert.LessOrEqual(t, inWindow, n, "window starting at dispatch %d", i)
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0, time.Second, 0)
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, rl.Acquire(context.Background()))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestRateLimiterContextCancel(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute, 0)
	require.NoError(t, rl.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := rl.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
