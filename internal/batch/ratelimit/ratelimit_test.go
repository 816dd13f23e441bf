package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterPacesCalls(t *testing.T) {
	l := New(10) // 10/sec -> ~100ms apart
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx))
	start := time.Now()
	require.NoError(t, l.Wait(ctx))
	elapsed := time.Since(start)

	require.GreaterOrEqual(t, elapsed, 80*time.Millisecond)
}

func TestLimiterUnlimitedForNonPositiveRate(t *testing.T) {
	l := New(0)
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(ctx))
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterRespectsContextCancellation(t *testing.T) {
	l := New(1)
	ctx := context.Background()
	require.NoError(t, l.Wait(ctx))

	cancelCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	err := l.Wait(cancelCtx)
	require.Error(t, err)
}

func TestRegistryLazyCreatesPerProvider(t *testing.T) {
	reg := NewRegistry(5)
	a := reg.Get("google")
	b := reg.Get("google")
	c := reg.Get("bing")
	require.Same(t, a, b)
	require.NotSame(t, a, c)
}

func TestRegistrySetRateOverridesDefault(t *testing.T) {
	reg := NewRegistry(1)
	reg.SetRate("fast", 0)
	l := reg.Get("fast")
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 50; i++ {
		require.NoError(t, l.Wait(ctx))
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)
}
