package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBreakerStartsClosedAndAllows(t *testing.T) {
	b := New(3, time.Minute)
	require.Equal(t, Closed, b.State())
	require.True(t, b.Allow())
}

func TestBreakerTripsAfterThresholdFailures(t *testing.T) {
	b := New(3, time.Minute)
	for i := 0; i < 3; i++ {
		require.True(t, b.Allow())
		b.RecordFailure()
	}
	require.Equal(t, Open, b.State())
	require.False(t, b.Allow())
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := New(3, time.Minute)
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	require.Equal(t, Closed, b.State())
}

func TestBreakerGrantsSingleProbeAfterCooldown(t *testing.T) {
	b := New(1, 20*time.Millisecond)
	require.True(t, b.Allow())
	b.RecordFailure()
	require.Equal(t, Open, b.State())
	require.False(t, b.Allow())

	time.Sleep(30 * time.Millisecond)

	// First caller after cooldown gets the probe.
	require.True(t, b.Allow())
	// A concurrent second caller is refused while the probe is in flight.
	require.False(t, b.Allow())
}

func TestBreakerProbeSuccessCloses(t *testing.T) {
	b := New(1, 10*time.Millisecond)
	b.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	require.True(t, b.Allow())
	b.RecordSuccess()
	require.Equal(t, Closed, b.State())
	require.True(t, b.Allow())
}

func TestBreakerProbeFailureReopensAndRestartsCooldown(t *testing.T) {
	b := New(1, 10*time.Millisecond)
	b.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	require.True(t, b.Allow())
	b.RecordFailure()
	require.Equal(t, Open, b.State())
	require.False(t, b.Allow())
}

func TestRegistryPerProviderIsolation(t *testing.T) {
	reg := NewRegistry(1, time.Minute)
	a := reg.Get("p1")
	b := reg.Get("p2")
	a.RecordFailure()
	require.Equal(t, Open, a.State())
	require.Equal(t, Closed, b.State())
}
