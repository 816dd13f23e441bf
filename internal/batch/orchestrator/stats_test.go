package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStats_SnapshotReflectsAtomicIncrements(t *testing.T) {
	s := NewStats(time.Unix(0, 0))
	s.Total.Add(3)
	s.Success.Add(2)
	s.Failed.Add(1)
	s.CacheHits.Add(5)

	snap := s.Snapshot()
	require.Equal(t, int64(3), snap.Total)
	require.Equal(t, int64(2), snap.Success)
	require.Equal(t, int64(1), snap.Failed)
	require.Equal(t, int64(5), snap.CacheHits)
}

func TestStats_ElapsedUsesCallerSuppliedClock(t *testing.T) {
	start := time.Unix(1000, 0)
	s := NewStats(start)
	elapsed := s.Elapsed(start.Add(90 * time.Second))
	require.Equal(t, 90*time.Second, elapsed)
}
