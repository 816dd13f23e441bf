package shutdown

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCoordinator_FirstTripClosesDone(t *testing.T) {
	c := New(func(int) {})
	require.False(t, c.Tripped())
	c.Trip()
	require.True(t, c.Tripped())
	require.Equal(t, 1, c.TripCount())

	select {
	case <-c.Done():
	default:
		t.Fatal("Done() should be closed after first trip")
	}
}

func TestCoordinator_SecondTripForcesExit(t *testing.T) {
	var exitCode int
	var called int
	c := New(func(code int) {
		called++
		exitCode = code
	})
	c.Trip()
	require.Equal(t, 0, called)
	c.Trip()
	require.Equal(t, 1, called)
	require.Equal(t, 1, exitCode)
	require.Equal(t, 2, c.TripCount())
}

func TestCoordinator_SleepReturnsEarlyOnTrip(t *testing.T) {
	c := New(func(int) {})
	start := time.Now()
	go func() {
		time.Sleep(10 * time.Millisecond)
		c.Trip()
	}()
	c.Sleep(time.Second)
	require.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestCoordinator_SleepReturnsAfterDurationWhenNotTripped(t *testing.T) {
	c := New(func(int) {})
	start := time.Now()
	c.Sleep(20 * time.Millisecond)
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestCoordinator_ConcurrentTripsCloseDoneOnce(t *testing.T) {
	c := New(func(int) {})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Trip()
		}()
	}
	wg.Wait()
	require.True(t, c.Tripped())
	require.Equal(t, 50, c.TripCount())
}
