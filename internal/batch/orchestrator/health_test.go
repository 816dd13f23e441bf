package orchestrator

import (
	"errors"
	"testing"
	"time"

	"github.com/adforge/pipeline/internal/batch/breaker"
	"github.com/stretchr/testify/require"
)

func TestHealthMonitor_RecordCallAccumulatesPerEngine(t *testing.T) {
	h := NewHealthMonitor()
	h.RecordCall("bing", true, 5, 100*time.Millisecond, "")
	h.RecordCall("bing", true, 3, 200*time.Millisecond, "")
	h.RecordCall("bing", false, 0, 0, "timeout")

	snap := h.Snapshot()
	m := snap["bing"]
	require.Equal(t, 3, m.TotalCalls)
	require.Equal(t, 2, m.Successes)
	require.Equal(t, 1, m.Failures)
	require.Equal(t, 8, m.TotalResults)
	require.Equal(t, "timeout", m.LastError)
	require.InDelta(t, 2.0/3.0, m.SuccessRate(), 0.001)
	require.Equal(t, 150*time.Millisecond, m.AvgLatency())
	require.InDelta(t, 4.0, m.AvgResults(), 0.001)
}

func TestEngineMetrics_ZeroCallsAvoidsDivideByZero(t *testing.T) {
	var m EngineMetrics
	require.Equal(t, 0.0, m.SuccessRate())
	require.Equal(t, time.Duration(0), m.AvgLatency())
	require.Equal(t, 0.0, m.AvgResults())
}

func TestHealthMonitor_LastErrorIsTruncated(t *testing.T) {
	h := NewHealthMonitor()
	longErr := errors.New("this is a deliberately very long error message that exceeds fifty characters in length")
	h.RecordCall("engine", false, 0, 0, longErr.Error())
	snap := h.Snapshot()
	require.Len(t, snap["engine"].LastError, 50)
}

func TestHealthMonitor_SuggestPriorityRanksBySuccessAndSpeed(t *testing.T) {
	h := NewHealthMonitor()
	h.RecordCall("slow_but_reliable", true, 5, 2*time.Second, "")
	h.RecordCall("slow_but_reliable", true, 5, 2*time.Second, "")
	h.RecordCall("fast_and_reliable", true, 5, 10*time.Millisecond, "")
	h.RecordCall("fast_and_reliable", true, 5, 10*time.Millisecond, "")
	h.RecordCall("unreliable", false, 0, 0, "err")

	order := h.SuggestPriority()
	require.Len(t, order, 3)
	require.Equal(t, "fast_and_reliable", order[0])
	require.Equal(t, "unreliable", order[len(order)-1])
}

func TestBuildHealthReport_AggregatesCollaborators(t *testing.T) {
	stats := NewStats(time.Now())
	stats.Total.Add(10)
	stats.Success.Add(8)
	stats.CacheHits.Add(4)

	health := NewHealthMonitor()
	health.RecordCall("bing", true, 5, 50*time.Millisecond, "")

	breakers := breaker.NewRegistry(5, time.Minute)
	breakers.Get("bing").RecordSuccess()

	report := BuildHealthReport(stats, 3*time.Second, nil, health, breakers, []string{"bing"}, nil)
	require.Equal(t, int64(10), report.Stats.Total)
	require.Equal(t, int64(8), report.Stats.Success)
	require.Contains(t, report.ProviderHealth, "bing")
	require.Contains(t, report.BreakerStates, "bing")
	require.Equal(t, 3*time.Second, report.Elapsed)
}

func TestHealthReport_StringRendersWithoutPanicking(t *testing.T) {
	stats := NewStats(time.Now())
	stats.Total.Add(1)
	report := BuildHealthReport(stats, time.Second, nil, NewHealthMonitor(), nil, nil, nil)
	require.NotPanics(t, func() {
		s := report.String()
		require.Contains(t, s, "Run Health")
	})
}
