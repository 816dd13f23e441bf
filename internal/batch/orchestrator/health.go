package orchestrator

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/adforge/pipeline/internal/batch/breaker"
	"github.com/adforge/pipeline/internal/batch/imagecache"
	"github.com/adforge/pipeline/internal/batch/progress"
)

// EngineMetrics tracks one search provider's calls, successes,
// latency, and result counts, grounded on
// original_source/core/health.py's EngineMetrics dataclass.
type EngineMetrics struct {
	TotalCalls   int
	TotalResults int
	Successes    int
	Failures     int
	TotalLatency time.Duration
	LastError    string
}

// SuccessRate is Successes/TotalCalls, 0 when there have been no calls.
func (m EngineMetrics) SuccessRate() float64 {
	if m.TotalCalls == 0 {
		return 0
	}
	return float64(m.Successes) / float64(m.TotalCalls)
}

// AvgLatency is TotalLatency/Successes, 0 when there have been no
// successful calls.
func (m EngineMetrics) AvgLatency() time.Duration {
	if m.Successes == 0 {
		return 0
	}
	return m.TotalLatency / time.Duration(m.Successes)
}

// AvgResults is TotalResults/Successes, 0 when there have been no
// successful calls.
func (m EngineMetrics) AvgResults() float64 {
	if m.Successes == 0 {
		return 0
	}
	return float64(m.TotalResults) / float64(m.Successes)
}

// HealthMonitor is a thread-safe per-provider call tracker, grounded on
// original_source/core/health.py's HealthMonitor.
type HealthMonitor struct {
	mu      sync.Mutex
	metrics map[string]*EngineMetrics
}

// NewHealthMonitor creates an empty HealthMonitor.
func NewHealthMonitor() *HealthMonitor {
	return &HealthMonitor{metrics: make(map[string]*EngineMetrics)}
}

// RecordCall records the outcome of one search-provider call.
func (h *HealthMonitor) RecordCall(engine string, success bool, resultCount int, latency time.Duration, errMsg string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	m, ok := h.metrics[engine]
	if !ok {
		m = &EngineMetrics{}
		h.metrics[engine] = m
	}
	m.TotalCalls++
	if success {
		m.Successes++
		m.TotalResults += resultCount
		m.TotalLatency += latency
	} else {
		m.Failures++
		if len(errMsg) > 50 {
			errMsg = errMsg[:50]
		}
		m.LastError = errMsg
	}
}

// Snapshot returns a defensive copy of every tracked engine's metrics.
func (h *HealthMonitor) Snapshot() map[string]EngineMetrics {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(map[string]EngineMetrics, len(h.metrics))
	for name, m := range h.metrics {
		out[name] = *m
	}
	return out
}

// SuggestPriority orders providers by a weighted score of success rate,
// average result count, and average latency, highest first — mirrors
// original_source/core/health.py's suggest_priority.
func (h *HealthMonitor) SuggestPriority() []string {
	snap := h.Snapshot()
	type scored struct {
		name  string
		score float64
	}
	entries := make([]scored, 0, len(snap))
	for name, m := range snap {
		score := m.SuccessRate()*50 + m.AvgResults()*2 - m.AvgLatency().Seconds()*5
		entries = append(entries, scored{name, score})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].score > entries[j].score })
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.name
	}
	return out
}

// HealthReport is the final per-run summary returned by Orchestrator.Run
// and printed to stderr by the CLI (SPEC_FULL.md §5's health/report section).
// Notifier.OnCompletion receives only the total/success/failed counts and
// the elapsed time, not the report.
type HealthReport struct {
	Stats           Snapshot
	CacheEntries    int
	CacheHitRate    float64
	ProviderHealth  map[string]EngineMetrics
	BreakerStates   map[string]breaker.State
	DeadLetterCount int
	Elapsed         time.Duration
}

// BuildHealthReport assembles a HealthReport from the orchestrator's
// collaborators at the end of a run.
func BuildHealthReport(stats *Stats, elapsed time.Duration, cache *imagecache.Cache, health *HealthMonitor, breakers *breaker.Registry, providerNames []string, progressStore *progress.Store) HealthReport {
	report := HealthReport{Stats: stats.Snapshot(), Elapsed: elapsed}

	if cache != nil {
		if cstats, err := cache.Stats(); err == nil {
			report.CacheEntries = cstats.Entries
			total := report.Stats.Total
			if total > 0 {
				report.CacheHitRate = float64(report.Stats.CacheHits) / float64(total)
			}
		}
	}
	if health != nil {
		report.ProviderHealth = health.Snapshot()
	}
	if breakers != nil {
		states := make(map[string]breaker.State, len(providerNames))
		for _, name := range providerNames {
			states[name] = breakers.Get(name).State()
		}
		report.BreakerStates = states
	}
	if progressStore != nil {
		if dl, err := progressStore.GetDeadLetters(); err == nil {
			report.DeadLetterCount = len(dl)
		}
	}
	return report
}

// String renders a human-readable multi-line summary, matching the
// teacher's banner-table style.
func (r HealthReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "─── Run Health ───\n")
	fmt.Fprintf(&b, "  total=%d success=%d failed=%d placeholder=%d skipped=%d\n",
		r.Stats.Total, r.Stats.Success, r.Stats.Failed, r.Stats.Placeholder, r.Stats.Skipped)
	fmt.Fprintf(&b, "  cache: entries=%d hit_rate=%.1f%%\n", r.CacheEntries, r.CacheHitRate*100)
	fmt.Fprintf(&b, "  dead_letters=%d elapsed=%s\n", r.DeadLetterCount, r.Elapsed.Round(time.Second))
	names := make([]string, 0, len(r.ProviderHealth))
	for name := range r.ProviderHealth {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		m := r.ProviderHealth[name]
		state := r.BreakerStates[name]
		fmt.Fprintf(&b, "  %-12s calls=%-4d success=%.1f%% latency=%s breaker=%s\n",
			name, m.TotalCalls, m.SuccessRate()*100, m.AvgLatency().Round(time.Millisecond), state)
	}
	fmt.Fprint(&b, "──────────────────")
	return b.String()
}
