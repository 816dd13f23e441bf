package orchestrator

import (
	"sync/atomic"
	"time"
)

// Stats holds the process-wide monotonically non-decreasing counters
// from spec.md §3. Every field is mutated only through atomic
// increments so workers never need the row-table lock to update them.
type Stats struct {
	Total               atomic.Int64
	Success             atomic.Int64
	Failed              atomic.Int64
	Placeholder         atomic.Int64
	BGRemoved           atomic.Int64
	BGSkipped           atomic.Int64
	Skipped             atomic.Int64
	CacheHits           atomic.Int64
	DLQRetries          atomic.Int64
	Stage1Verified      atomic.Int64
	Stage1VerifyRejects atomic.Int64
	Stage2Verified      atomic.Int64
	Stage2VerifyRejects atomic.Int64
	Recomposes          atomic.Int64

	startedAt time.Time
}

// NewStats creates a Stats with its wall-clock start recorded now.
func NewStats(now time.Time) *Stats {
	return &Stats{startedAt: now}
}

// Elapsed returns the time since the stats were created, given the
// caller's current time (the package avoids calling time.Now() itself
// so tests can control the clock).
func (s *Stats) Elapsed(now time.Time) time.Duration {
	return now.Sub(s.startedAt)
}

// Snapshot is a point-in-time, non-atomic copy of every counter for
// logging/reporting.
type Snapshot struct {
	Total, Success, Failed, Placeholder                   int64
	BGRemoved, BGSkipped, Skipped, CacheHits, DLQRetries   int64
	Stage1Verified, Stage1VerifyRejects                    int64
	Stage2Verified, Stage2VerifyRejects, Recomposes        int64
}

// Snapshot reads every counter into a plain struct.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Total: s.Total.Load(), Success: s.Success.Load(), Failed: s.Failed.Load(),
		Placeholder: s.Placeholder.Load(), BGRemoved: s.BGRemoved.Load(),
		BGSkipped: s.BGSkipped.Load(), Skipped: s.Skipped.Load(),
		CacheHits: s.CacheHits.Load(), DLQRetries: s.DLQRetries.Load(),
		Stage1Verified: s.Stage1Verified.Load(), Stage1VerifyRejects: s.Stage1VerifyRejects.Load(),
		Stage2Verified: s.Stage2Verified.Load(), Stage2VerifyRejects: s.Stage2VerifyRejects.Load(),
		Recomposes: s.Recomposes.Load(),
	}
}
