// Package orchestrator owns the row table end to end: it chunks the
// configured row range, fans each chunk out across a bounded worker
// pool, polls for shutdown between chunks, and drives the post-pass
// dead-letter retry (spec.md §4.9's Orchestrator/RowWorker split).
// The poll-based dispatch loop is grounded on the teacher's
// jobmanager.processLoop (internal/services/jobmanager/manager.go)
// generalized from a priority queue to a fixed chunked range, with
// golang.org/x/sync/errgroup replacing the teacher's raw
// sync.WaitGroup for intra-chunk fan-out. Row panics are recovered
// inside runOne, so no goroutine returns an error to the group.
package orchestrator

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adforge/pipeline/internal/batch/breaker"
	"github.com/adforge/pipeline/internal/batch/imagecache"
	"github.com/adforge/pipeline/internal/batch/notify"
	"github.com/adforge/pipeline/internal/batch/progress"
	"github.com/adforge/pipeline/internal/batch/rowtable"
	"github.com/adforge/pipeline/internal/batch/shutdown"
	"github.com/adforge/pipeline/internal/batch/types"
	"github.com/adforge/pipeline/internal/common"
)

// Config bundles the Orchestrator's run-level tunables (spec.md §3's
// Batch invariants: chunk_size, checkpoint_each, max_workers).
type Config struct {
	Start          int
	End            int // exclusive; 0 means "to the end of the table"
	Workers        int
	ChunkSize      int
	CheckpointEach int
	Resume         bool
	DeadLetterPass bool
	RowDelay       time.Duration // inter-row pacing when Workers == 1
	OutputPath     string
}

// Orchestrator drives the whole batch run: chunking, dispatch,
// checkpointing, the dead-letter pass, and the final report.
type Orchestrator struct {
	cfg      Config
	table    *rowtable.Table
	progress *progress.Store
	cache    *imagecache.Cache
	stats    *Stats
	notifier notify.Notifier
	coord    *shutdown.Coordinator
	logger   *common.Logger

	health        *HealthMonitor
	breakers      *breaker.Registry
	providerNames []string

	newWorker func(slot int) *RowWorker

	completedSinceCheckpoint int
}

// New creates an Orchestrator. newWorker must produce an independent
// RowWorker per slot in [0, max(1,cfg.Workers)) — slots identify the
// worker's temp subdirectory, not a persistent goroutine. breakers and
// providerNames may be nil/empty if the caller doesn't want per-provider
// breaker state in the final HealthReport.
func New(cfg Config, table *rowtable.Table, progressStore *progress.Store, cache *imagecache.Cache, stats *Stats, notifier notify.Notifier, coord *shutdown.Coordinator, logger *common.Logger, newWorker func(slot int) *RowWorker, breakers *breaker.Registry, providerNames []string) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 50
	}
	if stats == nil {
		stats = NewStats(time.Now())
	}
	return &Orchestrator{
		cfg: cfg, table: table, progress: progressStore, cache: cache,
		stats: stats, notifier: notifier, coord: coord,
		logger: logger, newWorker: newWorker,
		health: NewHealthMonitor(), breakers: breakers, providerNames: providerNames,
	}
}

// Health returns the run's live per-provider call tracker, so callers
// can wire it into a search.Broker via Broker.OnCall before Run starts.
func (o *Orchestrator) Health() *HealthMonitor { return o.health }

// Stats exposes the run's live counters.
func (o *Orchestrator) Stats() *Stats { return o.stats }

// Run executes the configured row range to completion or until the
// shutdown coordinator trips. It returns the final health report.
func (o *Orchestrator) Run(ctx context.Context) (HealthReport, error) {
	end := o.cfg.End
	if end <= 0 || end > o.table.Len() {
		end = o.table.Len()
	}
	indices := o.pendingIndices(o.cfg.Start, end)
	o.logger.Info().
		Int("start", o.cfg.Start).Int("end", end).Int("pending", len(indices)).
		Int("workers", o.cfg.Workers).Int("chunk_size", o.cfg.ChunkSize).
		Msg("starting batch run")

	workers := make([]*RowWorker, o.cfg.Workers)
	for i := range workers {
		workers[i] = o.newWorker(i)
	}

	chunks := chunk(indices, o.cfg.ChunkSize)
	for _, c := range chunks {
		if o.coord.Tripped() {
			o.logger.Warn().Msg("shutdown requested, stopping before next chunk")
			break
		}
		o.runChunk(ctx, c, workers)
		o.maybeCheckpoint(false)
	}

	if o.cfg.DeadLetterPass && !o.coord.Tripped() {
		o.runDeadLetterPass(ctx, workers)
	}

	o.maybeCheckpoint(true)

	elapsed := o.stats.Elapsed(time.Now())
	snap := o.stats.Snapshot()
	o.notifier.OnCompletion(int(snap.Total), int(snap.Success), int(snap.Failed), elapsed)
	o.logCacheAndDLQSummary()

	report := BuildHealthReport(o.stats, elapsed, o.cache, o.health, o.breakers, o.providerNames, o.progress)
	return report, nil
}

// pendingIndices builds the dense [start,end) range, filtering out rows
// already marked done in the ProgressStore when resuming.
func (o *Orchestrator) pendingIndices(start, end int) []int {
	indices := make([]int, 0, end-start)
	for i := start; i < end; i++ {
		if o.cfg.Resume && o.progress.IsDone(i) {
			o.stats.Skipped.Add(1)
			continue
		}
		indices = append(indices, i)
	}
	return indices
}

func chunk(indices []int, size int) [][]int {
	if size <= 0 {
		size = len(indices)
	}
	var out [][]int
	for i := 0; i < len(indices); i += size {
		j := i + size
		if j > len(indices) {
			j = len(indices)
		}
		out = append(out, indices[i:j])
	}
	return out
}

// runChunk fans a single chunk out across the worker pool. For
// Workers==1 it runs serially with an optional inter-row delay so a
// single-process run never saturates a rate-limited provider; for
// Workers>1 it caps concurrency at the configured worker count with a
// token channel acquired via a select against the shutdown
// coordinator's Done channel, after a Tripped check before each row, so
// a mid-chunk shutdown trip is observed immediately by the dispatch
// loop instead of only once the whole chunk has drained — errgroup's
// own SetLimit semaphore has no such escape hatch, since g.Go blocks on
// it unconditionally.
func (o *Orchestrator) runChunk(ctx context.Context, indices []int, workers []*RowWorker) {
	if len(workers) <= 1 {
		w := workers[0]
		for _, idx := range indices {
			if o.coord.Tripped() {
				return
			}
			o.runOne(ctx, w, idx)
			if o.cfg.RowDelay > 0 {
				o.coord.Sleep(o.cfg.RowDelay)
			}
		}
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	tokens := make(chan struct{}, len(workers))

dispatch:
	for n, idx := range indices {
		if o.coord.Tripped() {
			break dispatch
		}
		select {
		case tokens <- struct{}{}:
		case <-o.coord.Done():
			break dispatch
		}

		idx := idx
		slot := n % len(workers)
		w := workers[slot]
		g.Go(func() error {
			defer func() { <-tokens }()
			o.runOne(gctx, w, idx)
			return nil
		})
	}
	_ = g.Wait()
}

// runOne processes a single row with panic recovery (grounded on the
// teacher's safeGo idiom, inlined here; runOne runs on the dispatcher
// goroutine when Workers==1 and on an errgroup goroutine otherwise) and
// records the outcome in the ProgressStore.
func (o *Orchestrator) runOne(ctx context.Context, w *RowWorker, idx int) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().
				Int("row", idx).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(debug.Stack())).
				Msg("recovered from panic processing row")
			_ = o.progress.MarkFailed(idx, "", fmt.Sprintf("panic: %v", r), nil)
			o.stats.Failed.Add(1)
			o.notifier.OnFailure(idx, fmt.Sprintf("panic: %v", r))
		}
	}()

	rowCtx := ctx
	if w.cfg.RowTimeout > 0 {
		var cancel context.CancelFunc
		rowCtx, cancel = context.WithTimeout(ctx, w.cfg.RowTimeout)
		defer cancel()
	}

	meta := w.Process(rowCtx, idx)
	if rowCtx.Err() == context.DeadlineExceeded {
		o.logger.Warn().Int("row", idx).Dur("timeout", w.cfg.RowTimeout).Msg("row timeout")
		meta = Meta{Index: idx, Query: meta.Query, Success: false, Error: "row timeout"}
	}
	if meta.Skipped {
		o.stats.Skipped.Add(1)
		return
	}

	metaMap := meta.asMap()
	if meta.Success {
		if err := o.progress.MarkDone(idx, meta.Query, meta.Filename, meta.Source, metaMap); err != nil {
			o.logger.Warn().Int("row", idx).Err(err).Msg("failed to record progress")
		}
	} else {
		if err := o.progress.MarkFailed(idx, meta.Query, meta.Error, metaMap); err != nil {
			o.logger.Warn().Int("row", idx).Err(err).Msg("failed to record progress")
		}
		o.notifier.OnFailure(idx, meta.Error)
	}

	o.completedSinceCheckpoint++
	total := o.stats.Total.Load()
	if total > 0 && total%1000 == 0 {
		o.notifier.OnMilestone(int(total))
	}
}

// runDeadLetterPass resubmits every row whose failure count is still
// under the configured retry ceiling (spec.md §4.9's post-pass DLQ
// retry).
func (o *Orchestrator) runDeadLetterPass(ctx context.Context, workers []*RowWorker) {
	deadLetters, err := o.progress.GetDeadLetters()
	if err != nil {
		o.logger.Warn().Err(err).Msg("failed to load dead letters")
		return
	}
	if len(deadLetters) == 0 {
		return
	}
	o.logger.Info().Int("count", len(deadLetters)).Msg("retrying dead-lettered rows")
	o.stats.DLQRetries.Add(int64(len(deadLetters)))

	for _, c := range chunk(deadLetters, o.cfg.ChunkSize) {
		if o.coord.Tripped() {
			return
		}
		o.runChunk(ctx, c, workers)
		o.maybeCheckpoint(false)
	}
}

// maybeCheckpoint flushes the row table to disk once CheckpointEach
// rows have completed since the last flush, or unconditionally when
// force is true (the final flush at the end of Run).
func (o *Orchestrator) maybeCheckpoint(force bool) {
	if !force && (o.cfg.CheckpointEach <= 0 || o.completedSinceCheckpoint < o.cfg.CheckpointEach) {
		return
	}
	if o.cfg.OutputPath == "" {
		return
	}
	if err := o.table.Flush(o.cfg.OutputPath); err != nil {
		o.logger.Warn().Err(err).Msg("failed to checkpoint row table")
		return
	}
	o.completedSinceCheckpoint = 0
	runtime.GC()
}

func (o *Orchestrator) logCacheAndDLQSummary() {
	if o.cache != nil {
		if cstats, err := o.cache.Stats(); err == nil {
			o.logger.Info().Int("entries", cstats.Entries).Int("total_hits", cstats.TotalHits).Msg("image cache summary")
		}
	}
	if pstats, err := o.progress.Stats(); err == nil {
		o.logger.Info().
			Int("pending", pstats[string(types.ProgressPending)]).
			Int("done", pstats[string(types.ProgressDone)]).
			Int("failed", pstats[string(types.ProgressFailed)]).
			Msg("progress store summary")
	}
}
