// Package progress implements ProgressStore (spec.md §4.6, C6): a
// durable row_index -> progress record mapping with retry counters and
// a dead-letter projection, backed by BadgerHold with a status index,
// generalizing storage/internaldb.Store's indexed badgerhold.Where
// usage (store.go) from user-keyed records to row-indexed ones.
package progress

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/adforge/pipeline/internal/batch/types"
	"github.com/adforge/pipeline/internal/common"
	"github.com/timshannon/badgerhold/v4"
)

const schemaVersion = 1

type schemaRecord struct {
	Key     string `badgerholdKey:"Key"`
	Version int
}

// record is the BadgerHold-persisted shape of one row's progress.
// Status carries a badgerhold index so GetDeadLetters is an indexed
// query rather than a full table scan.
type record struct {
	Index         int    `badgerholdKey:"Index"`
	Status        string `badgerholdIndex:"Status"`
	Retries       int
	Query         string
	Filename      string
	Provider      string
	Error         string
	CompletedAtNS int64
	Meta          map[string]any
}

// StatusCounts maps a status name to the number of rows in it.
type StatusCounts map[string]int

// Store is the shared durable session; every write is serialized by a
// single mutex per spec.md §4.6's "one shared session with a mutex" or
// "one session per worker" choice — this repo takes the shared-session
// path since it is simpler to reason about for crash safety (matching
// the teacher's single *badgerhold.Store per domain store).
type Store struct {
	mu         sync.Mutex
	db         *badgerhold.Store
	logger     *common.Logger
	maxRetries int
}

// Open opens (creating if necessary) a BadgerHold-backed progress store
// at path. maxRetries bounds the dead-letter projection (spec.md §3).
func Open(logger *common.Logger, path string, maxRetries int) (*Store, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create progress store dir %s: %w", path, err)
	}
	opts := badgerhold.DefaultOptions
	opts.Dir = path
	opts.ValueDir = path
	opts.Logger = nil
	db, err := badgerhold.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open progress store at %s: %w", path, err)
	}

	s := &Store{db: db, logger: logger, maxRetries: maxRetries}
	if err := s.checkSchema(); err != nil {
		logger.Warn().Err(err).Msg("progress store schema check failed, continuing")
	}
	logger.Info().Str("path", path).Msg("progress store opened")
	return s, nil
}

func (s *Store) checkSchema() error {
	var rec schemaRecord
	err := s.db.Get("schema", &rec)
	if err == badgerhold.ErrNotFound {
		return s.db.Upsert("schema", &schemaRecord{Key: "schema", Version: schemaVersion})
	}
	if err != nil {
		return err
	}
	if rec.Version != schemaVersion {
		return fmt.Errorf("progress store schema version mismatch: store=%d binary=%d", rec.Version, schemaVersion)
	}
	return nil
}

// Close releases the underlying BadgerHold session.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// IsDone reports whether row idx is already marked done, used by the
// Orchestrator to build the resume-filtered index set.
func (s *Store) IsDone(idx int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec record
	if err := s.db.Get(idx, &rec); err != nil {
		return false
	}
	return rec.Status == string(types.ProgressDone)
}

// Get returns the progress record for idx, or nil if absent (equivalent
// to pending per spec.md §3).
func (s *Store) Get(idx int) (*types.ProgressRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec record
	if err := s.db.Get(idx, &rec); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get progress for row %d: %w", idx, err)
	}
	out := toPublic(rec)
	return &out, nil
}

// MarkDone upserts row idx as done, clearing any prior error and
// stamping the completion timestamp. A crash immediately after MarkDone
// returns must not resurrect the row as pending on resume — BadgerDB's
// WAL/value-log gives this once Upsert returns without error.
func (s *Store) MarkDone(idx int, query, filename, provider string, meta map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := record{
		Index: idx, Status: string(types.ProgressDone),
		Query: query, Filename: filename, Provider: provider,
		CompletedAtNS: time.Now().UnixNano(), Meta: meta,
	}
	// Preserve retry count across the done transition.
	var prior record
	if err := s.db.Get(idx, &prior); err == nil {
		rec.Retries = prior.Retries
	}
	if err := s.db.Upsert(idx, &rec); err != nil {
		return fmt.Errorf("failed to mark row %d done: %w", idx, err)
	}
	return nil
}

// MarkFailed upserts row idx as failed, incrementing retries from any
// prior record (starting at 1 if none existed).
func (s *Store) MarkFailed(idx int, query, errMsg string, meta map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	retries := 1
	var prior record
	if err := s.db.Get(idx, &prior); err == nil {
		retries = prior.Retries + 1
	}

	rec := record{
		Index: idx, Status: string(types.ProgressFailed),
		Query: query, Error: errMsg, Retries: retries, Meta: meta,
	}
	if err := s.db.Upsert(idx, &rec); err != nil {
		return fmt.Errorf("failed to mark row %d failed: %w", idx, err)
	}
	return nil
}

// GetDeadLetters returns, in index order, every row index with
// status=failed and retries < maxRetries.
func (s *Store) GetDeadLetters() ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var recs []record
	query := badgerhold.Where("Status").Eq(string(types.ProgressFailed))
	if err := s.db.Find(&recs, query); err != nil {
		return nil, fmt.Errorf("failed to query dead letters: %w", err)
	}

	var out []int
	for _, r := range recs {
		if r.Retries < s.maxRetries {
			out = append(out, r.Index)
		}
	}
	sort.Ints(out)
	return out, nil
}

// Stats returns the count of rows per status.
func (s *Store) Stats() (StatusCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var recs []record
	if err := s.db.Find(&recs, badgerhold.Where("Index").Ge(0)); err != nil {
		return nil, fmt.Errorf("failed to scan progress store: %w", err)
	}
	counts := StatusCounts{}
	for _, r := range recs {
		counts[r.Status]++
	}
	return counts, nil
}

// Reset truncates the progress store, removing every row's record.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var recs []record
	if err := s.db.Find(&recs, badgerhold.Where("Index").Ge(0)); err != nil {
		return fmt.Errorf("failed to scan progress store for reset: %w", err)
	}
	for _, r := range recs {
		if err := s.db.Delete(r.Index, &record{}); err != nil && err != badgerhold.ErrNotFound {
			return fmt.Errorf("failed to delete row %d during reset: %w", r.Index, err)
		}
	}
	return nil
}

func toPublic(r record) types.ProgressRecord {
	return types.ProgressRecord{
		Index: r.Index, Status: types.ProgressStatus(r.Status), Retries: r.Retries,
		Query: r.Query, Filename: r.Filename, Provider: r.Provider, Error: r.Error,
		CompletedAtNS: r.CompletedAtNS, Meta: r.Meta,
	}
}
