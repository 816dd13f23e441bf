// Package search implements the SearchBroker (spec.md §4.4, C4): a
// fan-in over ordered providers with per-provider rate limiting and
// circuit breaking, early exit on sufficiency, and URL deduplication
// across providers.
package search

import (
	"context"
	"time"

	"github.com/adforge/pipeline/internal/batch/breaker"
	"github.com/adforge/pipeline/internal/batch/ratelimit"
	"github.com/adforge/pipeline/internal/batch/types"
	"github.com/adforge/pipeline/internal/common"
)

// Provider is the collaborator contract for one search backend
// (spec.md §6). Implementations must not dedupe among themselves — the
// Broker owns cross-provider deduplication by URL.
type Provider interface {
	Search(ctx context.Context, query string, maxResults int) ([]types.Candidate, error)
}

// Binding pairs a named Provider with its own rate limiter and circuit
// breaker, in the priority order the Broker should try them.
type Binding struct {
	Name     string
	Provider Provider
	Limiter  *ratelimit.Limiter
	Breaker  *breaker.Breaker
}

// Options configures one Broker.Search call.
type Options struct {
	MaxResults           int
	SufficiencyThreshold int
	InterProviderDelay   time.Duration
	PerProviderResults   int
}

// Broker is stateless aside from its provider bindings, which are
// shared and safe for concurrent use: each Provider implementation owns
// its own thread-local connection pool (spec.md §4.4's "provider
// handles are shared" note).
type Broker struct {
	bindings []Binding
	logger   *common.Logger

	// OnCall, if set, is invoked after every provider call with its
	// outcome — the Orchestrator wires this to its HealthMonitor without
	// this package needing to depend on it.
	OnCall func(provider string, success bool, resultCount int, latency time.Duration, errMsg string)
}

// New creates a Broker over bindings in priority order.
func New(logger *common.Logger, bindings []Binding) *Broker {
	return &Broker{bindings: bindings, logger: logger}
}

// Search runs the ordered fan-in algorithm from spec.md §4.4: for each
// provider in priority order, skip if its breaker is open, wait on its
// rate limiter, call it, merge new candidates deduplicated by URL
// (insertion order preserved), sleep the inter-provider delay (not
// after the last provider), and stop early once the accumulator reaches
// the sufficiency threshold. The result is truncated to MaxResults.
func (b *Broker) Search(ctx context.Context, query string, opts Options) []types.Candidate {
	if opts.PerProviderResults <= 0 {
		opts.PerProviderResults = 10
	}

	var accumulated []types.Candidate
	seenURLs := make(map[string]struct{})

	for i, binding := range b.bindings {
		select {
		case <-ctx.Done():
			return truncate(accumulated, opts.MaxResults)
		default:
		}

		if binding.Breaker != nil && !binding.Breaker.Allow() {
			b.logger.Debug().Str("provider", binding.Name).Msg("provider breaker open, skipping")
			continue
		}

		if binding.Limiter != nil {
			if err := binding.Limiter.Wait(ctx); err != nil {
				return truncate(accumulated, opts.MaxResults)
			}
		}

		callStart := time.Now()
		candidates, err := binding.Provider.Search(ctx, query, opts.PerProviderResults)
		latency := time.Since(callStart)
		if err != nil {
			if binding.Breaker != nil {
				binding.Breaker.RecordFailure()
			}
			b.logger.Warn().Str("provider", binding.Name).Err(err).Msg("provider search failed")
			if b.OnCall != nil {
				b.OnCall(binding.Name, false, 0, latency, err.Error())
			}
			continue
		}
		if binding.Breaker != nil {
			binding.Breaker.RecordSuccess()
		}
		if b.OnCall != nil {
			b.OnCall(binding.Name, true, len(candidates), latency, "")
		}

		for _, c := range candidates {
			if _, dup := seenURLs[c.URL]; dup {
				continue
			}
			seenURLs[c.URL] = struct{}{}
			if c.Provider == "" {
				c.Provider = binding.Name
			}
			accumulated = append(accumulated, c)
		}

		if opts.SufficiencyThreshold > 0 && len(accumulated) >= opts.SufficiencyThreshold {
			break
		}

		if opts.InterProviderDelay > 0 && i < len(b.bindings)-1 {
			select {
			case <-time.After(opts.InterProviderDelay):
			case <-ctx.Done():
				return truncate(accumulated, opts.MaxResults)
			}
		}
	}

	return truncate(accumulated, opts.MaxResults)
}

func truncate(candidates []types.Candidate, max int) []types.Candidate {
	if max > 0 && len(candidates) > max {
		return candidates[:max]
	}
	return candidates
}
