// Package stats periodically records per-index storage sizes.
//
// The sampler is a single background goroutine that, at a fixed interval,
// lists the live indexes and appends one (entries_size, chains_size)
// observation per index to the registry's stats table. The series is
// write-only from the server's perspective; nothing in the request path
// reads it.
package stats

import (
	"context"
	"errors"
	"time"

	"github.com/hupe1980/sealdex"
	"github.com/hupe1980/sealdex/registry"
	"github.com/hupe1980/sealdex/store"
)

// DefaultInterval is the sampling period used when none is configured.
const DefaultInterval = time.Hour

// Sampler appends size observations for every live index.
type Sampler struct {
	registry registry.Registry
	store    store.Store
	interval time.Duration
	logger   *sealdex.Logger

	done chan struct{}
}

// SamplerOption configures a Sampler.
type SamplerOption func(*Sampler)

// WithInterval overrides the sampling period.
func WithInterval(d time.Duration) SamplerOption {
	return func(s *Sampler) {
		s.interval = d
	}
}

// WithLogger sets the logger. Defaults to a text logger on stderr.
func WithLogger(logger *sealdex.Logger) SamplerOption {
	return func(s *Sampler) {
		s.logger = logger
	}
}

// NewSampler creates a sampler over the given registry and store.
func NewSampler(reg registry.Registry, st store.Store, opts ...SamplerOption) *Sampler {
	s := &Sampler{
		registry: reg,
		store:    st,
		interval: DefaultInterval,
		logger:   sealdex.NewLogger(nil),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run samples until ctx is cancelled. It blocks; run it in a goroutine.
func (s *Sampler) Run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SampleOnce(ctx)
		}
	}
}

// Done is closed once Run has returned.
func (s *Sampler) Done() <-chan struct{} {
	return s.done
}

// SampleOnce records one observation per live index. Failures on one index
// are logged and do not block the others; an index deleted between the list
// and the write is skipped.
func (s *Sampler) SampleOnce(ctx context.Context) {
	indexes, err := s.registry.List(ctx, "")
	if err != nil {
		s.logger.ErrorContext(ctx, "stat sampling: list indexes", "error", err)
		return
	}

	now := time.Now().UTC()
	for _, index := range indexes {
		logger := s.logger.WithIndex(index.PublicID)

		entries, chains, err := s.store.Sizes(ctx, index.PublicID)
		if err != nil {
			logger.ErrorContext(ctx, "stat sampling: sizes", "error", err)
			continue
		}

		err = s.registry.AddStat(ctx, registry.StatSample{
			PublicID:    index.PublicID,
			EntriesSize: entries,
			ChainsSize:  chains,
			CreatedAt:   now,
		})
		switch {
		case err == nil:
			logger.DebugContext(ctx, "stat sample recorded",
				"entries_size", entries, "chains_size", chains)
		case errors.Is(err, registry.ErrNotFound):
			// Deleted between the list and the write.
		case ctx.Err() != nil:
			return
		default:
			logger.ErrorContext(ctx, "stat sampling: add stat", "error", err)
		}
	}
}
