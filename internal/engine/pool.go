/*
PURPOSE:
  Owns the fixed-size set of workers of one run: builds them, starts them
  together against a shared deadline, joins them and turns the drained
  store into the report.

REQUIREMENTS:
  User-specified:
  - Fixed worker count for the whole run.
  - The report is only computed from a fully drained store.

  Implementation-discovered:
  - One worker per unit of concurrency: Concurrency if set, otherwise one
    per rps slot. Every worker selects among all targets, in single and
    weighted mode alike, and paces toward rps/workers.
  - One independently seeded PCG generator per worker. A configured Seed
    makes runs reproducible.

ARCHITECTURE INTEGRATION:
  - Called by: engine.Run
  - Uses: golang.org/x/sync/errgroup, internal/metrics

ERROR HANDLING:
  - Configuration errors are returned by NewPool, before any worker starts.
  - Request errors never reach the pool.
  - A worker panic cancels the others at their next iteration and fails
    the run once everyone has joined.

RELATED FILES:
  - internal/engine/worker.go
  - internal/metrics/aggregate.go
*/

package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/daryltucker/kali/internal/config"
	"github.com/daryltucker/kali/internal/metrics"
	"github.com/daryltucker/kali/internal/model"
	"github.com/daryltucker/kali/internal/output"
)

const maxStoreHint = 1 << 16

// ErrPoolReused is returned when Run is called twice on the same pool.
var ErrPoolReused = errors.New("worker pool already ran")

// Pool runs the workers of a single load test.
type Pool struct {
	cfg       *config.Config
	targets   *Targets
	requester Requester
	store     *metrics.Store
	observers []Observer
	workers   int
	runID     string

	ran    atomic.Bool
	active atomic.Int32
}

// NewPool validates cfg and prepares a pool. Observers are notified of every
// outcome from every worker.
func NewPool(cfg *config.Config, requester Requester, observers ...Observer) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	targets, err := NewTargets(cfg.Host, cfg.Bias)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	workers := cfg.Workers()
	return &Pool{
		cfg:       cfg,
		targets:   targets,
		requester: requester,
		store:     metrics.NewStore(min(workers*int(max(cfg.Duration, 1)), maxStoreHint)),
		observers: observers,
		workers:   workers,
		runID:     uuid.NewString(),
	}, nil
}

// RunID identifies the run in reports and history.
func (p *Pool) RunID() string {
	return p.runID
}

// Targets returns the target table of the run.
func (p *Pool) Targets() *Targets {
	return p.targets
}

// Workers returns the worker count.
func (p *Pool) Workers() int {
	return p.workers
}

// Active returns the number of workers currently running.
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// Run starts every worker, waits for all of them and aggregates the result.
// Cancelling ctx stops workers at their next iteration boundary; the report
// then covers what was recorded so far.
func (p *Pool) Run(ctx context.Context) (*model.LoadTestReport, error) {
	if !p.ran.CompareAndSwap(false, true) {
		return nil, ErrPoolReused
	}

	started := time.Now()
	deadline := started.Add(p.cfg.TestDuration())
	period := Period(p.cfg.RPS, p.workers)

	output.Logger.Info("Starting load test",
		"run_id", p.runID,
		"targets", p.targets.Hosts(),
		"port", p.cfg.Port,
		"workers", p.workers,
		"period", period,
		"duration", p.cfg.TestDuration(),
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		rng := p.newRand(i)
		w := NewWorker(i,
			p.targets.NewSelector(rng),
			NewPacer(period, p.cfg.MaxJitter(), rng),
			p.requester,
			p.store,
			deadline,
			p.observers...,
		)
		g.Go(func() error {
			p.active.Add(1)
			defer p.active.Add(-1)
			return w.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	finished := time.Now()

	entries, err := p.store.Drain()
	if err != nil {
		return nil, err
	}

	info := metrics.RunInfo{
		RunID:        p.runID,
		Port:         p.cfg.Port,
		Hosts:        p.targets.Hosts(),
		Duration:     p.cfg.Duration,
		RPS:          p.cfg.RPS,
		LoadTestType: p.cfg.LoadTestType,
		Workers:      p.workers,
		StartedAt:    uint64(started.Unix()),
		FinishedAt:   uint64(finished.Unix()),
	}
	if !p.targets.Weighted() {
		info.Host = p.cfg.Host
	}

	return metrics.Aggregate(entries, info), nil
}

func (p *Pool) newRand(worker int) *rand.Rand {
	if p.cfg.Seed != 0 {
		return rand.New(rand.NewPCG(p.cfg.Seed, uint64(worker)))
	}
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}
