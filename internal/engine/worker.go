/*
PURPOSE:
  The unit of concurrent execution. A worker repeatedly selects a target,
  performs one request cycle, records the outcome and paces itself until
  the shared deadline.

REQUIREMENTS:
  User-specified:
  - Stop the first time an iteration completes at or past the deadline.
  - Never sever in-flight I/O; slight overrun is accepted.
  - Errors are data: a failed request is one failed RequestMetrics.

  Implementation-discovered:
  - Outcomes are buffered per worker and merged into the shared store in
    batches, so workers rarely contend on the store lock.
  - Observers (progress, Prometheus) see every outcome immediately.
  - The pacing sleep is capped at the deadline so the run ends on time.

ARCHITECTURE INTEGRATION:
  - Created by: engine.Pool
  - Uses: engine.Selector, engine.Pacer, engine.Requester

ERROR HANDLING:
  - A panic is recovered and returned as ErrWorkerPanic; the pool treats
    it as fatal for the run.

RELATED FILES:
  - internal/engine/pool.go
  - internal/metrics/store.go
*/

package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/daryltucker/kali/internal/model"
	"github.com/daryltucker/kali/internal/output"
)

// FlushEvery is the local buffer size after which a worker merges its
// outcomes into the shared store.
const FlushEvery = 100

// ErrWorkerPanic wraps a panic raised inside a worker.
var ErrWorkerPanic = errors.New("worker panicked")

// Recorder receives batches of outcomes.
type Recorder interface {
	Append(entries ...model.RequestMetrics)
}

// Observer is notified of every outcome as soon as it is recorded.
// Implementations must be safe for concurrent use.
type Observer interface {
	Observe(m model.RequestMetrics)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(m model.RequestMetrics)

func (f ObserverFunc) Observe(m model.RequestMetrics) { f(m) }

// State is the lifecycle stage of a worker.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Worker issues paced requests until its deadline.
type Worker struct {
	ID int

	selector  *Selector
	pacer     *Pacer
	requester Requester
	recorder  Recorder
	observers []Observer
	deadline  time.Time

	buf   []model.RequestMetrics
	state atomic.Int32
}

// NewWorker assembles a worker. selector and pacer must be owned by this
// worker alone.
func NewWorker(id int, selector *Selector, pacer *Pacer, requester Requester, recorder Recorder, deadline time.Time, observers ...Observer) *Worker {
	return &Worker{
		ID:        id,
		selector:  selector,
		pacer:     pacer,
		requester: requester,
		recorder:  recorder,
		observers: observers,
		deadline:  deadline,
		buf:       make([]model.RequestMetrics, 0, FlushEvery),
	}
}

// State returns the current lifecycle stage.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Run loops until the deadline passes or ctx is cancelled. Cancellation is
// observed between iterations and during the pacing sleep only.
func (w *Worker) Run(ctx context.Context) (err error) {
	w.state.Store(int32(StateRunning))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: worker %d: %v", ErrWorkerPanic, w.ID, r)
		}
		w.flush()
		w.state.Store(int32(StateStopped))
	}()

	// In-flight I/O must not be severed by cancellation.
	ioCtx := context.WithoutCancel(ctx)

	for {
		start, m := w.iterate(ioCtx)
		w.record(m)

		if !w.pace(ctx, time.Since(start)) {
			return nil
		}
		if !time.Now().Before(w.deadline) {
			return nil
		}
	}
}

func (w *Worker) iterate(ctx context.Context) (time.Time, model.RequestMetrics) {
	host := w.selector.Select()

	start := time.Now()
	err := w.requester.Do(ctx, host)
	elapsed := time.Since(start)

	if err != nil {
		output.Logger.Debug("Request failed", "worker", w.ID, "host", host, "error", err)
	}

	return start, model.RequestMetrics{
		Host:         host,
		ResponseTime: uint64(elapsed.Microseconds()),
		Success:      err == nil,
		Timestamp:    uint64(time.Now().Unix()),
	}
}

func (w *Worker) record(m model.RequestMetrics) {
	w.buf = append(w.buf, m)
	for _, o := range w.observers {
		o.Observe(m)
	}
	if len(w.buf) >= FlushEvery {
		w.flush()
	}
}

func (w *Worker) flush() {
	if len(w.buf) == 0 {
		return
	}
	w.recorder.Append(w.buf...)
	w.buf = w.buf[:0]
}

// pace sleeps for the pacer's delay, capped at the deadline. It returns
// false if ctx was cancelled.
func (w *Worker) pace(ctx context.Context, elapsed time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}

	d := w.pacer.Delay(elapsed)
	if remaining := time.Until(w.deadline); d > remaining {
		d = remaining
	}
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
