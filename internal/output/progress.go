package output

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/daryltucker/kali/internal/model"
)

// Progress counts outcomes as they happen and logs a line per interval.
type Progress struct {
	expected uint64
	done     atomic.Uint64
	failed   atomic.Uint64
}

// NewProgress tracks a run expected to issue roughly expected requests.
func NewProgress(expected uint64) *Progress {
	return &Progress{expected: expected}
}

// Observe implements engine.Observer.
func (p *Progress) Observe(m model.RequestMetrics) {
	p.done.Add(1)
	if !m.Success {
		p.failed.Add(1)
	}
}

// Counts returns completed and failed request counts.
func (p *Progress) Counts() (done, failed uint64) {
	return p.done.Load(), p.failed.Load()
}

// Percent of expected requests completed, capped at 100.
func (p *Progress) Percent() float64 {
	if p.expected == 0 {
		return 0
	}
	pct := float64(p.done.Load()) / float64(p.expected) * 100
	if pct > 100 {
		return 100
	}
	return pct
}

// Report logs progress every interval until ctx is done.
func (p *Progress) Report(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			done, failed := p.Counts()
			Logger.Info("Progress",
				"completed", done,
				"expected", p.expected,
				"failed", failed,
				"percent", int(p.Percent()),
			)
		}
	}
}
