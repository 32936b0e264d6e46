package engine

import (
	"math/rand/v2"
	"time"
)

// Pacer computes the sleep a worker observes between requests.
// Pacing is advisory: a request slower than the period simply shortens or
// skips the sleep, nothing is queued or dropped.
type Pacer struct {
	period    time.Duration
	maxJitter time.Duration
	rng       *rand.Rand
}

// NewPacer returns a pacer for one worker. rng must not be shared.
func NewPacer(period, maxJitter time.Duration, rng *rand.Rand) *Pacer {
	return &Pacer{period: period, maxJitter: maxJitter, rng: rng}
}

// Period is the nominal inter-request period for one of workers workers that
// together target rps requests per second.
func Period(rps uint32, workers int) time.Duration {
	if rps == 0 || workers <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) * float64(workers) / float64(rps))
}

// Jitter draws a whole number of milliseconds in [0, maxJitter).
func (p *Pacer) Jitter() time.Duration {
	ms := int64(p.maxJitter / time.Millisecond)
	if ms <= 0 {
		return 0
	}
	return time.Duration(p.rng.Int64N(ms)) * time.Millisecond
}

// Delay returns max(0, period + jitter - elapsed), where elapsed is the time
// already spent since the request started.
func (p *Pacer) Delay(elapsed time.Duration) time.Duration {
	d := p.period + p.Jitter() - elapsed
	if d < 0 {
		return 0
	}
	return d
}
