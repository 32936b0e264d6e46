/*
PURPOSE:
  Picks the target host for each request, either a single fixed host or
  one of several hosts chosen with probability weight/total.

REQUIREMENTS:
  User-specified:
  - Weighted selection by positive integer bias.
  - Zero weights and overflowing weight sums are configuration errors.

  Implementation-discovered:
  - The weight table is immutable and shared; the random source is not.
    Each worker gets its own Selector bound to its own generator.
  - Hosts are enumerated in sorted order so the cumulative table is stable
    across runs (map iteration order is not).

ARCHITECTURE INTEGRATION:
  - Built by: engine.NewPool
  - Used by: engine.Worker

ERROR HANDLING:
  - NewTargets fails fast; Select never fails.

RELATED FILES:
  - internal/engine/worker.go
*/

package engine

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/daryltucker/kali/internal/config"
)

var (
	ErrNoTarget        = config.ErrNoTarget
	ErrAmbiguousTarget = config.ErrAmbiguousTarget
	ErrZeroWeight      = errors.New("bias weight must be greater than 0")
	ErrWeightOverflow  = errors.New("sum of bias weights overflows uint32")
)

// Targets is the immutable set of hosts a run sends traffic to.
type Targets struct {
	hosts      []string
	cumulative []uint32
	total      uint32
}

// NewTargets builds the target table. Exactly one of host and bias must be set.
func NewTargets(host string, bias map[string]uint32) (*Targets, error) {
	switch {
	case host == "" && len(bias) == 0:
		return nil, ErrNoTarget
	case host != "" && len(bias) > 0:
		return nil, ErrAmbiguousTarget
	case host != "":
		return &Targets{hosts: []string{host}}, nil
	}

	hosts := make([]string, 0, len(bias))
	for h := range bias {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)

	cumulative := make([]uint32, len(hosts))
	var sum uint64
	for i, h := range hosts {
		w := bias[h]
		if w == 0 {
			return nil, fmt.Errorf("%w: %s", ErrZeroWeight, h)
		}
		sum += uint64(w)
		if sum > math.MaxUint32 {
			return nil, ErrWeightOverflow
		}
		cumulative[i] = uint32(sum)
	}

	return &Targets{
		hosts:      hosts,
		cumulative: cumulative,
		total:      uint32(sum),
	}, nil
}

// Hosts returns the hosts in selection order.
func (t *Targets) Hosts() []string {
	out := make([]string, len(t.hosts))
	copy(out, t.hosts)
	return out
}

// Weighted reports whether selection is random.
func (t *Targets) Weighted() bool {
	return t.cumulative != nil
}

// Total returns the weight sum, 0 in single-target mode.
func (t *Targets) Total() uint32 {
	return t.total
}

// Share returns the selection probability of host.
func (t *Targets) Share(host string) float64 {
	if !t.Weighted() {
		if len(t.hosts) == 1 && t.hosts[0] == host {
			return 1
		}
		return 0
	}
	prev := uint32(0)
	for i, h := range t.hosts {
		if h == host {
			return float64(t.cumulative[i]-prev) / float64(t.total)
		}
		prev = t.cumulative[i]
	}
	return 0
}

// NewSelector binds the table to a generator owned by the caller.
func (t *Targets) NewSelector(rng *rand.Rand) *Selector {
	return &Selector{targets: t, rng: rng}
}

// Selector picks hosts for a single worker. It is not safe for concurrent use.
type Selector struct {
	targets *Targets
	rng     *rand.Rand
}

// Select returns the host for the next request.
func (s *Selector) Select() string {
	t := s.targets
	if !t.Weighted() {
		return t.hosts[0]
	}

	r := s.rng.Uint32N(t.total)
	i := sort.Search(len(t.cumulative), func(i int) bool {
		return t.cumulative[i] > r
	})
	if i == len(t.hosts) {
		return t.hosts[0]
	}
	return t.hosts[i]
}
