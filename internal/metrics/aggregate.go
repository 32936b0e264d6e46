/*
PURPOSE:
  Reduces the drained outcomes of a run into the final LoadTestReport:
  totals, success/failure counts, latency statistics and a per-target
  breakdown for multi-target runs.

REQUIREMENTS:
  User-specified:
  - failure = total - success.
  - Average response time = sum / total, 0 when there are no entries.
  - Same result regardless of the order entries arrived in.

  Implementation-discovered:
  - Percentiles come from an HDR histogram; min/max/avg are exact.
  - Hosts that were configured but never selected still get a (zero) row.

ARCHITECTURE INTEGRATION:
  - Called by: engine.Pool after all workers joined.
  - Uses: github.com/codahale/hdrhistogram

ERROR HANDLING:
  - None. Pure function of its inputs.

RELATED FILES:
  - internal/model/types.go
*/

package metrics

import (
	"sort"

	"github.com/codahale/hdrhistogram"

	"github.com/daryltucker/kali/internal/model"
)

const (
	histMin     = 1
	histMax     = int64(10 * 60 * 1e6) // 10 minutes in microseconds
	histSigFigs = 3
)

// RunInfo carries the run parameters echoed into the report.
type RunInfo struct {
	RunID        string
	Host         string
	Port         uint16
	Hosts        []string // configured hosts, in selection order
	Duration     uint64
	RPS          uint32
	LoadTestType string
	Workers      int
	StartedAt    uint64
	FinishedAt   uint64
}

// Aggregate builds the report for entries. entries is kept as the report's
// metrics slice and must not be modified afterwards.
func Aggregate(entries []model.RequestMetrics, info RunInfo) *model.LoadTestReport {
	if entries == nil {
		entries = []model.RequestMetrics{}
	}

	report := &model.LoadTestReport{
		RunID:        info.RunID,
		Host:         info.Host,
		Port:         info.Port,
		Metrics:      entries,
		Duration:     info.Duration,
		RPS:          info.RPS,
		LoadTestType: info.LoadTestType,
		Workers:      info.Workers,
		StartedAt:    info.StartedAt,
		FinishedAt:   info.FinishedAt,
	}

	overall := newAccumulator()
	perHost := make(map[string]*accumulator)
	for _, h := range info.Hosts {
		perHost[h] = newAccumulator()
	}

	for _, m := range entries {
		overall.add(m)
		acc, ok := perHost[m.Host]
		if !ok {
			acc = newAccumulator()
			perHost[m.Host] = acc
		}
		acc.add(m)
	}

	report.Summary = overall.summary()

	if len(perHost) > 1 {
		hosts := make([]string, 0, len(perHost))
		for h := range perHost {
			hosts = append(hosts, h)
		}
		sort.Strings(hosts)

		report.Targets = make([]model.TargetSummary, 0, len(hosts))
		for _, h := range hosts {
			report.Targets = append(report.Targets, model.TargetSummary{
				Host:    h,
				Summary: perHost[h].summary(),
			})
		}
	}

	return report
}

// Summarize computes the summary of entries alone.
func Summarize(entries []model.RequestMetrics) model.Summary {
	acc := newAccumulator()
	for _, m := range entries {
		acc.add(m)
	}
	return acc.summary()
}

type accumulator struct {
	total   int
	success int
	sum     uint64
	min     uint64
	max     uint64
	hist    *hdrhistogram.Histogram
}

func newAccumulator() *accumulator {
	return &accumulator{hist: hdrhistogram.New(histMin, histMax, histSigFigs)}
}

func (a *accumulator) add(m model.RequestMetrics) {
	if a.total == 0 || m.ResponseTime < a.min {
		a.min = m.ResponseTime
	}
	if m.ResponseTime > a.max {
		a.max = m.ResponseTime
	}
	a.total++
	if m.Success {
		a.success++
	}
	a.sum += m.ResponseTime

	v := int64(m.ResponseTime)
	if v > histMax || v < 0 {
		v = histMax
	}
	// Only out-of-range values fail, and those are clamped above.
	_ = a.hist.RecordValue(v)
}

func (a *accumulator) summary() model.Summary {
	s := model.Summary{
		Total:   a.total,
		Success: a.success,
		Failure: a.total - a.success,
	}
	if a.total == 0 {
		return s
	}
	s.AvgResponseTime = float64(a.sum) / float64(a.total)
	s.MinResponseTime = a.min
	s.MaxResponseTime = a.max
	s.P50 = a.quantile(50)
	s.P90 = a.quantile(90)
	s.P99 = a.quantile(99)
	return s
}

func (a *accumulator) quantile(q float64) uint64 {
	v := a.hist.ValueAtQuantile(q)
	// The histogram reports bucket bounds; keep them inside the observed range.
	if uint64(v) > a.max {
		return a.max
	}
	if uint64(v) < a.min {
		return a.min
	}
	return uint64(v)
}
