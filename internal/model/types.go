/*
PURPOSE:
  Defines the core data structures shared by the engine, the aggregator
  and the report writers: per-request observations and the final report.

REQUIREMENTS:
  User-specified:
  - Record target host, response time, success flag and timestamp per request.
  - Echo duration, rps and load test type in the report.

  Implementation-discovered:
  - JSON tags must match the report shape consumed by external tooling
    ({metrics, duration, rps, load_test_type}).
  - Timestamps are unix seconds (not time.Time) so a report survives a
    JSON round trip unchanged.

ARCHITECTURE INTEGRATION:
  - Used by: internal/engine, internal/metrics, internal/output, internal/history
  - Shared across boundaries.

ERROR HANDLING:
  - None (pure data structs).

IMPLEMENTATION RULES:
  - Keep structs simple and public.
  - Never mutate a RequestMetrics after it has been recorded.

RELATED FILES:
  - internal/output/json.go
  - internal/metrics/aggregate.go
*/

package model

// RequestMetrics is the outcome of one completed request attempt.
type RequestMetrics struct {
	Host         string `json:"host"`
	ResponseTime uint64 `json:"response_time"` // microseconds
	Success      bool   `json:"success"`
	Timestamp    uint64 `json:"timestamp"` // unix seconds at completion
}

// Summary holds derived statistics over a set of RequestMetrics.
// Latency fields are in microseconds.
type Summary struct {
	Total           int     `json:"total"`
	Success         int     `json:"success"`
	Failure         int     `json:"failure"`
	AvgResponseTime float64 `json:"avg_response_time"`
	MinResponseTime uint64  `json:"min_response_time"`
	MaxResponseTime uint64  `json:"max_response_time"`
	P50             uint64  `json:"p50_response_time"`
	P90             uint64  `json:"p90_response_time"`
	P99             uint64  `json:"p99_response_time"`
}

// TargetSummary is the per-host breakdown of a multi-target run.
type TargetSummary struct {
	Host string `json:"host"`
	Summary
}

// LoadTestReport is the immutable result of a single run.
type LoadTestReport struct {
	RunID        string           `json:"run_id,omitempty"`
	Host         string           `json:"host,omitempty"`
	Port         uint16           `json:"port,omitempty"`
	Metrics      []RequestMetrics `json:"metrics"`
	Duration     uint64           `json:"duration"`
	RPS          uint32           `json:"rps"`
	LoadTestType string           `json:"load_test_type"`
	Workers      int              `json:"workers,omitempty"`
	StartedAt    uint64           `json:"started_at,omitempty"`
	FinishedAt   uint64           `json:"finished_at,omitempty"`
	Summary      Summary          `json:"summary"`
	Targets      []TargetSummary  `json:"targets,omitempty"`
}
