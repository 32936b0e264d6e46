package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/daryltucker/kali/internal/config"
	"github.com/daryltucker/kali/internal/output"
)

func TestPool_EchoServer(t *testing.T) {
	port, accepted := startServer(t, echo)

	cfg := testConfig(port)
	cfg.RPS = 10
	cfg.Duration = 1
	cfg.Jitter = 0

	pool, err := NewPool(cfg, NewClient(cfg))
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	if pool.Workers() != 10 {
		t.Errorf("Expected one worker per rps slot, got %d", pool.Workers())
	}

	report, err := pool.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	n := len(report.Metrics)
	if n < 9 || n > 11 {
		t.Errorf("Expected 10±1 entries, got %d", n)
	}
	for _, m := range report.Metrics {
		if !m.Success {
			t.Errorf("Expected success against echo server, got %+v", m)
		}
		if m.Host != "127.0.0.1" || m.Timestamp == 0 {
			t.Errorf("Unexpected entry: %+v", m)
		}
	}
	if int64(n) != accepted.Load() {
		t.Errorf("Recorded %d entries, server accepted %d connections", n, accepted.Load())
	}

	if report.Host != "127.0.0.1" || report.Port != port {
		t.Errorf("Expected host/port echoed, got %s:%d", report.Host, report.Port)
	}
	if report.Duration != 1 || report.RPS != 10 || report.LoadTestType != "tcp" {
		t.Errorf("Config not echoed: %+v", report)
	}
	if report.RunID == "" {
		t.Error("Expected a run id")
	}
	if report.Summary.Total != n || report.Summary.Success != n || report.Summary.Failure != 0 {
		t.Errorf("Unexpected summary: %+v", report.Summary)
	}
	if report.Targets != nil {
		t.Errorf("Single-target run must not carry a breakdown, got %v", report.Targets)
	}
}

func TestPool_NoListener(t *testing.T) {
	cfg := testConfig(closedPort(t))
	cfg.RPS = 5
	cfg.Duration = 1
	cfg.Jitter = 10

	pool, err := NewPool(cfg, NewClient(cfg))
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	report, err := pool.Run(context.Background())
	if err != nil {
		t.Fatalf("A run of failed requests must still produce a report, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Run should finish near its duration, took %v", elapsed)
	}

	if len(report.Metrics) == 0 {
		t.Fatal("Expected failed entries")
	}
	for _, m := range report.Metrics {
		if m.Success {
			t.Fatalf("Expected only failures, got %+v", m)
		}
	}
	if report.Summary.Success != 0 || report.Summary.Failure != report.Summary.Total {
		t.Errorf("Unexpected summary: %+v", report.Summary)
	}
}

func TestPool_WeightedBreakdown(t *testing.T) {
	cfg := testConfig(9)
	cfg.Host = ""
	cfg.Bias = map[string]uint32{"a.example": 70, "b.example": 30}
	cfg.RPS = 200
	cfg.Concurrency = 4
	cfg.Duration = 1
	cfg.Jitter = 0
	cfg.Seed = 99

	req := &fakeRequester{fail: func(host string) bool { return host == "b.example" }}
	pool, err := NewPool(cfg, req)
	if err != nil {
		t.Fatal(err)
	}
	report, err := pool.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if report.Host != "" {
		t.Errorf("Weighted report must not carry a single host, got %q", report.Host)
	}
	if len(report.Targets) != 2 {
		t.Fatalf("Expected two target rows, got %v", report.Targets)
	}
	a, b := report.Targets[0], report.Targets[1]
	if a.Host != "a.example" || b.Host != "b.example" {
		t.Fatalf("Expected rows sorted by host, got %s, %s", a.Host, b.Host)
	}
	if a.Total+b.Total != report.Summary.Total {
		t.Errorf("Per-target totals %d+%d != %d", a.Total, b.Total, report.Summary.Total)
	}
	if a.Failure != 0 || b.Success != 0 {
		t.Errorf("Unexpected per-target outcomes: %+v / %+v", a.Summary, b.Summary)
	}
	if a.Total <= b.Total {
		t.Errorf("Expected the 70 weight to dominate: %d vs %d", a.Total, b.Total)
	}
	// 4 workers at 200rps pace every 20ms for 1s.
	if report.Summary.Total < 150 || report.Summary.Total > 210 {
		t.Errorf("Expected ~200 requests, got %d", report.Summary.Total)
	}
}

func TestPool_ConfigErrorsBeforeStart(t *testing.T) {
	cfg := testConfig(9)
	cfg.Host = ""
	cfg.Bias = map[string]uint32{"a": 1, "b": 0}

	req := &fakeRequester{}
	if _, err := NewPool(cfg, req); !errors.Is(err, ErrZeroWeight) {
		t.Fatalf("Expected ErrZeroWeight, got %v", err)
	}

	cfg.Bias = nil
	if _, err := NewPool(cfg, req); !errors.Is(err, config.ErrNoTarget) {
		t.Fatalf("Expected ErrNoTarget, got %v", err)
	}
	if req.calls.Load() != 0 {
		t.Error("No request may be issued for an invalid config")
	}
}

func TestPool_WorkerPanicFailsRun(t *testing.T) {
	cfg := testConfig(9)
	cfg.RPS = 3
	cfg.Duration = 1

	pool, err := NewPool(cfg, panicRequester{})
	if err != nil {
		t.Fatal(err)
	}
	report, err := pool.Run(context.Background())
	if !errors.Is(err, ErrWorkerPanic) {
		t.Fatalf("Expected ErrWorkerPanic, got %v", err)
	}
	if report != nil {
		t.Error("Expected no report for a failed run")
	}
	if pool.Active() != 0 {
		t.Errorf("Expected every worker joined, %d still active", pool.Active())
	}
}

func TestPool_RunOnce(t *testing.T) {
	cfg := testConfig(9)
	cfg.RPS = 1
	cfg.Duration = 0

	pool, err := NewPool(cfg, &fakeRequester{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := pool.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := pool.Run(context.Background()); !errors.Is(err, ErrPoolReused) {
		t.Fatalf("Expected ErrPoolReused, got %v", err)
	}
}

func TestPool_Cancel(t *testing.T) {
	cfg := testConfig(9)
	cfg.RPS = 4
	cfg.Duration = 60

	pool, err := NewPool(cfg, &fakeRequester{})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	start := time.Now()
	report, err := pool.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Cancelled run took %v", elapsed)
	}
	if report.Summary.Total < 4 {
		t.Errorf("Expected each worker's first iteration recorded, got %d", report.Summary.Total)
	}
}

func TestRunWith_WritesSinks(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(9)
	cfg.RPS = 2
	cfg.Duration = 0
	cfg.OutputFile = filepath.Join(dir, "output.json")
	cfg.CSVFile = filepath.Join(dir, "metrics.csv")
	cfg.HistoryDB = filepath.Join(dir, "kali.db")
	cfg.MetricsAddr = "127.0.0.1:0"

	report, err := RunWith(context.Background(), cfg, &fakeRequester{})
	if err != nil {
		t.Fatalf("RunWith failed: %v", err)
	}

	loaded, err := output.ReadReport(cfg.OutputFile)
	if err != nil {
		t.Fatalf("Report not readable: %v", err)
	}
	if loaded.RunID != report.RunID || len(loaded.Metrics) != len(report.Metrics) {
		t.Errorf("Written report differs: %+v vs %+v", loaded, report)
	}
}
