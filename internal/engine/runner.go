/*
PURPOSE:
  High-level runner that orchestrates one load test.
  Builds the pool, wires observers, runs it and hands the report to the
  configured sinks (JSON file, CSV, history database).

REQUIREMENTS:
  User-specified:
  - Write the report as JSON to the configured output file.
  - A run where every request failed is still a successful run.

  Implementation-discovered:
  - Needs to report progress to CLI.
  - Optional Prometheus endpoint lives exactly as long as the run.

ARCHITECTURE INTEGRATION:
  - Called by: internal/cli
  - Uses: internal/engine, internal/metrics, internal/output, internal/history

ERROR HANDLING:
  - Configuration errors abort before any worker starts.
  - Sink failures are returned after the JSON report is written, so the
    primary artifact survives a broken CSV path or database.

USAGE:
  report, err := engine.Run(ctx, cfg)

RELATED FILES:
  - internal/engine/pool.go
*/

package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/daryltucker/kali/internal/config"
	"github.com/daryltucker/kali/internal/history"
	"github.com/daryltucker/kali/internal/metrics"
	"github.com/daryltucker/kali/internal/model"
	"github.com/daryltucker/kali/internal/output"
)

// ProgressInterval is how often a progress line is logged.
var ProgressInterval = 5 * time.Second

// Run executes a full load test described by cfg.
func Run(ctx context.Context, cfg *config.Config) (*model.LoadTestReport, error) {
	return RunWith(ctx, cfg, NewClient(cfg))
}

// RunWith is Run with a caller-supplied Requester.
func RunWith(ctx context.Context, cfg *config.Config, requester Requester) (*model.LoadTestReport, error) {
	progress := output.NewProgress(cfg.Duration * uint64(cfg.RPS))

	pool, err := NewPool(cfg, requester, progress)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		collector, err := metrics.NewCollector(reg, func() float64 { return float64(pool.Active()) })
		if err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
		addr, _, err := metrics.Serve(runCtx, cfg.MetricsAddr, reg)
		if err != nil {
			return nil, fmt.Errorf("failed to serve metrics on %s: %w", cfg.MetricsAddr, err)
		}
		pool.observers = append(pool.observers, collector)
		output.Logger.Info("Serving metrics", "addr", addr)
	}

	go progress.Report(runCtx, ProgressInterval)

	report, err := pool.Run(runCtx)
	if err != nil {
		return nil, err
	}

	output.Logger.Info("Load test completed",
		"run_id", report.RunID,
		"total", report.Summary.Total,
		"success", report.Summary.Success,
		"failure", report.Summary.Failure,
		"avg_us", fmt.Sprintf("%.1f", report.Summary.AvgResponseTime),
		"p99_us", report.Summary.P99,
	)
	for _, t := range report.Targets {
		output.Logger.Info("Target summary",
			"host", t.Host,
			"share", fmt.Sprintf("%.1f%%", pool.Targets().Share(t.Host)*100),
			"total", t.Total,
			"success", t.Success,
			"avg_us", fmt.Sprintf("%.1f", t.AvgResponseTime),
		)
	}

	return report, WriteSinks(cfg, report)
}

// WriteSinks writes report to every sink configured in cfg.
func WriteSinks(cfg *config.Config, report *model.LoadTestReport) error {
	if cfg.OutputFile != "" {
		if err := output.WriteReport(cfg.OutputFile, report); err != nil {
			return fmt.Errorf("failed to write report to %s: %w", cfg.OutputFile, err)
		}
		output.Logger.Info("Report written", "path", cfg.OutputFile)
	}

	var errs []error

	if cfg.CSVFile != "" {
		if err := writeCSV(cfg.CSVFile, report); err != nil {
			errs = append(errs, fmt.Errorf("failed to write CSV to %s: %w", cfg.CSVFile, err))
		} else {
			output.Logger.Info("CSV written", "path", cfg.CSVFile)
		}
	}

	if cfg.HistoryDB != "" {
		if err := saveHistory(cfg.HistoryDB, report); err != nil {
			errs = append(errs, fmt.Errorf("failed to save history to %s: %w", cfg.HistoryDB, err))
		} else {
			output.Logger.Info("Run saved to history", "db", cfg.HistoryDB, "run_id", report.RunID)
		}
	}

	return errors.Join(errs...)
}

func writeCSV(path string, report *model.LoadTestReport) error {
	w, err := output.NewCSVWriter(path)
	if err != nil {
		return err
	}
	if err := w.WriteAll(report.Metrics); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func saveHistory(path string, report *model.LoadTestReport) error {
	store, err := history.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Save(report)
}
