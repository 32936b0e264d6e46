package cli

import (
	"bytes"
	"context"
	"math"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/daryltucker/kali/internal/config"
	"github.com/daryltucker/kali/internal/history"
	"github.com/daryltucker/kali/internal/model"
	"github.com/daryltucker/kali/internal/output"
)

func TestToWeights(t *testing.T) {
	got, err := toWeights(map[string]int64{"a": 70, "b": 0})
	if err != nil {
		t.Fatal(err)
	}
	if got["a"] != 70 || got["b"] != 0 || len(got) != 2 {
		t.Errorf("Unexpected weights: %v", got)
	}

	for _, bad := range []int64{-1, math.MaxUint32 + 1} {
		if _, err := toWeights(map[string]int64{"a": bad}); err == nil {
			t.Errorf("Expected error for weight %d", bad)
		}
	}
}

func TestPrintRuns(t *testing.T) {
	var buf bytes.Buffer
	if err := printRuns(&buf, nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "No runs recorded.") {
		t.Errorf("Unexpected empty output: %q", buf.String())
	}

	buf.Reset()
	runs := []history.Run{
		{ID: "r1", Host: "10.0.0.1", Port: 9000, RPS: 50, Duration: 5, StartedAt: time.Unix(1700000000, 0).UTC(),
			Summary: model.Summary{Total: 250, Success: 249, Failure: 1, AvgResponseTime: 812.25, P99: 2000}},
		{ID: "r2", Port: 9000, RPS: 10, Duration: 1, StartedAt: time.Unix(1700000100, 0).UTC()},
	}
	if err := printRuns(&buf, runs); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"RUN ID", "r1", "10.0.0.1:9000", "812.2", "(weighted):9000", "2023-11-14T22:13:20Z"} {
		if !strings.Contains(out, want) {
			t.Errorf("Output missing %q:\n%s", want, out)
		}
	}
}

// TestInitThenRun drives the CLI end to end: write a config, then run a short
// test against a loopback echo server using that config.
func TestInitThenRun(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				buf := make([]byte, 1024)
				n, _ := conn.Read(buf)
				conn.Write(buf[:n])
			}()
		}
	}()
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())

	dir := t.TempDir()
	rootCmd.SetArgs([]string{"init", dir})
	if err := Execute(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	cfgPath := filepath.Join(dir, config.DefaultFiles[0])

	rootCmd.SetArgs([]string{"init", dir})
	if err := Execute(context.Background()); err == nil {
		t.Fatal("Expected init to refuse overwriting")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("Generated config does not load: %v", err)
	}
	if cfg.Host != "127.0.0.1" || cfg.RPS != config.DefaultConfig().RPS {
		t.Errorf("Unexpected generated config: %+v", cfg)
	}

	outPath := filepath.Join(dir, "out.json")
	dbPath := filepath.Join(dir, "kali.db")
	rootCmd.SetArgs([]string{
		"run", "--config", cfgPath,
		"-p", portStr, "-d", "0", "-r", "2", "-j", "0",
		"-o", outPath, "--history-db", dbPath, "--log-level", "error",
	})
	if err := Execute(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	report, err := output.ReadReport(outPath)
	if err != nil {
		t.Fatal(err)
	}
	wantPort, _ := strconv.ParseUint(portStr, 10, 16)
	if report.Port != uint16(wantPort) || report.RPS != 2 || len(report.Metrics) != 2 {
		t.Errorf("Unexpected report: port=%d rps=%d entries=%d", report.Port, report.RPS, len(report.Metrics))
	}
	if report.Summary.Success != 2 {
		t.Errorf("Expected both requests to succeed, got %+v", report.Summary)
	}

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	defer rootCmd.SetOut(nil)
	rootCmd.SetArgs([]string{"history", "--db", dbPath})
	if err := Execute(context.Background()); err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if !strings.Contains(buf.String(), report.RunID) {
		t.Errorf("History does not list run %s:\n%s", report.RunID, buf.String())
	}
}
