/*
PURPOSE:
  Writes the finished LoadTestReport as a single pretty-printed JSON
  document and reads it back.

REQUIREMENTS:
  User-specified:
  - JSON shape: {metrics: [{host, response_time, success, timestamp}],
    duration, rps, load_test_type}.

  Implementation-discovered:
  - Write to a temp file in the same directory and rename, so a crash
    never leaves a truncated report behind.
  - ReadReport is the inverse of WriteReport (used by tests and tooling).

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine.Run
  - Consumes: internal/model.LoadTestReport

ERROR HANDLING:
  - Returns error on file creation, encode or rename failure.

USAGE:
  err := output.WriteReport("output.json", report)
  report, err := output.ReadReport("output.json")

RELATED FILES:
  - internal/model/types.go
*/

package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/daryltucker/kali/internal/model"
)

// EncodeReport writes report to w as indented JSON.
func EncodeReport(w io.Writer, report *model.LoadTestReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// DecodeReport parses a report from r.
func DecodeReport(r io.Reader) (*model.LoadTestReport, error) {
	var report model.LoadTestReport
	if err := json.NewDecoder(r).Decode(&report); err != nil {
		return nil, err
	}
	return &report, nil
}

// WriteReport writes report to path, replacing any existing file.
func WriteReport(path string, report *model.LoadTestReport) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".kali-report-*")
	if err != nil {
		return fmt.Errorf("failed to create report file in %s: %w", dir, err)
	}
	defer os.Remove(tmp.Name())

	if err := EncodeReport(tmp, report); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ReadReport loads a report written by WriteReport.
func ReadReport(path string) (*model.LoadTestReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	report, err := DecodeReport(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse report %s: %w", path, err)
	}
	return report, nil
}
