/*
PURPOSE:
  Writes per-request metrics to a CSV file for spreadsheet analysis.

REQUIREMENTS:
  Implementation-discovered:
  - One row per RequestMetrics, in report order, with a header row.
  - Overwrites the file if it exists.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine.Run (when csv_file is set)
  - Consumes: internal/model.RequestMetrics

ERROR HANDLING:
  - Returns error on file creation or write failure.

IMPLEMENTATION RULES:
  - Use encoding/csv.
  - Use Mutex: Write may be called from several goroutines.

USAGE:
  w, err := output.NewCSVWriter("metrics.csv")
  w.Write(entry)
  w.Close()
*/

package output

import (
	"encoding/csv"
	"os"
	"strconv"
	"sync"

	"github.com/daryltucker/kali/internal/model"
)

// CSVHeader is the first row of every metrics CSV.
var CSVHeader = []string{"host", "response_time_us", "success", "timestamp"}

// CSVWriter handles writing request metrics to a CSV file.
type CSVWriter struct {
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
}

// NewCSVWriter creates a new CSVWriter.
// It overwrites the file if it exists.
func NewCSVWriter(path string) (*CSVWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	w := csv.NewWriter(f)
	if err := w.Write(CSVHeader); err != nil {
		f.Close()
		return nil, err
	}

	return &CSVWriter{
		file:   f,
		writer: w,
	}, nil
}

// Write writes a single entry. It is thread-safe.
func (cw *CSVWriter) Write(m model.RequestMetrics) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	return cw.writer.Write([]string{
		m.Host,
		strconv.FormatUint(m.ResponseTime, 10),
		strconv.FormatBool(m.Success),
		strconv.FormatUint(m.Timestamp, 10),
	})
}

// WriteAll writes every entry and flushes.
func (cw *CSVWriter) WriteAll(entries []model.RequestMetrics) error {
	for _, m := range entries {
		if err := cw.Write(m); err != nil {
			return err
		}
	}
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.writer.Flush()
	return cw.writer.Error()
}

// Close flushes and closes the underlying file.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		cw.file.Close()
		return err
	}
	return cw.file.Close()
}
