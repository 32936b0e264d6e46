package output

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/daryltucker/kali/internal/model"
)

// syncBuffer guards a bytes.Buffer shared between the reporter and the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestProgress_Counts(t *testing.T) {
	p := NewProgress(4)
	p.Observe(model.RequestMetrics{Success: true})
	p.Observe(model.RequestMetrics{Success: false})

	done, failed := p.Counts()
	if done != 2 || failed != 1 {
		t.Errorf("Expected 2 done / 1 failed, got %d / %d", done, failed)
	}
	if p.Percent() != 50 {
		t.Errorf("Expected 50%%, got %v", p.Percent())
	}

	for i := 0; i < 10; i++ {
		p.Observe(model.RequestMetrics{Success: true})
	}
	if p.Percent() != 100 {
		t.Errorf("Percent must cap at 100, got %v", p.Percent())
	}

	if NewProgress(0).Percent() != 0 {
		t.Error("Zero expected requests must report 0%")
	}
}

func TestProgress_Report(t *testing.T) {
	var buf syncBuffer
	l, err := NewLogger(&buf, "info")
	if err != nil {
		t.Fatal(err)
	}
	prev := Logger
	SetLogger(l)
	t.Cleanup(func() { SetLogger(prev) })

	p := NewProgress(10)
	p.Observe(model.RequestMetrics{Success: true})

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		p.Report(ctx, 10*time.Millisecond)
		close(finished)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(buf.String(), "Progress") && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-finished

	out := buf.String()
	if !strings.Contains(out, "completed=1") || !strings.Contains(out, "expected=10") {
		t.Errorf("Unexpected progress line: %s", out)
	}
}
