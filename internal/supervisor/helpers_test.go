package supervisor

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/loykin/harness/internal/history"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh/sleep on Unix-like systems")
	}
}

// syncBuffer is a goroutine-safe bytes.Buffer.
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

// exitRecorder captures ExitFunc calls.
type exitRecorder struct {
	ch chan int
}

func newExitRecorder() *exitRecorder { return &exitRecorder{ch: make(chan int, 4)} }

func (r *exitRecorder) exit(code int) { r.ch <- code }

func (r *exitRecorder) wait(t *testing.T, d time.Duration) int {
	t.Helper()
	select {
	case c := <-r.ch:
		return c
	case <-time.After(d):
		t.Fatalf("exit function not called within %v", d)
		return 0
	}
}

// memSink records history events.
type memSink struct {
	mu     sync.Mutex
	events []history.Event
}

func (m *memSink) Send(_ context.Context, e history.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memSink) types() []history.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]history.EventType, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestSupervisor builds a supervisor with short timings and registers
// cleanup that tears down anything the test left running.
func newTestSupervisor(t *testing.T, mutate func(*Options)) (*Supervisor, *syncBuffer, *exitRecorder) {
	t.Helper()
	out := &syncBuffer{}
	rec := newExitRecorder()
	opts := Options{
		ConfirmTimeout: 2 * time.Second,
		StartDuration:  100 * time.Millisecond,
		GracePeriod:    500 * time.Millisecond,
		GiveUpAfter:    3 * time.Second,
		Logger:         quietLogger(),
		Output:         out,
		ExitFunc:       rec.exit,
	}
	if mutate != nil {
		mutate(&opts)
	}
	s := New(opts)
	t.Cleanup(func() {
		for _, e := range s.reg.Entries() {
			_ = e.Kill()
		}
		_ = s.Close()
	})
	return s, out, rec
}

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", d)
}
