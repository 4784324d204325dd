package process

import (
	"bytes"
	"runtime"
	"sync"
	"testing"
	"time"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh/sleep on Unix-like systems")
	}
}

func waitClosed(t *testing.T, ch <-chan struct{}, d time.Duration) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(d):
		t.Fatalf("channel not closed within %v", d)
	}
}

// bufStream is a Stream that records writes and flushes.
type bufStream struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	flushes int
}

func (b *bufStream) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *bufStream) Flush() {
	b.mu.Lock()
	b.flushes++
	b.mu.Unlock()
}

func (b *bufStream) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *bufStream) Flushes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushes
}

// recObserver records callbacks.
type recObserver struct {
	mu       sync.Mutex
	spawned  []int
	launched []int
	exited   []int
	from     []State
}

func (o *recObserver) OnSpawn(e *Entry) {
	o.mu.Lock()
	o.spawned = append(o.spawned, e.ID())
	o.mu.Unlock()
}

func (o *recObserver) OnLaunchError(e *Entry, _ error) {
	o.mu.Lock()
	o.launched = append(o.launched, e.ID())
	o.mu.Unlock()
}

func (o *recObserver) OnExit(e *Entry, from State, _ Exit) {
	o.mu.Lock()
	o.exited = append(o.exited, e.ID())
	o.from = append(o.from, from)
	o.mu.Unlock()
}

func (o *recObserver) counts() (int, int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.spawned), len(o.launched), len(o.exited)
}
