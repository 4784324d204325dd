package history

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSink struct {
	mu     sync.Mutex
	events []Event
	err    error
	delay  time.Duration
	closed bool
}

func (m *memSink) Send(ctx context.Context, e Event) error {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return m.err
}

func (m *memSink) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *memSink) types() []EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EventType, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}

func TestDispatcherPreservesOrderAcrossSinks(t *testing.T) {
	a, b := &memSink{}, &memSink{err: errors.New("down")}
	d := NewDispatcher(nil, time.Second, a, b)
	d.Publish(Event{Type: EventSpawn})
	d.Publish(Event{Type: EventTerminate})
	d.Publish(Event{Type: EventExit})
	require.NoError(t, d.Close(time.Second))

	want := []EventType{EventSpawn, EventTerminate, EventExit}
	assert.Equal(t, want, a.types())
	// a failing sink still sees every event and does not stop the others
	assert.Equal(t, want, b.types())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestDispatcherPublishAfterClose(t *testing.T) {
	s := &memSink{}
	d := NewDispatcher(nil, time.Second, s)
	require.NoError(t, d.Close(time.Second))
	d.Publish(Event{Type: EventSpawn})
	assert.Empty(t, s.types())
	// second close is a no-op
	assert.NoError(t, d.Close(time.Second))
}

func TestDispatcherPublishDoesNotBlock(t *testing.T) {
	s := &memSink{delay: 50 * time.Millisecond}
	d := NewDispatcher(nil, time.Second, s)
	start := time.Now()
	for i := 0; i < 5; i++ {
		d.Publish(Event{Type: EventSpawn, Record: Record{ID: i}})
	}
	assert.Less(t, time.Since(start), 40*time.Millisecond)
	require.NoError(t, d.Close(2*time.Second))
	assert.Len(t, s.types(), 5)
}

func TestDispatcherNoSinks(t *testing.T) {
	d := NewDispatcher(nil, 0)
	d.Publish(Event{Type: EventSpawn})
	assert.NoError(t, d.Close(time.Second))
}

// busySink reports whether Close ran while a Send was still in progress.
type busySink struct {
	stubborn time.Duration
	inFlight atomic.Bool
	overlap  atomic.Bool
	closed   atomic.Bool
}

func (b *busySink) Send(ctx context.Context, _ Event) error {
	b.inFlight.Store(true)
	defer b.inFlight.Store(false)
	if b.stubborn > 0 {
		time.Sleep(b.stubborn)
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (b *busySink) Close() error {
	if b.inFlight.Load() {
		b.overlap.Store(true)
	}
	b.closed.Store(true)
	return nil
}

func TestDispatcherCloseTimeoutWaitsForSend(t *testing.T) {
	s := &busySink{}
	d := NewDispatcher(nil, time.Minute, s)
	d.Publish(Event{Type: EventSpawn})
	d.Publish(Event{Type: EventExit})
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	require.NoError(t, d.Close(50*time.Millisecond))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.True(t, s.closed.Load())
	assert.False(t, s.overlap.Load(), "sink closed during send")
}

func TestDispatcherCloseLeavesBusySinkOpen(t *testing.T) {
	s := &busySink{stubborn: time.Second}
	d := NewDispatcher(nil, 100*time.Millisecond, s)
	d.Publish(Event{Type: EventSpawn})
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, d.Close(50*time.Millisecond))
	assert.False(t, s.closed.Load())
	assert.False(t, s.overlap.Load())
}
