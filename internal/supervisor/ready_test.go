package supervisor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitReadyHTTPProbe(t *testing.T) {
	requireUnix(t)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, _, _ := newTestSupervisor(t, nil)
	id, err := s.Spawn(context.Background(), "sleep", "30")
	require.NoError(t, err)

	require.NoError(t, s.WaitReady(context.Background(), id, HTTPProbe(srv.URL), 20*time.Millisecond, 10))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWaitReadyGivesUp(t *testing.T) {
	requireUnix(t)
	s, _, _ := newTestSupervisor(t, nil)
	id, err := s.Spawn(context.Background(), "sleep", "30")
	require.NoError(t, err)

	probe := func(context.Context) error { return assert.AnError }
	err = s.WaitReady(context.Background(), id, probe, 10*time.Millisecond, 3)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Contains(t, err.Error(), "3 attempts")
}

func TestWaitReadyFailsWhenProcessExits(t *testing.T) {
	requireUnix(t)
	s, _, _ := newTestSupervisor(t, nil)
	id, err := s.Spawn(context.Background(), "sh", "-c", "sleep 0.3")
	require.NoError(t, err)

	probe := func(context.Context) error { return assert.AnError }
	start := time.Now()
	err = s.WaitReady(context.Background(), id, probe, 50*time.Millisecond, 1000)
	assert.ErrorIs(t, err, ErrPrematureExit)
	assert.NotErrorIs(t, err, ErrNotReady)
	assert.NotContains(t, err.Error(), "exited exited")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestHold(t *testing.T) {
	requireUnix(t)
	s, _, _ := newTestSupervisor(t, nil)
	stable, err := s.Spawn(context.Background(), "sleep", "30")
	require.NoError(t, err)
	assert.NoError(t, s.Hold(context.Background(), stable, 100*time.Millisecond))

	flaky, err := s.Spawn(context.Background(), "sh", "-c", "sleep 0.2")
	require.NoError(t, err)
	err = s.Hold(context.Background(), flaky, 3*time.Second)
	assert.ErrorIs(t, err, ErrPrematureExit)
	assert.NotContains(t, err.Error(), "exited exited")

	assert.ErrorIs(t, s.Hold(context.Background(), 99, time.Second), ErrUnknownEntry)
}
