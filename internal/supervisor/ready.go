package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/loykin/harness/internal/probe"
	"github.com/loykin/harness/internal/process"
)

// Probe checks whether a service is ready to accept work.
type Probe func(ctx context.Context) error

// HTTPProbe succeeds when GET url answers with a status below 500.
func HTTPProbe(url string) Probe { return probe.NewHTTP(url).Ready }

// WaitReady polls probe every interval until it passes while the entry
// stays healthy. It fails with ErrNotReady after attempts probes, and at
// once with ErrPrematureExit when the entry exits.
func (s *Supervisor) WaitReady(ctx context.Context, id int, probe Probe, interval time.Duration, attempts int) error {
	e, ok := s.reg.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownEntry, id)
	}
	if attempts <= 0 {
		attempts = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	var last error
	for i := 0; i < attempts; i++ {
		if !e.Healthy() {
			return unhealthy(e)
		}
		if last = probe(ctx); last == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-t.C:
		case <-e.Done():
			return exitedEarly(e)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w: %s after %d attempts: %v", ErrNotReady, e.Spec().Tag(), attempts, last)
}

// Hold waits for d and fails if the entry stops being healthy meanwhile;
// an exit inside the window is ErrPrematureExit.
func (s *Supervisor) Hold(ctx context.Context, id int, d time.Duration) error {
	e, ok := s.reg.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownEntry, id)
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		if !e.Healthy() {
			return unhealthy(e)
		}
		return nil
	case <-e.Done():
		return exitedEarly(e)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func exitedEarly(e *process.Entry) error {
	return fmt.Errorf("%w: %s %s", ErrPrematureExit, e.Spec().Tag(), e.Exit())
}

func unhealthy(e *process.Entry) error {
	if e.Exited() {
		return exitedEarly(e)
	}
	return fmt.Errorf("%w: %s is %s", ErrNotReady, e.Spec().Tag(), e.State())
}
