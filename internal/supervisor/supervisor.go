// Package supervisor launches external processes, confirms they started,
// runs commands to completion and tears everything down on request, on
// signals and on panics.
package supervisor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/harness/internal/env"
	"github.com/loykin/harness/internal/history"
	"github.com/loykin/harness/internal/metrics"
	"github.com/loykin/harness/internal/output"
	"github.com/loykin/harness/internal/process"
)

// Supervisor owns a process registry and the shutdown guards for it.
// Create one per test binary or CLI run; the zero value is not usable.
type Supervisor struct {
	opts Options
	log  *slog.Logger

	mux  *output.Multiplexer
	env  *env.Env
	reg  *process.Registry
	hist *history.Dispatcher

	// gate orders Register calls against the start of a sweep so that an
	// entry is either refused or included in the sweep's targets.
	gate           sync.RWMutex
	terminating    atomic.Bool
	hooksInstalled atomic.Bool
	sweepDone      chan struct{}
	closeOnce      sync.Once
	closeErr       error
}

// New builds a supervisor. No signal handlers are installed; call
// InstallSignalHandlers from the entry point when wanted.
func New(opts Options) *Supervisor {
	opts = opts.withDefaults()
	s := &Supervisor{
		opts:      opts,
		log:       opts.Logger.With("component", "supervisor"),
		mux:       output.New(opts.Output),
		env:       env.New(),
		sweepDone: make(chan struct{}),
	}
	s.env.SetPairs(opts.Env)
	s.mux.OnLine(metrics.IncOutputLine)
	s.hist = history.NewDispatcher(s.log, opts.HistoryTimeout, opts.Sinks...)
	s.reg = process.NewRegistry(s.openOutput, observer{s}, s.env)
	return s
}

// Options returns the effective options after defaults.
func (s *Supervisor) Options() Options { return s.opts }

func (s *Supervisor) openOutput(id int, spec process.Spec) (process.Stream, process.Stream, io.Closer) {
	tag := spec.Tag()
	mirror := s.opts.Files.ProcessWriter(fmt.Sprintf("%s-%d", tag, id))
	var closer io.Closer
	var w io.Writer
	if mirror != nil {
		closer, w = mirror, mirror
	}
	return s.mux.Stream(tag, w), s.mux.Stream(tag, w), closer
}

// register launches spec unless a sweep has started.
func (s *Supervisor) register(spec process.Spec) (*process.Entry, error) {
	if spec.Command == "" {
		return nil, fmt.Errorf("%w: empty command", ErrSpawnFailure)
	}
	s.gate.RLock()
	defer s.gate.RUnlock()
	if s.terminating.Load() {
		return nil, ErrTerminating
	}
	id := s.reg.Register(spec)
	return s.reg.Get(id), nil
}

// Spawn launches command and waits until it is confirmed running.
// See SpawnSpec.
func (s *Supervisor) Spawn(ctx context.Context, command string, args ...string) (int, error) {
	return s.SpawnSpec(ctx, process.Spec{Command: command, Args: args})
}

// SpawnSpec launches spec and confirms the start:
//   - launch failure: ErrSpawnFailure
//   - exit before or within StartDuration of the spawn: ErrPrematureExit
//   - no launch outcome within ConfirmTimeout: ErrConfirmTimeout
//
// Once registered, the returned id is valid even when err is non-nil and
// the entry is covered by a later sweep. The id is -1 when nothing was
// registered (ErrTerminating, empty command).
func (s *Supervisor) SpawnSpec(ctx context.Context, spec process.Spec) (int, error) {
	e, err := s.register(spec)
	if err != nil {
		return -1, err
	}
	id, tag := e.ID(), spec.Tag()

	// register settles the entry before returning since os/exec starts
	// synchronously; ConfirmTimeout only bounds launchers that do not.
	confirm := time.NewTimer(s.opts.ConfirmTimeout)
	defer confirm.Stop()
	select {
	case <-e.Settled():
	case <-confirm.C:
		metrics.IncSpawnFailure(tag, "confirm_timeout")
		return id, fmt.Errorf("%w: %s after %v", ErrConfirmTimeout, spec.CommandLine(), s.opts.ConfirmTimeout)
	case <-ctx.Done():
		return id, ctx.Err()
	}

	if e.IsError() || e.LaunchErr() != nil {
		metrics.IncSpawnFailure(tag, "launch_error")
		return id, fmt.Errorf("%w: %s: %v", ErrSpawnFailure, spec.CommandLine(), e.LaunchErr())
	}
	if e.Exited() {
		return id, s.premature(e)
	}

	if d := s.opts.StartDuration; d > 0 {
		hold := time.NewTimer(d)
		defer hold.Stop()
		select {
		case <-e.Done():
			return id, s.premature(e)
		case <-hold.C:
		case <-ctx.Done():
			return id, ctx.Err()
		}
	}
	return id, nil
}

func (s *Supervisor) premature(e *process.Entry) error {
	metrics.IncSpawnFailure(e.Spec().Tag(), "premature_exit")
	return fmt.Errorf("%w: %s %s", ErrPrematureExit, e.Spec().CommandLine(), e.Exit())
}

// IsHealthy reports whether the entry is Spawned without a launch fault.
// Unknown ids panic.
func (s *Supervisor) IsHealthy(id int) bool {
	return s.reg.Get(id).Healthy()
}

// Run launches command and blocks until it exits. A non-zero exit is not
// an error; inspect the returned Exit.
func (s *Supervisor) Run(ctx context.Context, command string, args ...string) (process.Exit, error) {
	return s.RunSpec(ctx, process.Spec{Command: command, Args: args})
}

// RunSpec is Run for a full spec. Cancelling ctx kills the process group.
func (s *Supervisor) RunSpec(ctx context.Context, spec process.Spec) (process.Exit, error) {
	e, err := s.register(spec)
	if err != nil {
		return process.Exit{Code: -1}, err
	}
	select {
	case <-e.Done():
	case <-ctx.Done():
		if kerr := e.Kill(); kerr != nil {
			s.log.Warn("kill after cancel failed", "id", e.ID(), "command", spec.Tag(), "error", kerr)
		}
		select {
		case <-e.Done():
		case <-time.After(s.opts.GracePeriod):
		}
		return e.Exit(), ctx.Err()
	}
	if lerr := e.LaunchErr(); lerr != nil {
		metrics.IncSpawnFailure(spec.Tag(), "launch_error")
		return e.Exit(), fmt.Errorf("%w: %s: %v", ErrSpawnFailure, spec.CommandLine(), lerr)
	}
	return e.Exit(), nil
}

// Entry returns a snapshot of one entry.
func (s *Supervisor) Entry(id int) (process.Status, bool) {
	e, ok := s.reg.Lookup(id)
	if !ok {
		return process.Status{}, false
	}
	return e.Snapshot(), true
}

// Entries returns snapshots of all entries in id order.
func (s *Supervisor) Entries() []process.Status {
	es := s.reg.Entries()
	out := make([]process.Status, 0, len(es))
	for _, e := range es {
		out = append(out, e.Snapshot())
	}
	return out
}

// Healthy is IsHealthy for untrusted ids.
func (s *Supervisor) Healthy(id int) (bool, error) {
	e, ok := s.reg.Lookup(id)
	if !ok {
		return false, fmt.Errorf("%w: %d", ErrUnknownEntry, id)
	}
	return e.Healthy(), nil
}

// Wait blocks until the entry exits or ctx is done.
func (s *Supervisor) Wait(ctx context.Context, id int) (process.Exit, error) {
	e, ok := s.reg.Lookup(id)
	if !ok {
		return process.Exit{}, fmt.Errorf("%w: %d", ErrUnknownEntry, id)
	}
	select {
	case <-e.Done():
		return e.Exit(), nil
	case <-ctx.Done():
		return process.Exit{}, ctx.Err()
	}
}

// Terminating reports whether a sweep has started.
func (s *Supervisor) Terminating() bool { return s.terminating.Load() }

// LiveTargets lists spawned, not yet exited entries for resource sampling.
func (s *Supervisor) LiveTargets() []metrics.Target {
	var out []metrics.Target
	for _, e := range s.reg.Entries() {
		if e.State() != process.StateSpawned {
			continue
		}
		out = append(out, metrics.Target{ID: e.ID(), Command: e.Spec().Tag(), PID: e.PID()})
	}
	return out
}

// Close flushes and closes history sinks. It does not terminate processes.
func (s *Supervisor) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.hist.Close(s.opts.HistoryTimeout)
	})
	return s.closeErr
}
