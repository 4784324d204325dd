package supervisor

import (
	"fmt"
	"time"

	"github.com/loykin/harness/internal/history"
	"github.com/loykin/harness/internal/metrics"
	"github.com/loykin/harness/internal/process"
)

// Stuck describes a process that outlived the sweep.
type Stuck struct {
	ID       int    `json:"id" yaml:"id"`
	Command  string `json:"command" yaml:"command"`
	PID      int    `json:"pid" yaml:"pid"`
	OSStatus string `json:"os_status,omitempty" yaml:"os_status,omitempty"`
}

// Report summarises one termination sweep.
type Report struct {
	Skipped      bool          `json:"skipped" yaml:"skipped"`
	Targets      int           `json:"targets" yaml:"targets"`
	Graceful     int           `json:"graceful" yaml:"graceful"`
	Killed       int           `json:"killed" yaml:"killed"`
	Unterminated []Stuck       `json:"unterminated,omitempty" yaml:"unterminated,omitempty"`
	Duration     time.Duration `json:"duration" yaml:"duration"`
}

// Err wraps ErrTerminationTimeout when processes could not be terminated.
func (r Report) Err() error {
	if len(r.Unterminated) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d process(es) could not be terminated", ErrTerminationTimeout, len(r.Unterminated))
}

// Terminate stops every process that has not exited. Only the first call
// runs a sweep; later and concurrent calls return a Skipped report at once.
//
// Targets get SIGTERM, then SIGKILL once GracePeriod has passed. After
// GiveUpAfter the sweep stops waiting and lists what is still alive.
func (s *Supervisor) Terminate() Report {
	if !s.terminating.CompareAndSwap(false, true) {
		s.log.Debug("termination already running")
		return Report{Skipped: true}
	}
	defer close(s.sweepDone)
	start := time.Now()

	s.gate.Lock()
	var targets []*process.Entry
	for _, e := range s.reg.Entries() {
		if !e.Exited() {
			targets = append(targets, e)
		}
	}
	s.gate.Unlock()

	s.log.Info("running process termination", "targets", len(targets))
	rep := Report{Targets: len(targets)}
	for _, e := range targets {
		e.ClearError()
		s.publish(history.EventTerminate, e)
		if err := e.Terminate(); err != nil {
			s.log.Warn("terminate signal failed", "id", e.ID(), "command", e.Spec().Tag(), "error", err)
		}
	}

	remaining, killed := s.awaitExit(targets)
	rep.Killed = len(killed)
	rep.Graceful = len(targets) - len(remaining)
	for id := range killed {
		if _, alive := remaining[id]; !alive {
			rep.Graceful--
		}
	}
	for _, e := range targets {
		if _, alive := remaining[e.ID()]; !alive {
			continue
		}
		pid := e.PID()
		rep.Unterminated = append(rep.Unterminated, Stuck{
			ID:       e.ID(),
			Command:  e.Spec().Tag(),
			PID:      pid,
			OSStatus: process.OSStatus(pid),
		})
	}
	rep.Duration = time.Since(start)
	metrics.ObserveSweep(rep.Duration.Seconds(), rep.Killed, len(rep.Unterminated))

	if err := rep.Err(); err != nil {
		s.log.Error("processes could not be terminated", "count", len(rep.Unterminated), "error", err)
	} else {
		s.log.Info("processes terminated", "graceful", rep.Graceful, "killed", rep.Killed, "duration", rep.Duration)
	}
	return rep
}

// awaitExit blocks on the targets' Done channels, escalating once and
// giving up at the deadline. It returns the entries still alive and the
// set that received SIGKILL.
func (s *Supervisor) awaitExit(targets []*process.Entry) (remaining map[int]*process.Entry, killed map[int]struct{}) {
	remaining = make(map[int]*process.Entry, len(targets))
	killed = make(map[int]struct{})
	if len(targets) == 0 {
		return remaining, killed
	}

	exited := make(chan int, len(targets))
	stop := make(chan struct{})
	defer close(stop)
	for _, e := range targets {
		remaining[e.ID()] = e
		go func(e *process.Entry) {
			select {
			case <-e.Done():
				exited <- e.ID()
			case <-stop:
			}
		}(e)
	}

	// GiveUpAfter <= GracePeriod disables escalation.
	var graceC <-chan time.Time
	if s.opts.GiveUpAfter > s.opts.GracePeriod {
		grace := time.NewTimer(s.opts.GracePeriod)
		defer grace.Stop()
		graceC = grace.C
	}
	giveUp := time.NewTimer(s.opts.GiveUpAfter)
	defer giveUp.Stop()

	for len(remaining) > 0 {
		select {
		case id := <-exited:
			delete(remaining, id)
		case <-graceC:
			for id, e := range remaining {
				s.log.Warn("escalating to SIGKILL", "id", id, "command", e.Spec().Tag(), "pid", e.PID())
				if err := e.Kill(); err != nil {
					s.log.Warn("kill failed", "id", id, "error", err)
				}
				killed[id] = struct{}{}
			}
		case <-giveUp.C:
			return remaining, killed
		}
	}
	return remaining, killed
}

// TerminateAndExit runs the sweep, flushes history and exits the host with
// code. When another sweep is already running it waits for that sweep
// (bounded by GiveUpAfter) before exiting.
func (s *Supervisor) TerminateAndExit(code int) {
	rep := s.Terminate()
	if rep.Skipped {
		select {
		case <-s.sweepDone:
		case <-time.After(s.opts.GiveUpAfter + time.Second):
			s.log.Error("in-flight termination did not finish", "error", ErrTerminationTimeout)
		}
	}
	if err := s.Close(); err != nil {
		s.log.Warn("closing history sinks failed", "error", err)
	}
	s.opts.ExitFunc(code)
}
