package process

import (
	"os"
	"sync"
	"time"
)

// Entry is one tracked external process. It owns the OS handle and the
// lifecycle state; all state changes arrive from the registry's launch and
// wait callbacks.
//
// Settled closes when the entry leaves Init; Done closes when it reaches
// Exited. Both close exactly once, after the observer saw the transition.
type Entry struct {
	id   int
	spec Spec

	mu        sync.Mutex
	proc      *os.Process
	state     State
	isError   bool
	launchErr error
	exit      Exit
	startedAt time.Time
	exitedAt  time.Time

	settled chan struct{}
	done    chan struct{}
}

// Status is a point-in-time copy of an entry, safe to serialise.
type Status struct {
	ID          int       `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Command     string    `json:"command" yaml:"command"`
	Args        []string  `json:"args,omitempty" yaml:"args,omitempty"`
	PID         int       `json:"pid,omitempty" yaml:"pid,omitempty"`
	State       State     `json:"state" yaml:"state"`
	IsError     bool      `json:"is_error" yaml:"is_error"`
	LaunchError string    `json:"launch_error,omitempty" yaml:"launch_error,omitempty"`
	Exit        *Exit     `json:"exit,omitempty" yaml:"exit,omitempty"`
	StartedAt   time.Time `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	ExitedAt    time.Time `json:"exited_at,omitempty" yaml:"exited_at,omitempty"`
}

func newEntry(id int, spec Spec) *Entry {
	return &Entry{
		id:      id,
		spec:    spec,
		state:   StateInit,
		settled: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (e *Entry) ID() int    { return e.id }
func (e *Entry) Spec() Spec { return e.spec }

func (e *Entry) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Entry) IsError() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isError
}

// ClearError resets the error flag so a deliberate kill is not mistaken for
// a launch fault.
func (e *Entry) ClearError() {
	e.mu.Lock()
	e.isError = false
	e.mu.Unlock()
}

// LaunchErr returns the error reported when the command could not start.
func (e *Entry) LaunchErr() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.launchErr
}

// Exit returns the observed exit; meaningful once Done is closed.
func (e *Entry) Exit() Exit {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exit
}

func (e *Entry) PID() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.proc == nil {
		return 0
	}
	return e.proc.Pid
}

func (e *Entry) Settled() <-chan struct{} { return e.settled }
func (e *Entry) Done() <-chan struct{}    { return e.done }

// Exited reports whether the entry reached its terminal state.
func (e *Entry) Exited() bool { return e.State() == StateExited }

// Healthy is true while the process runs and no launch fault was reported.
func (e *Entry) Healthy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == StateSpawned && !e.isError
}

// Terminate sends a graceful termination request to the process group.
// It is a no-op unless the entry is Spawned.
func (e *Entry) Terminate() error {
	p := e.liveProcess()
	if p == nil {
		return nil
	}
	return terminateProcess(p)
}

// Kill force-kills the process group. It is a no-op unless the entry is Spawned.
func (e *Entry) Kill() error {
	p := e.liveProcess()
	if p == nil {
		return nil
	}
	return killProcess(p)
}

func (e *Entry) liveProcess() *os.Process {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateSpawned {
		return nil
	}
	return e.proc
}

// Snapshot returns a copy of the current status.
func (e *Entry) Snapshot() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := Status{
		ID:        e.id,
		Name:      e.spec.Tag(),
		Command:   e.spec.Command,
		Args:      append([]string(nil), e.spec.Args...),
		State:     e.state,
		IsError:   e.isError,
		StartedAt: e.startedAt,
		ExitedAt:  e.exitedAt,
	}
	if e.proc != nil {
		st.PID = e.proc.Pid
	}
	if e.launchErr != nil {
		st.LaunchError = e.launchErr.Error()
	}
	if e.state == StateExited && e.launchErr == nil {
		x := e.exit
		st.Exit = &x
	}
	return st
}

// markSpawned records a successful launch. It returns false when the entry
// already left Init.
func (e *Entry) markSpawned(p *os.Process) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateInit {
		return false
	}
	e.proc = p
	e.state = StateSpawned
	e.startedAt = time.Now()
	return true
}

func (e *Entry) signalSpawned() { close(e.settled) }

// signalExited releases waiters after a successful transition to Exited.
func (e *Entry) signalExited(from State) {
	if from == StateInit {
		close(e.settled)
	}
	close(e.done)
}

// markLaunchError flags a launch failure. No OS process exists to wait on,
// so the entry goes straight to Exited with the error flag set.
func (e *Entry) markLaunchError(err error) (from State, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.isError = true
	e.launchErr = err
	return e.toExitedLocked(Exit{Code: -1})
}

// markExited records process termination.
func (e *Entry) markExited(x Exit) (from State, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.toExitedLocked(x)
}

func (e *Entry) toExitedLocked(x Exit) (State, bool) {
	from := e.state
	if from == StateExited {
		return from, false
	}
	e.state = StateExited
	e.exit = x
	e.exitedAt = time.Now()
	return from, true
}
