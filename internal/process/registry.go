package process

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/loykin/harness/internal/env"
)

// outputWaitDelay bounds how long Wait keeps copying output after the
// process exits; grandchildren holding the pipes open must not block it.
const outputWaitDelay = 2 * time.Second

// Stream receives one output stream of a process. Flush is called once,
// after the process exited, to emit any trailing partial line.
type Stream interface {
	io.Writer
	Flush()
}

// OutputFunc opens the stdout and stderr streams for a new entry. The
// returned closer (may be nil) is closed after both streams were flushed.
type OutputFunc func(id int, spec Spec) (stdout, stderr Stream, closer io.Closer)

// Observer receives lifecycle callbacks. Calls for one entry are ordered;
// calls for different entries may run concurrently.
type Observer interface {
	OnSpawn(e *Entry)
	OnLaunchError(e *Entry, err error)
	OnExit(e *Entry, from State, x Exit)
}

// Registry is an append-only, index-addressed store of entries.
type Registry struct {
	mu      sync.RWMutex
	entries []*Entry

	output OutputFunc
	obs    Observer
	env    *env.Env
}

// NewRegistry builds a registry. Any argument may be nil: output is then
// discarded, callbacks are dropped and children inherit the host environment.
func NewRegistry(output OutputFunc, obs Observer, e *env.Env) *Registry {
	if e == nil {
		e = env.New()
	}
	return &Registry{output: output, obs: obs, env: e}
}

// Register launches spec and returns the new entry's id. The id is assigned
// before launch so ids follow registration order; launch outcome is
// reported through the entry state and the observer.
func (r *Registry) Register(spec Spec) int {
	cmd := spec.BuildCommand(r.env.Merge(spec.Env))
	cmd.WaitDelay = outputWaitDelay

	r.mu.Lock()
	e := newEntry(len(r.entries), spec)
	r.entries = append(r.entries, e)
	r.mu.Unlock()

	var stdout, stderr Stream
	var closer io.Closer
	if r.output != nil {
		stdout, stderr, closer = r.output(e.id, spec)
	}
	if stdout != nil {
		cmd.Stdout = stdout
	}
	if stderr != nil {
		cmd.Stderr = stderr
	}

	if err := cmd.Start(); err != nil {
		finishStreams(stdout, stderr, closer)
		if from, ok := e.markLaunchError(err); ok {
			if r.obs != nil {
				r.obs.OnLaunchError(e, err)
			}
			e.signalExited(from)
		}
		return e.id
	}
	if e.markSpawned(cmd.Process) {
		if r.obs != nil {
			r.obs.OnSpawn(e)
		}
		e.signalSpawned()
	}

	go func() {
		err := cmd.Wait()
		finishStreams(stdout, stderr, closer)
		x := exitOf(cmd.ProcessState, err)
		if from, ok := e.markExited(x); ok {
			if r.obs != nil {
				r.obs.OnExit(e, from, x)
			}
			e.signalExited(from)
		}
	}()
	return e.id
}

func finishStreams(stdout, stderr Stream, closer io.Closer) {
	if stdout != nil {
		stdout.Flush()
	}
	if stderr != nil {
		stderr.Flush()
	}
	if closer != nil {
		_ = closer.Close()
	}
}

// Get returns the entry with the given id. Ids not returned by Register are
// a programming error and panic.
func (r *Registry) Get(id int) *Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id < 0 || id >= len(r.entries) {
		panic(fmt.Sprintf("process: unknown entry id %d (registry holds %d)", id, len(r.entries)))
	}
	return r.entries[id]
}

// Lookup is Get without the panic, for untrusted ids (e.g. HTTP input).
func (r *Registry) Lookup(id int) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id < 0 || id >= len(r.entries) {
		return nil, false
	}
	return r.entries[id], true
}

// Entries returns the entries in id order.
func (r *Registry) Entries() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Entry(nil), r.entries...)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
