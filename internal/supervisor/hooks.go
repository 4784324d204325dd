package supervisor

import (
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"
)

// InstallSignalHandlers routes SIGINT and SIGTERM to TerminateAndExit(1).
// Only the first call installs anything; later calls return a no-op stop.
// stop detaches the handlers; the one-time flag stays set.
func (s *Supervisor) InstallSignalHandlers() (stop func()) {
	if !s.hooksInstalled.CompareAndSwap(false, true) {
		return func() {}
	}
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case sig := <-ch:
			s.log.Warn("received signal", "signal", sig.String())
			s.TerminateAndExit(1)
		case <-done:
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(ch)
			close(done)
		})
	}
}

// Recover must be deferred directly. A panic is logged with its stack and
// turns into TerminateAndExit(1).
func (s *Supervisor) Recover() {
	r := recover()
	if r == nil {
		return
	}
	s.log.Error("uncaught panic", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
	s.TerminateAndExit(1)
}

// Go runs fn in a goroutine guarded by Recover.
func (s *Supervisor) Go(fn func()) {
	go func() {
		defer s.Recover()
		fn()
	}()
}

// RunMain runs run (typically testing.M.Run), then terminates everything
// and returns the exit code. A panic in run yields code 1.
func (s *Supervisor) RunMain(run func() int) (code int) {
	func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("uncaught panic", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
				code = 1
			}
		}()
		code = run()
	}()
	s.Terminate()
	if err := s.Close(); err != nil {
		s.log.Warn("closing history sinks failed", "error", err)
	}
	return code
}
