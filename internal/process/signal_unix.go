//go:build !windows

package process

import (
	"errors"
	"os"
	"syscall"
)

// terminateProcess asks the process group led by p to shut down (SIGTERM).
func terminateProcess(p *os.Process) error { return signalGroup(p, syscall.SIGTERM) }

// killProcess force-kills the process group led by p (SIGKILL).
func killProcess(p *os.Process) error { return signalGroup(p, syscall.SIGKILL) }

func signalGroup(p *os.Process, sig syscall.Signal) error {
	if p == nil || p.Pid <= 0 {
		return nil
	}
	err := syscall.Kill(-p.Pid, sig)
	if err == nil || errors.Is(err, syscall.ESRCH) {
		return nil
	}
	// group signalling refused (e.g. EPERM); fall back to the leader alone
	if err := p.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func exitSignal(ps *os.ProcessState) string {
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return ws.Signal().String()
	}
	return ""
}
