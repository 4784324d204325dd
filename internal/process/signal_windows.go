//go:build windows

package process

import (
	"errors"
	"os"
)

// Windows has no catchable termination signal for arbitrary console
// processes, so the graceful request and the forced kill are the same.
func terminateProcess(p *os.Process) error { return killProcess(p) }

func killProcess(p *os.Process) error {
	if p == nil {
		return nil
	}
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func exitSignal(*os.ProcessState) string { return "" }
