package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Exit describes how a process ended: its exit code or, when it was
// terminated by a signal, the signal name (Code is -1 in that case).
type Exit struct {
	Code   int    `json:"code" yaml:"code"`
	Signal string `json:"signal,omitempty" yaml:"signal,omitempty"`
}

// Success reports whether the process exited normally with status 0.
func (e Exit) Success() bool { return e.Code == 0 && e.Signal == "" }

func (e Exit) String() string {
	if e.Success() {
		return "exited normally"
	}
	bits := []string{fmt.Sprintf("code=%d", e.Code)}
	if e.Signal != "" {
		bits = append(bits, "signal="+e.Signal)
	}
	return "exited with " + strings.Join(bits, ", ")
}

// exitOf derives an Exit from the result of cmd.Wait.
func exitOf(ps *os.ProcessState, waitErr error) Exit {
	if ps == nil {
		var ee *exec.ExitError
		if errors.As(waitErr, &ee) && ee.ProcessState != nil {
			ps = ee.ProcessState
		} else {
			return Exit{Code: -1}
		}
	}
	return Exit{Code: ps.ExitCode(), Signal: exitSignal(ps)}
}
