//go:build windows

package process

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr starts the child in a new process group.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}
