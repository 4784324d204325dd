package probe

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Command runs a command line that exits 0 once the service is ready.
type Command struct{ Command string }

// buildShellAwareCommand constructs an *exec.Cmd for a probe command.
// Avoids invoking a shell unless obvious shell metacharacters are present (G204 mitigation).
func buildShellAwareCommand(ctx context.Context, cmdStr string) *exec.Cmd {
	cmdStr = strings.TrimSpace(cmdStr)
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		return shellCommand(ctx, cmdStr)
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204
	return exec.CommandContext(ctx, parts[0], parts[1:]...)
}

func (p Command) Ready(ctx context.Context) error {
	if strings.TrimSpace(p.Command) == "" {
		return errors.New("empty probe command")
	}
	cmd := buildShellAwareCommand(ctx, p.Command)
	err := cmd.Run()
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return fmt.Errorf("%s exited with code %d", p.Command, ee.ExitCode())
	}
	return err
}

func (p Command) Describe() string { return "cmd:" + p.Command }
