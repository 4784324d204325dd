package process

import (
	"os/exec"
	"strings"
)

// Spec describes one external command to launch.
type Spec struct {
	Name    string   `json:"name,omitempty" mapstructure:"name"`       // output tag; defaults to Command
	Command string   `json:"command" mapstructure:"command"`           // executable name or path
	Args    []string `json:"args,omitempty" mapstructure:"args"`       // arguments passed verbatim
	Env     []string `json:"env,omitempty" mapstructure:"env"`         // extra KEY=VALUE pairs
	WorkDir string   `json:"work_dir,omitempty" mapstructure:"work_dir"` // optional working dir
}

// Tag returns the label used to prefix this process's output lines.
func (s Spec) Tag() string {
	if n := strings.TrimSpace(s.Name); n != "" {
		return n
	}
	return s.Command
}

// CommandLine renders command and args for log messages.
func (s Spec) CommandLine() string {
	if len(s.Args) == 0 {
		return s.Command
	}
	return s.Command + " " + strings.Join(s.Args, " ")
}

// BuildCommand constructs the *exec.Cmd for this spec. No shell is involved:
// Command is resolved via PATH and Args are passed as-is.
func (s Spec) BuildCommand(env []string) *exec.Cmd {
	// ok: intentional execution of caller-provided commands
	// #nosec G204
	cmd := exec.Command(s.Command, s.Args...)
	if s.WorkDir != "" {
		cmd.Dir = s.WorkDir
	}
	if len(env) > 0 {
		cmd.Env = env
	}
	configureSysProcAttr(cmd)
	return cmd
}
