package supervisor

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/loykin/harness/internal/history"
	"github.com/loykin/harness/internal/logger"
)

// Reference timings: 25 observation ticks of 200ms for confirmation and
// escalation, twice that before giving up.
const (
	DefaultConfirmTimeout = 5 * time.Second
	DefaultStartDuration  = 200 * time.Millisecond
	DefaultGracePeriod    = 5 * time.Second
	DefaultGiveUpAfter    = 10 * time.Second
	DefaultHistoryFlush   = 5 * time.Second
)

// Options configures a Supervisor. Zero values take the defaults above.
type Options struct {
	// ConfirmTimeout bounds how long Spawn waits for the launch outcome.
	ConfirmTimeout time.Duration
	// StartDuration is how long a spawned process must stay up before Spawn
	// succeeds. Negative disables the window.
	StartDuration time.Duration
	// GracePeriod is the wait after SIGTERM before SIGKILL.
	GracePeriod time.Duration
	// GiveUpAfter bounds a whole termination sweep. When shorter than
	// GracePeriod no SIGKILL is ever sent.
	GiveUpAfter time.Duration

	// Env holds KEY=VALUE pairs applied to every child.
	Env []string

	Logger *slog.Logger
	// Output receives "[tag] line" records. Defaults to os.Stdout.
	Output io.Writer
	// Files mirrors raw process output into rotating files when Dir is set.
	Files logger.FileConfig

	// Sinks receive lifecycle events. They are closed by Supervisor.Close.
	Sinks []history.Sink
	// HistoryTimeout bounds each sink send and the final flush.
	HistoryTimeout time.Duration

	// ExitFunc terminates the host. Defaults to os.Exit.
	ExitFunc func(code int)
}

func (o Options) withDefaults() Options {
	if o.ConfirmTimeout <= 0 {
		o.ConfirmTimeout = DefaultConfirmTimeout
	}
	if o.StartDuration == 0 {
		o.StartDuration = DefaultStartDuration
	}
	if o.GracePeriod <= 0 {
		o.GracePeriod = DefaultGracePeriod
	}
	if o.GiveUpAfter <= 0 {
		o.GiveUpAfter = DefaultGiveUpAfter
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Output == nil {
		o.Output = os.Stdout
	}
	if o.HistoryTimeout <= 0 {
		o.HistoryTimeout = DefaultHistoryFlush
	}
	if o.ExitFunc == nil {
		o.ExitFunc = os.Exit
	}
	return o
}
