package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loykin/harness/internal/template"
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// exitError carries a specific process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit status %d", e.code)
}

func (e *exitError) Unwrap() error { return e.err }

func execute(args []string, stdout, stderr io.Writer) int {
	root := buildRoot(stdout, stderr)
	root.SetArgs(args)
	err := root.Execute()
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			_, _ = fmt.Fprintln(stderr, ee.err)
		}
		return ee.code
	}
	_, _ = fmt.Fprintln(stderr, err)
	return 1
}

func buildRoot(stdout, stderr io.Writer) *cobra.Command {
	globalFlags := &GlobalFlags{}
	c := command{stdout: stdout, stderr: stderr, global: globalFlags}

	root := &cobra.Command{
		Use:   "harness",
		Short: "Launch, health-check and tear down processes for test runs",
		Long: `Harness spawns the processes a test run depends on, confirms they start,
runs steps to completion and terminates everything in one sweep, even on
Ctrl-C or a crash.

Examples:
  harness run --config harness.toml
  harness exec --hold 2s -- ./server --port 8080
  harness status --api-url http://127.0.0.1:9090/api
  harness validate --config harness.toml`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&globalFlags.ConfigPath, "config", "", "path to TOML/YAML config file")
	root.PersistentFlags().StringVar(&globalFlags.LogLevel, "log-level", "", "override log level (debug|info|warn|error)")

	root.AddCommand(
		createRunCommand(c),
		createExecCommand(c),
		createStatusCommand(c),
		createValidateCommand(c),
		createHashPasswordCommand(c),
		createInitCommand(c),
	)
	return root
}

func createRunCommand(c command) *cobra.Command {
	f := &RunFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start services, run steps, then terminate everything",
		Long: `Run spawns every [[services]] entry (waiting for readiness and the hold
period), runs every [[steps]] entry to completion in order and finally
terminates all processes. The termination report is printed at the end.
Any failure makes the command exit with status 1.

Examples:
  harness run --config harness.toml
  harness run --config harness.toml --report json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.Run(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Report, "report", reportText, "termination report format: json|yaml|text")
	return cmd
}

func createExecCommand(c command) *cobra.Command {
	f := &ExecFlags{}
	cmd := &cobra.Command{
		Use:   "exec [flags] -- command [args...]",
		Short: "Supervise a single command until it exits",
		Long: `Exec spawns one command, optionally waits for it to become ready and stay
healthy, and then supervises it until it exits or a signal arrives. The
command's exit code becomes harness's exit code.

Examples:
  harness exec -- sleep 5
  harness exec --hold 2s --ready-url http://127.0.0.1:8080/healthz -- ./server`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Exec(cmd.Context(), *f, args)
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "output tag (defaults to the command)")
	cmd.Flags().DurationVar(&f.Hold, "hold", 0, "require the process to stay healthy this long")
	cmd.Flags().StringVar(&f.ReadyURL, "ready-url", "", "readiness probe: http(s)://, tcp://host:port, cmd:<command> or pidfile:<path>")
	cmd.Flags().IntVar(&f.ReadyAttempts, "ready-attempts", 0, "readiness attempts (default 25)")
	cmd.Flags().DurationVar(&f.ReadyInterval, "ready-interval", 0, "delay between readiness attempts (default 200ms)")
	return cmd
}

func createStatusCommand(c command) *cobra.Command {
	f := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running harness through its inspection API",
		Long: `Status prints entry snapshots from a harness started with [inspect].listen.

Examples:
  harness status --api-url http://127.0.0.1:9090/api
  harness status --api-url http://127.0.0.1:9090/api --id 0`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.Status(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "http://127.0.0.1:9090/api", "inspection API base URL")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 0, "API request timeout")
	cmd.Flags().StringVar(&f.CACert, "ca-cert", "", "CA certificate for an HTTPS inspection API (e.g. tls_ca.crt)")
	cmd.Flags().BoolVar(&f.Insecure, "insecure", false, "skip TLS certificate verification")
	cmd.Flags().StringVar(&f.Token, "token", os.Getenv("HARNESS_API_TOKEN"), "bearer token for [inspect.auth] (env HARNESS_API_TOKEN)")
	cmd.Flags().StringVar(&f.User, "user", "", "basic auth credentials as name:password")
	cmd.Flags().IntVar(&f.ID, "id", -1, "entry id (all entries when negative)")
	return cmd
}

func createInitCommand(c command) *cobra.Command {
	f := &InitFlags{}
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		Long: `Init writes a starter config for one of the kinds: ` + strings.Join(template.SupportedKinds(), ", ") + `.

Examples:
  harness init --kind http --name api --output harness.toml
  harness init --kind daemon --format yaml --output -`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.Init(*f)
		},
	}
	cmd.Flags().StringVar(&f.Kind, "kind", "http", "template kind")
	cmd.Flags().StringVar(&f.Name, "name", "app", "service name")
	cmd.Flags().StringVar(&f.Format, "format", "toml", "output format (toml|yaml|json)")
	cmd.Flags().StringVar(&f.Output, "output", "harness.toml", "file to write, - for stdout")
	cmd.Flags().BoolVar(&f.Force, "force", false, "overwrite an existing file")
	return cmd
}

func createHashPasswordCommand(c command) *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print a bcrypt hash for an [[inspect.auth.users]] entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.HashPassword(args[0], cost)
		},
	}
	cmd.Flags().IntVar(&cost, "cost", 0, "bcrypt cost (default 10)")
	return cmd
}

func createValidateCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file and print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.Validate()
		},
	}
}
