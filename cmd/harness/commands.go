package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/loykin/harness/internal/auth"
	"github.com/loykin/harness/internal/config"
	"github.com/loykin/harness/internal/history/factory"
	"github.com/loykin/harness/internal/server"
	"github.com/loykin/harness/internal/supervisor"
	"github.com/loykin/harness/internal/template"
	itls "github.com/loykin/harness/internal/tls"
	"github.com/loykin/harness/pkg/client"
)

type command struct {
	stdout io.Writer
	stderr io.Writer
	global *GlobalFlags
}

// loadConfig returns the validated config, or an empty one when no path
// was given and optional is true.
func (c command) loadConfig(optional bool) (*config.FileConfig, error) {
	if c.global.ConfigPath == "" {
		if optional {
			return &config.FileConfig{}, nil
		}
		return nil, fmt.Errorf("config file required: use --config=harness.toml")
	}
	fc, err := config.LoadAndValidate(c.global.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	return fc, nil
}

// newSupervisor builds a supervisor with logging, history sinks and
// metrics wired from fc.
func (c command) newSupervisor(fc *config.FileConfig) (*supervisor.Supervisor, *slog.Logger, error) {
	lc := fc.LoggerConfig()
	if c.global.LogLevel != "" {
		lc.Slog.Level = c.global.LogLevel
	}
	log := lc.Slog.NewSlogger(c.stderr)

	opts, err := fc.SupervisorOptions()
	if err != nil {
		return nil, nil, err
	}
	sinks, err := factory.NewSinks(fc.History.Sinks)
	if err != nil {
		return nil, nil, err
	}
	opts.Sinks = sinks
	opts.Logger = log
	opts.Output = c.stdout

	sup := supervisor.New(opts)
	if err := sup.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		log.Warn("metrics registration failed", "error", err)
	}
	return sup, log, nil
}

// startInspect serves the inspection API when [inspect].listen is set.
func startInspect(ic config.InspectConfig, sup *supervisor.Supervisor, log *slog.Logger) (stop func(), err error) {
	if ic.Listen == "" {
		return func() {}, nil
	}
	start := server.NewServer
	if ic.Engine == config.EngineEcho {
		start = server.NewEchoServer
	}
	tc, err := itls.Setup(ic.TLS)
	if err != nil {
		return nil, fmt.Errorf("inspection server tls: %w", err)
	}
	a, err := auth.New(ic.Auth)
	if err != nil {
		return nil, fmt.Errorf("inspection server auth: %w", err)
	}
	srv, err := start(ic.Listen, ic.BasePath, sup, server.WithTLS(tc), server.WithAuthenticator(a))
	if err != nil {
		return nil, fmt.Errorf("inspection server: %w", err)
	}
	log.Info("inspection API listening", "addr", srv.Addr(), "base", ic.BasePath, "engine", ic.Engine, "tls", tc != nil, "auth", a != nil)
	return func() { _ = srv.Shutdown(context.Background()) }, nil
}

// Run executes the services and steps of the config file.
func (c command) Run(ctx context.Context, f RunFlags) error {
	switch f.Report {
	case reportJSON, reportYAML, reportText:
	default:
		return fmt.Errorf("unknown report format %q (json|yaml|text)", f.Report)
	}
	fc, err := c.loadConfig(false)
	if err != nil {
		return err
	}
	sup, log, err := c.newSupervisor(fc)
	if err != nil {
		return err
	}
	stopSignals := sup.InstallSignalHandlers()
	defer stopSignals()

	stopInspect, err := startInspect(fc.Inspect, sup, log)
	if err != nil {
		_ = sup.Close()
		return err
	}
	defer stopInspect()

	var rep supervisor.Report
	code := sup.RunMain(func() int {
		code := 0
		if err := runPlan(ctx, sup, fc, log); err != nil {
			log.Error("run failed", "error", err)
			code = 1
		}
		rep = sup.Terminate()
		if rep.Err() != nil {
			code = 1
		}
		return code
	})
	if err := writeReport(c.stdout, rep, f.Report); err != nil {
		return err
	}
	if code != 0 {
		return &exitError{code: code}
	}
	return nil
}

// runPlan spawns services, then runs steps in order. The first failure
// stops the plan.
func runPlan(ctx context.Context, sup *supervisor.Supervisor, fc *config.FileConfig, log *slog.Logger) error {
	services := make(map[string]int, len(fc.Services))
	for _, svc := range fc.Services {
		spec := svc.Spec()
		id, err := sup.SpawnSpec(ctx, spec)
		if err != nil {
			return fmt.Errorf("service %s: %w", spec.Tag(), err)
		}
		services[spec.Tag()] = id
		if err := waitReady(ctx, sup, id, svc); err != nil {
			return fmt.Errorf("service %s: %w", spec.Tag(), err)
		}
		if svc.Hold > 0 {
			if err := sup.Hold(ctx, id, svc.Hold); err != nil {
				return fmt.Errorf("service %s: %w", spec.Tag(), err)
			}
		}
		log.Info("service ready", "name", spec.Tag(), "id", id)
	}

	for _, step := range fc.Steps {
		spec := step.Spec()
		stepCtx, cancel := ctx, context.CancelFunc(func() {})
		if step.Timeout > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, step.Timeout)
		}
		x, err := sup.RunSpec(stepCtx, spec)
		cancel()
		if err != nil {
			return fmt.Errorf("step %s: %w", spec.Tag(), err)
		}
		if !x.Success() {
			return fmt.Errorf("step %s %s", spec.Tag(), x)
		}
		log.Info("step done", "name", spec.Tag())
	}

	for name, id := range services {
		if !sup.IsHealthy(id) {
			return fmt.Errorf("service %s died during the run", name)
		}
	}
	return nil
}

// waitReady polls the service's probe, if any, until it passes.
func waitReady(ctx context.Context, sup *supervisor.Supervisor, id int, svc config.ServiceConfig) error {
	p, err := svc.Probe()
	if err != nil || p == nil {
		return err
	}
	attempts, every := svc.Readiness()
	return sup.WaitReady(ctx, id, p.Ready, every, attempts)
}

// Exec supervises a single command and mirrors its exit code.
func (c command) Exec(ctx context.Context, f ExecFlags, args []string) error {
	fc, err := c.loadConfig(true)
	if err != nil {
		return err
	}
	svc := config.ServiceConfig{
		Name:          f.Name,
		Command:       args[0],
		Args:          args[1:],
		Hold:          f.Hold,
		ReadyURL:      f.ReadyURL,
		ReadyAttempts: f.ReadyAttempts,
		ReadyInterval: f.ReadyInterval,
	}
	sup, log, err := c.newSupervisor(fc)
	if err != nil {
		return err
	}
	stop := sup.InstallSignalHandlers()
	defer stop()

	var runErr error
	code := sup.RunMain(func() int {
		code, err := supervise(ctx, sup, svc)
		if err != nil {
			log.Error("exec failed", "command", svc.Spec().CommandLine(), "error", err)
			runErr = err
		}
		return code
	})
	if code != 0 {
		return &exitError{code: code, err: runErr}
	}
	return nil
}

func supervise(ctx context.Context, sup *supervisor.Supervisor, svc config.ServiceConfig) (int, error) {
	spec := svc.Spec()
	id, err := sup.SpawnSpec(ctx, spec)
	if err != nil {
		return finished(sup, id, err)
	}
	if err := waitReady(ctx, sup, id, svc); err != nil {
		return finished(sup, id, err)
	}
	if svc.Hold > 0 {
		if err := sup.Hold(ctx, id, svc.Hold); err != nil {
			return finished(sup, id, err)
		}
	}
	x, err := sup.Wait(ctx, id)
	if err != nil {
		return 1, err
	}
	return exitCode(x.Code), nil
}

// finished reports the command's own code when it already exited on its
// own before supervision completed; any other error maps to 1.
func finished(sup *supervisor.Supervisor, id int, err error) (int, error) {
	if errors.Is(err, supervisor.ErrPrematureExit) && id >= 0 {
		if st, ok := sup.Entry(id); ok && st.Exit != nil && !st.IsError {
			return exitCode(st.Exit.Code), nil
		}
	}
	return 1, err
}

// exitCode maps a child exit code to ours; signal deaths report -1.
func exitCode(code int) int {
	if code < 0 {
		return 1
	}
	return code
}

// Status prints entries from a running harness.
func (c command) Status(ctx context.Context, f StatusFlags) error {
	cfg := client.Config{BaseURL: f.APIUrl, Timeout: f.APITimeout, Insecure: f.Insecure, Token: f.Token}
	if f.User != "" {
		name, pw, ok := strings.Cut(f.User, ":")
		if !ok {
			return fmt.Errorf("--user must be name:password")
		}
		cfg.Username, cfg.Password = name, pw
	}
	if f.CACert != "" {
		cfg.TLS = &client.TLSClientConfig{Enabled: true, CACert: f.CACert}
	}
	api := client.New(cfg)
	if !api.IsReachable(ctx) {
		return fmt.Errorf("harness not reachable at %s - start one with [inspect].listen set", f.APIUrl)
	}
	if f.ID < 0 {
		entries, err := api.Entries(ctx)
		if err != nil {
			return err
		}
		return printJSON(c.stdout, entries)
	}
	e, err := api.Entry(ctx, f.ID)
	if err != nil {
		return err
	}
	healthy, err := api.Healthy(ctx, f.ID)
	if err != nil {
		return err
	}
	return printJSON(c.stdout, struct {
		client.EntryStatus
		Healthy bool `json:"healthy"`
	}{e, healthy})
}

// Validate loads the config and prints it as YAML.
func (c command) Validate() error {
	fc, err := c.loadConfig(false)
	if err != nil {
		return err
	}
	shown := *fc
	if shown.Inspect.Auth.Token != "" {
		shown.Inspect.Auth.Token = "<redacted>"
	}
	out, err := yaml.Marshal(shown)
	if err != nil {
		return err
	}
	_, err = c.stdout.Write(out)
	return err
}

// Init writes a starter config file.
func (c command) Init(f InitFlags) error {
	tmpl, err := template.Generate(template.Kind(f.Kind), f.Name)
	if err != nil {
		return err
	}
	out, err := tmpl.Render(f.Format)
	if err != nil {
		return err
	}
	if f.Output == "-" {
		_, err = c.stdout.Write(out)
		return err
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !f.Force {
		flags |= os.O_EXCL
	}
	fh, err := os.OpenFile(f.Output, flags, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%s already exists (use --force to overwrite)", f.Output)
		}
		return err
	}
	if _, err := fh.Write(out); err != nil {
		_ = fh.Close()
		return err
	}
	if err := fh.Close(); err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.stdout, "wrote %s\n", f.Output)
	return err
}

// HashPassword prints the bcrypt hash of password.
func (c command) HashPassword(password string, cost int) error {
	h, err := auth.HashPassword(password, cost)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.stdout, h)
	return err
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func writeReport(w io.Writer, rep supervisor.Report, format string) error {
	switch format {
	case reportJSON:
		return printJSON(w, rep)
	case reportYAML:
		b, err := yaml.Marshal(rep)
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	default:
		var b strings.Builder
		if rep.Skipped {
			b.WriteString("termination: skipped\n")
		} else {
			fmt.Fprintf(&b, "termination: targets=%d graceful=%d killed=%d unterminated=%d duration=%s\n",
				rep.Targets, rep.Graceful, rep.Killed, len(rep.Unterminated), rep.Duration)
		}
		for _, s := range rep.Unterminated {
			fmt.Fprintf(&b, "  still running: id=%d command=%s pid=%d os_status=%s\n", s.ID, s.Command, s.PID, s.OSStatus)
		}
		_, err := io.WriteString(w, b.String())
		return err
	}
}
