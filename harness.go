// Package harness launches external processes for automated test runs,
// confirms they start, answers health queries, runs commands to completion
// and tears everything down in one coordinated sweep.
package harness

import (
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/harness/internal/config"
	"github.com/loykin/harness/internal/history"
	"github.com/loykin/harness/internal/history/factory"
	"github.com/loykin/harness/internal/metrics"
	"github.com/loykin/harness/internal/process"
	"github.com/loykin/harness/internal/server"
	"github.com/loykin/harness/internal/supervisor"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Supervisor = supervisor.Supervisor

type Options = supervisor.Options

type Report = supervisor.Report

type Stuck = supervisor.Stuck

type Spec = process.Spec

type Status = process.Status

type Exit = process.Exit

type State = process.State

type Probe = supervisor.Probe

type HistorySink = history.Sink

type Config = config.FileConfig

type InspectServer = server.Server

const (
	StateInit    = process.StateInit
	StateSpawned = process.StateSpawned
	StateExited  = process.StateExited
)

var (
	ErrSpawnFailure       = supervisor.ErrSpawnFailure
	ErrPrematureExit      = supervisor.ErrPrematureExit
	ErrConfirmTimeout     = supervisor.ErrConfirmTimeout
	ErrTerminating        = supervisor.ErrTerminating
	ErrTerminationTimeout = supervisor.ErrTerminationTimeout
	ErrUnknownEntry       = supervisor.ErrUnknownEntry
	ErrNotReady           = supervisor.ErrNotReady
)

func IsSpawnFailure(err error) bool  { return supervisor.IsSpawnFailure(err) }
func IsPrematureExit(err error) bool { return supervisor.IsPrematureExit(err) }

// New creates an independent supervisor.
func New(opts Options) *Supervisor { return supervisor.New(opts) }

var (
	defaultOnce sync.Once
	defaultSup  *Supervisor
)

// Default returns the process-wide supervisor, created with default
// options on first use.
func Default() *Supervisor {
	defaultOnce.Do(func() { defaultSup = supervisor.New(Options{}) })
	return defaultSup
}

// HTTPProbe returns a readiness probe that GETs url.
func HTTPProbe(url string) Probe { return supervisor.HTTPProbe(url) }

// LoadConfig reads and validates a harness config file.
func LoadConfig(path string) (*Config, error) { return config.LoadAndValidate(path) }

// NewHistorySinks builds sinks from DSNs such as "sqlite:///tmp/h.db".
func NewHistorySinks(dsns []string) ([]HistorySink, error) { return factory.NewSinks(dsns) }

// NewInspectServer serves the inspection API for s on addr under basePath.
func NewInspectServer(addr, basePath string, s *Supervisor) (*InspectServer, error) {
	return server.NewServer(addr, basePath, s)
}

// RegisterMetrics registers the harness collectors and resource sampling for s.
func RegisterMetrics(r prometheus.Registerer, s *Supervisor) error {
	if s == nil {
		return metrics.Register(r)
	}
	return s.RegisterMetrics(r)
}

// M is satisfied by *testing.M.
type M interface {
	Run() int
}

// TestMain runs the package tests under s (Default when nil), terminates
// every process left behind and exits with the test result:
//
//	func TestMain(m *testing.M) { harness.TestMain(m, nil) }
func TestMain(m M, s *Supervisor) {
	os.Exit(runTests(m, s))
}

func runTests(m M, s *Supervisor) int {
	if s == nil {
		s = Default()
	}
	stop := s.InstallSignalHandlers()
	defer stop()
	return s.RunMain(m.Run)
}
