package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/harness/internal/auth"
	"github.com/loykin/harness/internal/supervisor"
)

func writeFile(t *testing.T, name, data string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

const fullTOML = `
[supervisor]
confirm_timeout = "3s"
start_duration = "150ms"
grace_period = "2s"
give_up_after = "4s"
env = ["A=1", "B=2"]

[log]
level = "debug"
format = "json"
color = true
dir = "/tmp/harness-logs"
max_size_mb = 5

[history]
sinks = ["sqlite:///tmp/h.db", "opensearch://localhost:9200/events"]
timeout = "1s"

[inspect]
listen = ":9090"
base_path = "/v1"
engine = "echo"

[inspect.tls]
enabled = true
dir = "/var/lib/harness/tls"
auto_generate = true
min_version = "1.2"

[inspect.auth]
token = "ci-token"

[[services]]
name = "dfx"
command = "dfx"
args = ["start", "--clean"]
hold = "2s"
ready_url = "http://127.0.0.1:4943/api/v2/status"
ready_attempts = 10

[[steps]]
name = "deploy"
command = "sh"
args = ["-c", "echo deploying"]
timeout = "30s"
`

func TestLoad_Full(t *testing.T) {
	fc, err := Load(writeFile(t, "harness.toml", fullTOML))
	require.NoError(t, err)
	require.NoError(t, fc.Validate())

	sc := fc.Supervisor
	assert.Equal(t, 3*time.Second, sc.ConfirmTimeout)
	assert.Equal(t, 150*time.Millisecond, sc.StartDuration)
	assert.Equal(t, 2*time.Second, sc.GracePeriod)
	assert.Equal(t, 4*time.Second, sc.GiveUpAfter)
	assert.Equal(t, []string{"A=1", "B=2"}, sc.Env)

	assert.Equal(t, "debug", fc.Log.Level)
	assert.Equal(t, "json", fc.Log.Format)
	assert.True(t, fc.Log.Color)
	assert.Equal(t, 5, fc.Log.MaxSizeMB)

	assert.Len(t, fc.History.Sinks, 2)
	assert.Equal(t, time.Second, fc.History.Timeout)
	assert.Equal(t, ":9090", fc.Inspect.Listen)
	assert.Equal(t, "/v1", fc.Inspect.BasePath)
	assert.Equal(t, EngineEcho, fc.Inspect.Engine)
	assert.Equal(t, "ci-token", fc.Inspect.Auth.Token)
	require.NotNil(t, fc.Inspect.TLS)
	assert.Equal(t, TLSConfig{Enabled: true, Dir: "/var/lib/harness/tls", AutoGenerate: true, MinVersion: "1.2"}, *fc.Inspect.TLS)

	require.Len(t, fc.Services, 1)
	svc := fc.Services[0]
	assert.Equal(t, "dfx", svc.Name)
	assert.Equal(t, []string{"start", "--clean"}, svc.Args)
	assert.Equal(t, 2*time.Second, svc.Hold)
	n, every := svc.Readiness()
	assert.Equal(t, 10, n)
	assert.Equal(t, DefaultReadyInterval, every)
	p, err := svc.Probe()
	require.NoError(t, err)
	assert.Equal(t, "http:http://127.0.0.1:4943/api/v2/status", p.Describe())

	require.Len(t, fc.Steps, 1)
	spec := fc.Steps[0].Spec()
	assert.Equal(t, "deploy", spec.Tag())
	assert.Equal(t, "sh -c echo deploying", spec.CommandLine())
	assert.Equal(t, 30*time.Second, fc.Steps[0].Timeout)
}

func TestLoad_Defaults(t *testing.T) {
	fc, err := Load(writeFile(t, "min.toml", "[[steps]]\ncommand = \"true\"\n"))
	require.NoError(t, err)
	assert.Equal(t, supervisor.DefaultConfirmTimeout, fc.Supervisor.ConfirmTimeout)
	assert.Equal(t, supervisor.DefaultGiveUpAfter, fc.Supervisor.GiveUpAfter)
	assert.Equal(t, "info", fc.Log.Level)
	assert.Equal(t, "/api", fc.Inspect.BasePath)
	assert.Equal(t, EngineGin, fc.Inspect.Engine)
	assert.Empty(t, fc.Inspect.Listen)
	require.NoError(t, fc.Validate())
}

func TestLoad_YAML(t *testing.T) {
	data := `
supervisor:
  grace_period: 750ms
services:
  - name: api
    command: ./api
    ready_url: http://127.0.0.1:8080/healthz
steps:
  - command: go
    args: [test, ./...]
`
	fc, err := Load(writeFile(t, "harness.yaml", data))
	require.NoError(t, err)
	assert.Equal(t, 750*time.Millisecond, fc.Supervisor.GracePeriod)
	require.Len(t, fc.Services, 1)
	assert.Equal(t, "http://127.0.0.1:8080/healthz", fc.Services[0].ReadyURL)
	n, every := fc.Services[0].Readiness()
	assert.Equal(t, DefaultReadyAttempts, n)
	assert.Equal(t, DefaultReadyInterval, every)
	require.Len(t, fc.Steps, 1)
	assert.Equal(t, []string{"test", "./..."}, fc.Steps[0].Args)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("HARNESS_SUPERVISOR_GRACE_PERIOD", "9s")
	t.Setenv("HARNESS_LOG_LEVEL", "error")
	t.Setenv("HARNESS_INSPECT_LISTEN", "127.0.0.1:0")
	t.Setenv("HARNESS_INSPECT_AUTH_TOKEN", "from-env")

	fc, err := Load(writeFile(t, "env.toml", "[supervisor]\ngrace_period = \"1s\"\n"))
	require.NoError(t, err)
	assert.Equal(t, 9*time.Second, fc.Supervisor.GracePeriod)
	assert.Equal(t, "error", fc.Log.Level)
	assert.Equal(t, "127.0.0.1:0", fc.Inspect.Listen)
	assert.Equal(t, "from-env", fc.Inspect.Auth.Token)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)

	_, err = Load(writeFile(t, "bad.toml", "[supervisor\n"))
	require.Error(t, err)

	_, err = Load(writeFile(t, "dur.toml", "[supervisor]\ngrace_period = \"soon\"\n"))
	require.Error(t, err)
}

func TestValidate_CollectsProblems(t *testing.T) {
	badTLS := &TLSConfig{Enabled: true, CertFile: "c.pem", MinVersion: "1.1"}
	badAuth := auth.Config{Users: []auth.User{{Name: "ci", PasswordHash: "plain"}}}
	fc := &FileConfig{
		Supervisor: SupervisorConfig{GracePeriod: -time.Second, Env: []string{"NOEQUALS"}},
		Log:        LogConfig{Level: "loud", Format: "xml"},
		History:    HistoryConfig{Sinks: []string{" "}},
		Inspect:    InspectConfig{Engine: "fiber", BasePath: "api", TLS: badTLS, Auth: badAuth},
		Services: []ServiceConfig{
			{Name: "a", Command: "x"},
			{Name: "a", Hold: -1},
			{Name: "b", Command: "y", ReadyURL: "ftp://nope"},
		},
		Steps: []StepConfig{{}},
	}
	err := fc.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		"supervisor.grace_period",
		"NOEQUALS",
		"log.level",
		"log.format",
		"history.sinks[0]",
		"inspect.engine",
		"inspect.base_path",
		"inspect.tls needs both cert_file and key_file",
		"inspect.tls.min_version",
		"inspect.auth: user ci password_hash",
		"service a is defined twice",
		"service a requires command",
		"service a hold",
		"service b ready_url",
		"steps[0] requires command",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestLoadAndValidate(t *testing.T) {
	_, err := LoadAndValidate(writeFile(t, "v.toml", "[[services]]\nname = \"x\"\n"))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "requires command"))
}

func TestSupervisorOptions(t *testing.T) {
	dotenv := writeFile(t, ".env", "A=from-file\n# comment\nC=3\n")
	fc := &FileConfig{
		Supervisor: SupervisorConfig{
			ConfirmTimeout: time.Second,
			StartDuration:  -1,
			GracePeriod:    2 * time.Second,
			GiveUpAfter:    3 * time.Second,
			Env:            []string{"A=1", "B=2"},
			EnvFiles:       []string{dotenv},
		},
		Log:     LogConfig{Dir: "/var/log/h", MaxBackups: 2},
		History: HistoryConfig{Timeout: 4 * time.Second},
	}
	o, err := fc.SupervisorOptions()
	require.NoError(t, err)
	assert.Equal(t, time.Second, o.ConfirmTimeout)
	assert.Equal(t, time.Duration(-1), o.StartDuration)
	assert.Equal(t, 3*time.Second, o.GiveUpAfter)
	assert.Equal(t, []string{"A=1", "B=2", "C=3"}, o.Env)
	assert.Equal(t, "/var/log/h", o.Files.Dir)
	assert.Equal(t, 2, o.Files.MaxBackups)
	assert.Equal(t, 4*time.Second, o.HistoryTimeout)

	fc.Supervisor.EnvFiles = []string{"/definitely/not/exist.env"}
	_, err = fc.SupervisorOptions()
	require.Error(t, err)
}

func TestLoggerConfig(t *testing.T) {
	fc := &FileConfig{Log: LogConfig{Level: "warn", Format: "json", TimeStamps: true, Dir: "d", Compress: true}}
	lc := fc.LoggerConfig()
	assert.Equal(t, "warn", lc.Slog.Level)
	assert.Equal(t, "json", lc.Slog.Format)
	assert.True(t, lc.Slog.TimeStamps)
	assert.Equal(t, "d", lc.File.Dir)
	assert.True(t, lc.File.Compress)
}

func TestLoadEnvFile(t *testing.T) {
	pairs, err := LoadEnvFile(writeFile(t, ".env", "B=two\n#comment\n\nA = 1\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"A=1", "B=two"}, pairs)

	_, err = LoadEnvFile("/definitely/not/exist.env")
	require.Error(t, err)
}
