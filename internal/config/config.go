package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/harness/internal/auth"
	"github.com/loykin/harness/internal/logger"
	"github.com/loykin/harness/internal/probe"
	"github.com/loykin/harness/internal/process"
	"github.com/loykin/harness/internal/supervisor"
)

// EnvPrefix namespaces environment overrides, e.g. HARNESS_SUPERVISOR_GRACE_PERIOD.
const EnvPrefix = "HARNESS"

// Inspection server engines.
const (
	EngineGin  = "gin"
	EngineEcho = "echo"
)

// FileConfig represents the top-level config file structure.
type FileConfig struct {
	Supervisor SupervisorConfig `toml:"supervisor" yaml:"supervisor" mapstructure:"supervisor"`
	Log        LogConfig        `toml:"log" yaml:"log" mapstructure:"log"`
	History    HistoryConfig    `toml:"history" yaml:"history" mapstructure:"history"`
	Inspect    InspectConfig    `toml:"inspect" yaml:"inspect" mapstructure:"inspect"`
	Services   []ServiceConfig  `toml:"services" yaml:"services" mapstructure:"services"`
	Steps      []StepConfig     `toml:"steps" yaml:"steps" mapstructure:"steps"`
}

type SupervisorConfig struct {
	ConfirmTimeout time.Duration `toml:"confirm_timeout" yaml:"confirm_timeout" mapstructure:"confirm_timeout"`
	StartDuration  time.Duration `toml:"start_duration" yaml:"start_duration" mapstructure:"start_duration"`
	GracePeriod    time.Duration `toml:"grace_period" yaml:"grace_period" mapstructure:"grace_period"`
	GiveUpAfter    time.Duration `toml:"give_up_after" yaml:"give_up_after" mapstructure:"give_up_after"`
	Env            []string      `toml:"env" yaml:"env,omitempty" mapstructure:"env"`
	EnvFiles       []string      `toml:"env_files" yaml:"env_files,omitempty" mapstructure:"env_files"`
}

type LogConfig struct {
	Level      string `toml:"level" yaml:"level" mapstructure:"level"`
	Format     string `toml:"format" yaml:"format" mapstructure:"format"`
	Color      bool   `toml:"color" yaml:"color" mapstructure:"color"`
	TimeStamps bool   `toml:"timestamps" yaml:"timestamps" mapstructure:"timestamps"`
	Dir        string `toml:"dir" yaml:"dir,omitempty" mapstructure:"dir"`
	MaxSizeMB  int    `toml:"max_size_mb" yaml:"max_size_mb,omitempty" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" yaml:"max_backups,omitempty" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" yaml:"max_age_days,omitempty" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" yaml:"compress,omitempty" mapstructure:"compress"`
}

type HistoryConfig struct {
	Sinks   []string      `toml:"sinks" yaml:"sinks,omitempty" mapstructure:"sinks"`
	Timeout time.Duration `toml:"timeout" yaml:"timeout,omitempty" mapstructure:"timeout"`
}

type InspectConfig struct {
	Listen   string     `toml:"listen" yaml:"listen,omitempty" mapstructure:"listen"`
	BasePath string     `toml:"base_path" yaml:"base_path" mapstructure:"base_path"`
	Engine   string     `toml:"engine" yaml:"engine" mapstructure:"engine"`
	TLS      *TLSConfig `toml:"tls" yaml:"tls,omitempty" mapstructure:"tls"`
	// Auth protects every route when a token or users are set.
	Auth auth.Config `toml:"auth" yaml:"auth,omitempty" mapstructure:"auth"`
}

// TLSConfig serves the inspection API over HTTPS. CertFile/KeyFile take
// precedence over Dir, which holds tls.crt and tls.key.
type TLSConfig struct {
	Enabled      bool        `toml:"enabled" yaml:"enabled" mapstructure:"enabled"`
	CertFile     string      `toml:"cert_file" yaml:"cert_file,omitempty" mapstructure:"cert_file"`
	KeyFile      string      `toml:"key_file" yaml:"key_file,omitempty" mapstructure:"key_file"`
	Dir          string      `toml:"dir" yaml:"dir,omitempty" mapstructure:"dir"`
	AutoGenerate bool        `toml:"auto_generate" yaml:"auto_generate,omitempty" mapstructure:"auto_generate"`
	MinVersion   string      `toml:"min_version" yaml:"min_version,omitempty" mapstructure:"min_version"`
	MaxVersion   string      `toml:"max_version" yaml:"max_version,omitempty" mapstructure:"max_version"`
	AutoGen      *AutoGenTLS `toml:"auto_gen" yaml:"auto_gen,omitempty" mapstructure:"auto_gen"`
}

// AutoGenTLS tunes the self-signed certificate written when AutoGenerate is set.
type AutoGenTLS struct {
	CommonName   string   `toml:"common_name" yaml:"common_name,omitempty" mapstructure:"common_name"`
	Organization string   `toml:"organization" yaml:"organization,omitempty" mapstructure:"organization"`
	DNSNames     []string `toml:"dns_names" yaml:"dns_names,omitempty" mapstructure:"dns_names"`
	IPAddresses  []string `toml:"ip_addresses" yaml:"ip_addresses,omitempty" mapstructure:"ip_addresses"`
	ValidDays    int      `toml:"valid_days" yaml:"valid_days,omitempty" mapstructure:"valid_days"`
}

// ServiceConfig is a long-running process spawned before the steps and
// kept healthy while they run.
type ServiceConfig struct {
	Name    string   `toml:"name" yaml:"name" mapstructure:"name"`
	Command string   `toml:"command" yaml:"command" mapstructure:"command"`
	Args    []string `toml:"args" yaml:"args,omitempty" mapstructure:"args"`
	Env     []string `toml:"env" yaml:"env,omitempty" mapstructure:"env"`
	WorkDir string   `toml:"work_dir" yaml:"work_dir,omitempty" mapstructure:"work_dir"`
	// Hold is how long the service must stay healthy after spawning.
	Hold time.Duration `toml:"hold" yaml:"hold,omitempty" mapstructure:"hold"`
	// ReadyURL is a probe target polled until the service is ready:
	// http(s)://, tcp://host:port, cmd:<command line> or pidfile:<path>.
	ReadyURL      string        `toml:"ready_url" yaml:"ready_url,omitempty" mapstructure:"ready_url"`
	ReadyAttempts int           `toml:"ready_attempts" yaml:"ready_attempts,omitempty" mapstructure:"ready_attempts"`
	ReadyInterval time.Duration `toml:"ready_interval" yaml:"ready_interval,omitempty" mapstructure:"ready_interval"`
}

// StepConfig is a command run to completion; a non-zero exit fails the run.
type StepConfig struct {
	Name    string        `toml:"name" yaml:"name" mapstructure:"name"`
	Command string        `toml:"command" yaml:"command" mapstructure:"command"`
	Args    []string      `toml:"args" yaml:"args,omitempty" mapstructure:"args"`
	Env     []string      `toml:"env" yaml:"env,omitempty" mapstructure:"env"`
	WorkDir string        `toml:"work_dir" yaml:"work_dir,omitempty" mapstructure:"work_dir"`
	Timeout time.Duration `toml:"timeout" yaml:"timeout,omitempty" mapstructure:"timeout"`
}

// Defaults applied to readiness polling when ready_url is set.
const (
	DefaultReadyAttempts = 25
	DefaultReadyInterval = 200 * time.Millisecond
)

// Spec converts the service into a process spec.
func (s ServiceConfig) Spec() process.Spec {
	return process.Spec{Name: s.Name, Command: s.Command, Args: s.Args, Env: s.Env, WorkDir: s.WorkDir}
}

// Readiness returns the polling attempts and interval with defaults applied.
func (s ServiceConfig) Readiness() (int, time.Duration) {
	n, d := s.ReadyAttempts, s.ReadyInterval
	if n <= 0 {
		n = DefaultReadyAttempts
	}
	if d <= 0 {
		d = DefaultReadyInterval
	}
	return n, d
}

// Probe parses ReadyURL. It returns nil when no probe is configured.
func (s ServiceConfig) Probe() (probe.Probe, error) {
	if s.ReadyURL == "" {
		return nil, nil
	}
	return probe.Parse(s.ReadyURL)
}

func (s StepConfig) Spec() process.Spec {
	return process.Spec{Name: s.Name, Command: s.Command, Args: s.Args, Env: s.Env, WorkDir: s.WorkDir}
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		v.SetConfigType("yaml")
	case ".json":
		v.SetConfigType("json")
	default:
		v.SetConfigType("toml")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults make scalar keys known to viper so env overrides reach Unmarshal.
	v.SetDefault("supervisor.confirm_timeout", supervisor.DefaultConfirmTimeout)
	v.SetDefault("supervisor.start_duration", supervisor.DefaultStartDuration)
	v.SetDefault("supervisor.grace_period", supervisor.DefaultGracePeriod)
	v.SetDefault("supervisor.give_up_after", supervisor.DefaultGiveUpAfter)
	v.SetDefault("log.level", logger.LevelInfo)
	v.SetDefault("log.format", logger.FormatText)
	v.SetDefault("log.color", false)
	v.SetDefault("log.timestamps", false)
	v.SetDefault("log.dir", "")
	v.SetDefault("history.timeout", supervisor.DefaultHistoryFlush)
	v.SetDefault("inspect.listen", "")
	v.SetDefault("inspect.base_path", "/api")
	v.SetDefault("inspect.engine", EngineGin)
	// lets HARNESS_INSPECT_AUTH_TOKEN supply the secret without a file entry
	v.SetDefault("inspect.auth.token", "")
	return v
}

// Load reads a TOML, YAML or JSON config file. The format follows the file
// extension, defaulting to TOML.
func Load(path string) (*FileConfig, error) {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	return &fc, nil
}

// LoadAndValidate is Load followed by Validate.
func LoadAndValidate(path string) (*FileConfig, error) {
	fc, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := fc.Validate(); err != nil {
		return nil, err
	}
	return fc, nil
}

// Validate reports every problem found, joined.
func (c *FileConfig) Validate() error {
	var errs []error
	sc := c.Supervisor
	if sc.ConfirmTimeout < 0 {
		errs = append(errs, fmt.Errorf("supervisor.confirm_timeout must not be negative"))
	}
	if sc.GracePeriod < 0 {
		errs = append(errs, fmt.Errorf("supervisor.grace_period must not be negative"))
	}
	if sc.GiveUpAfter < 0 {
		errs = append(errs, fmt.Errorf("supervisor.give_up_after must not be negative"))
	}
	for _, kv := range sc.Env {
		if !strings.Contains(kv, "=") {
			errs = append(errs, fmt.Errorf("supervisor.env entry %q is not KEY=VALUE", kv))
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "", logger.LevelDebug, logger.LevelInfo, logger.LevelWarn, "warning", logger.LevelError:
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug|info|warn|error", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", logger.FormatText, logger.FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of text|json", c.Log.Format))
	}

	for i, s := range c.History.Sinks {
		if strings.TrimSpace(s) == "" {
			errs = append(errs, fmt.Errorf("history.sinks[%d] is empty", i))
		}
	}

	switch c.Inspect.Engine {
	case "", EngineGin, EngineEcho:
	default:
		errs = append(errs, fmt.Errorf("inspect.engine %q is not one of gin|echo", c.Inspect.Engine))
	}
	if c.Inspect.BasePath != "" && !strings.HasPrefix(c.Inspect.BasePath, "/") {
		errs = append(errs, fmt.Errorf("inspect.base_path %q must start with /", c.Inspect.BasePath))
	}
	if err := c.Inspect.Auth.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("inspect.auth: %w", err))
	}
	if t := c.Inspect.TLS; t != nil && t.Enabled {
		if (t.CertFile == "") != (t.KeyFile == "") {
			errs = append(errs, fmt.Errorf("inspect.tls needs both cert_file and key_file"))
		}
		if t.CertFile == "" && t.Dir == "" {
			errs = append(errs, fmt.Errorf("inspect.tls needs cert_file/key_file or dir"))
		}
		for name, v := range map[string]string{"min_version": t.MinVersion, "max_version": t.MaxVersion} {
			switch strings.TrimPrefix(strings.ToLower(v), "tls") {
			case "", "default", "1.2", "1.3":
			default:
				errs = append(errs, fmt.Errorf("inspect.tls.%s %q is not one of 1.2|1.3", name, v))
			}
		}
	}

	seen := make(map[string]bool)
	for i, s := range c.Services {
		label := fmt.Sprintf("services[%d]", i)
		if s.Name != "" {
			label = fmt.Sprintf("service %s", s.Name)
			if seen[s.Name] {
				errs = append(errs, fmt.Errorf("%s is defined twice", label))
			}
			seen[s.Name] = true
		}
		if s.Command == "" {
			errs = append(errs, fmt.Errorf("%s requires command", label))
		}
		if s.Hold < 0 {
			errs = append(errs, fmt.Errorf("%s hold must not be negative", label))
		}
		if _, err := s.Probe(); err != nil {
			errs = append(errs, fmt.Errorf("%s ready_url: %w", label, err))
		}
		if s.ReadyAttempts < 0 {
			errs = append(errs, fmt.Errorf("%s ready_attempts must not be negative", label))
		}
	}
	for i, s := range c.Steps {
		label := fmt.Sprintf("steps[%d]", i)
		if s.Name != "" {
			label = fmt.Sprintf("step %s", s.Name)
		}
		if s.Command == "" {
			errs = append(errs, fmt.Errorf("%s requires command", label))
		}
		if s.Timeout < 0 {
			errs = append(errs, fmt.Errorf("%s timeout must not be negative", label))
		}
	}
	return errors.Join(errs...)
}

// LoggerConfig maps the [log] section onto the logger package.
func (c *FileConfig) LoggerConfig() logger.Config {
	l := c.Log
	return logger.Config{
		Slog: logger.SlogConfig{
			Level:      l.Level,
			Format:     l.Format,
			Color:      l.Color,
			TimeStamps: l.TimeStamps,
		},
		File: logger.FileConfig{
			Dir:        l.Dir,
			MaxSizeMB:  l.MaxSizeMB,
			MaxBackups: l.MaxBackups,
			MaxAgeDays: l.MaxAgeDays,
			Compress:   l.Compress,
		},
	}
}

// SupervisorOptions maps the [supervisor] and [log] sections onto
// supervisor.Options. Sinks, Logger and Output are left for the caller.
func (c *FileConfig) SupervisorOptions() (supervisor.Options, error) {
	env, err := c.Supervisor.ResolveEnv()
	if err != nil {
		return supervisor.Options{}, err
	}
	return supervisor.Options{
		ConfirmTimeout: c.Supervisor.ConfirmTimeout,
		StartDuration:  c.Supervisor.StartDuration,
		GracePeriod:    c.Supervisor.GracePeriod,
		GiveUpAfter:    c.Supervisor.GiveUpAfter,
		Env:            env,
		Files:          c.LoggerConfig().File,
		HistoryTimeout: c.History.Timeout,
	}, nil
}

// ResolveEnv merges env_files in order and then the env list on top.
// The result is sorted by key.
func (c SupervisorConfig) ResolveEnv() ([]string, error) {
	m := make(map[string]string)
	for _, p := range c.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		maps.Copy(m, pairs)
	}
	for _, kv := range c.Env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	out := make([]string, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		out = append(out, k+"="+m[k])
	}
	return out, nil
}

// LoadEnvFile parses a simple .env file and returns "KEY=VALUE" entries sorted by key.
func LoadEnvFile(path string) ([]string, error) {
	return SupervisorConfig{EnvFiles: []string{path}}.ResolveEnv()
}

// loadEnvFile parses KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	// Mitigate G304: sanitize user-provided path by cleaning it before use.
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			m[k] = v
		}
	}
	return m, nil
}
