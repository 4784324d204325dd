// Package template renders starter config files for `harness init`.
package template

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Kind selects the shape of the generated config.
type Kind string

const (
	KindHTTP   Kind = "http"   // service gated on an HTTP endpoint, then steps
	KindTCP    Kind = "tcp"    // service gated on a TCP port
	KindDaemon Kind = "daemon" // daemon that writes a pid file when ready
	KindSteps  Kind = "steps"  // steps only, no services
)

// Output formats.
const (
	FormatTOML = "toml"
	FormatYAML = "yaml"
	FormatJSON = "json"
)

// Service is the template form of a [[services]] entry.
type Service struct {
	Name          string
	Command       string
	Args          []string
	Hold          string
	ReadyURL      string
	ReadyAttempts int
}

// Step is the template form of a [[steps]] entry.
type Step struct {
	Name    string
	Command string
	Args    []string
	Timeout string
}

// Template is a starter config before encoding.
type Template struct {
	GracePeriod   string
	InspectListen string
	Services      []Service
	Steps         []Step
}

// SupportedKinds lists the accepted kinds.
func SupportedKinds() []string {
	return []string{string(KindHTTP), string(KindTCP), string(KindDaemon), string(KindSteps)}
}

// Generate builds a template of kind with name used for the service.
func Generate(kind Kind, name string) (*Template, error) {
	if name == "" {
		name = "app"
	}
	t := &Template{GracePeriod: "5s", InspectListen: "127.0.0.1:9090"}
	switch kind {
	case KindHTTP:
		t.Services = []Service{{
			Name: name, Command: "./" + name, Args: []string{"--port", "8080"},
			Hold: "1s", ReadyURL: "http://127.0.0.1:8080/healthz", ReadyAttempts: 50,
		}}
	case KindTCP:
		t.Services = []Service{{
			Name: name, Command: "./" + name,
			Hold: "1s", ReadyURL: "tcp://127.0.0.1:5432", ReadyAttempts: 50,
		}}
	case KindDaemon:
		t.Services = []Service{{
			Name: name, Command: "./" + name, Args: []string{"--pidfile", "/tmp/" + name + ".pid"},
			ReadyURL: "pidfile:/tmp/" + name + ".pid", ReadyAttempts: 25,
		}}
	case KindSteps:
	default:
		return nil, fmt.Errorf("unknown template kind: %s (supported: %s)", kind, strings.Join(SupportedKinds(), ", "))
	}
	t.Steps = []Step{
		{Name: "test", Command: "sh", Args: []string{"-c", "echo running tests"}, Timeout: "10m"},
	}
	return t, nil
}

// Render encodes t in format.
func (t *Template) Render(format string) ([]byte, error) {
	m := t.toMap()
	switch format {
	case "", FormatTOML:
		return toml.Marshal(m)
	case FormatYAML:
		return yaml.Marshal(m)
	case FormatJSON:
		return json.MarshalIndent(m, "", "  ")
	default:
		return nil, fmt.Errorf("unknown format %q (toml|yaml|json)", format)
	}
}

// toMap drops empty fields so the rendered file only shows what matters.
func (t *Template) toMap() map[string]any {
	out := map[string]any{
		"supervisor": map[string]any{"grace_period": t.GracePeriod},
		"inspect":    map[string]any{"listen": t.InspectListen},
	}
	if len(t.Services) > 0 {
		svcs := make([]map[string]any, 0, len(t.Services))
		for _, s := range t.Services {
			m := map[string]any{"name": s.Name, "command": s.Command}
			if len(s.Args) > 0 {
				m["args"] = s.Args
			}
			if s.Hold != "" {
				m["hold"] = s.Hold
			}
			if s.ReadyURL != "" {
				m["ready_url"] = s.ReadyURL
			}
			if s.ReadyAttempts > 0 {
				m["ready_attempts"] = s.ReadyAttempts
			}
			svcs = append(svcs, m)
		}
		out["services"] = svcs
	}
	if len(t.Steps) > 0 {
		steps := make([]map[string]any, 0, len(t.Steps))
		for _, s := range t.Steps {
			m := map[string]any{"name": s.Name, "command": s.Command}
			if len(s.Args) > 0 {
				m["args"] = s.Args
			}
			if s.Timeout != "" {
				m["timeout"] = s.Timeout
			}
			steps = append(steps, m)
		}
		out["steps"] = steps
	}
	return out
}
