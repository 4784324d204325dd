// Package probe implements readiness checks for supervised services.
package probe

import (
	"context"
	"fmt"
	"strings"
)

// Probe reports whether a service is ready to accept work.
// It must be safe for concurrent use.
type Probe interface {
	// Ready returns nil once the service is ready.
	Ready(ctx context.Context) error
	// Describe returns a human-readable description of the check.
	Describe() string
}

// Parse builds a probe from a target string:
//
//	http://host:port/path, https://...  GET answers below 500
//	tcp://host:port                     TCP connect succeeds
//	cmd:<command line>                  command exits 0
//	pidfile:<path>                      pid file names a live process
func Parse(target string) (Probe, error) {
	target = strings.TrimSpace(target)
	switch {
	case strings.HasPrefix(target, "http://"), strings.HasPrefix(target, "https://"):
		return NewHTTP(target), nil
	case strings.HasPrefix(target, "tcp://"):
		addr := strings.TrimPrefix(target, "tcp://")
		if addr == "" {
			return nil, fmt.Errorf("probe %q: missing address", target)
		}
		return TCP{Addr: addr}, nil
	case strings.HasPrefix(target, "cmd:"):
		c := strings.TrimSpace(strings.TrimPrefix(target, "cmd:"))
		if c == "" {
			return nil, fmt.Errorf("probe %q: missing command", target)
		}
		return Command{Command: c}, nil
	case strings.HasPrefix(target, "pidfile:"):
		p := strings.TrimSpace(strings.TrimPrefix(target, "pidfile:"))
		if p == "" {
			return nil, fmt.Errorf("probe %q: missing path", target)
		}
		return PIDFile{Path: p}, nil
	default:
		return nil, fmt.Errorf("unsupported probe %q (http://, https://, tcp://, cmd:, pidfile:)", target)
	}
}
