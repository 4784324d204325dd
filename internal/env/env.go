package env

import (
	"os"
	"sort"
	"strings"
	"sync"
)

// Env composes the environment handed to child processes.
// Precedence, lowest first: host environment, harness-wide variables,
// per-process pairs. ${VAR} references are expanded against the composed set.
type Env struct {
	mu   sync.RWMutex
	vars map[string]string
	base map[string]string // host environment, captured on first use
}

func New() *Env {
	return &Env{vars: make(map[string]string)}
}

// Set sets a harness-wide variable.
func (e *Env) Set(k, v string) {
	if k == "" {
		return
	}
	e.mu.Lock()
	e.vars[k] = v
	e.mu.Unlock()
}

// SetPairs applies "KEY=VALUE" entries; malformed entries are skipped.
func (e *Env) SetPairs(kvs []string) {
	for _, kv := range kvs {
		if k, v, ok := split(kv); ok {
			e.Set(k, v)
		}
	}
}

// Merge returns the composed environment for one process, sorted by key.
func (e *Env) Merge(perProc []string) []string {
	e.mu.Lock()
	if e.base == nil {
		e.base = make(map[string]string)
		for _, kv := range os.Environ() {
			if k, v, ok := split(kv); ok {
				e.base[k] = v
			}
		}
	}
	m := make(map[string]string, len(e.base)+len(e.vars)+len(perProc))
	for k, v := range e.base {
		m[k] = v
	}
	for k, v := range e.vars {
		m[k] = v
	}
	e.mu.Unlock()

	for _, kv := range perProc {
		if k, v, ok := split(kv); ok {
			m[k] = v
		}
	}

	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	sort.Strings(out)
	return out
}

func split(kv string) (string, string, bool) {
	k, v, ok := strings.Cut(kv, "=")
	if !ok || k == "" {
		return "", "", false
	}
	return k, v, true
}

// expand replaces ${VAR} with values from m; unknown references are kept.
// Single pass, no recursion.
func expand(s string, m map[string]string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		j := strings.IndexByte(s[i+2:], '}')
		if j < 0 {
			b.WriteString(s)
			return b.String()
		}
		name := s[i+2 : i+2+j]
		b.WriteString(s[:i])
		if v, ok := m[name]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[i : i+3+j])
		}
		s = s[i+3+j:]
	}
}
