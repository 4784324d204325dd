package probe

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// FuzzPIDFileContent ensures PIDFile.Ready does not panic on arbitrary
// file contents.
func FuzzPIDFileContent(f *testing.F) {
	f.Add([]byte("123\n"))
	f.Add([]byte("not-a-number"))
	f.Add([]byte("\n\n"))
	f.Add([]byte("1\n{\"start_unix\":5}\n"))

	f.Fuzz(func(t *testing.T, data []byte) {
		pf := filepath.Join(t.TempDir(), "pid.pid")
		_ = os.WriteFile(pf, data, 0o644)
		_ = PIDFile{Path: pf}.Ready(context.Background()) // must not panic
	})
}

// FuzzParse ensures Parse never panics and accepted targets describe themselves.
func FuzzParse(f *testing.F) {
	for _, s := range []string{"http://x", "tcp://a:1", "cmd:true", "pidfile:/p", "", "::"} {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, s string) {
		p, err := Parse(s)
		if err == nil && p.Describe() == "" {
			t.Fatalf("empty description for %q", s)
		}
	})
}
