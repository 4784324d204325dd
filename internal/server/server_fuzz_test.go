package server

import (
	"strconv"
	"testing"
)

// FuzzParseID checks that accepted ids round-trip and that nothing panics.
func FuzzParseID(f *testing.F) {
	for _, s := range []string{"0", "12", "-1", "", "abc", "1/2", "９", "007", "99999999999999999999"} {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, s string) {
		id, err := parseID(s)
		if err != nil {
			return
		}
		if id < 0 {
			t.Fatalf("negative id %d from %q", id, s)
		}
		back, _ := strconv.Atoi(s)
		if back != id {
			t.Fatalf("parseID(%q)=%d, Atoi=%d", s, id, back)
		}
	})
}
