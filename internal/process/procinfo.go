package process

import (
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// OSStatus returns the kernel's view of pid (e.g. "running", "sleep",
// "zombie", "disk-sleep"). It returns "gone" when the pid no longer exists
// and "" when the platform cannot tell.
func OSStatus(pid int) string {
	if pid <= 0 {
		return ""
	}
	p, err := gopsproc.NewProcess(int32(pid)) // #nosec G115 -- pids fit in int32
	if err != nil {
		return "gone"
	}
	st, err := p.Status()
	if err != nil || len(st) == 0 {
		return ""
	}
	return strings.Join(st, ",")
}
