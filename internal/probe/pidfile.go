package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// PIDFile succeeds once Path names a live process. Daemons that write
// their pid file only after initialisation use it as a ready signal.
//
// The first line holds the pid. An optional later line may carry
// {"start_unix": N}; a live pid whose start time differs is treated as a
// reused pid and not ready.
type PIDFile struct{ Path string }

type pidMeta struct {
	StartUnix int64 `json:"start_unix"`
}

func (p PIDFile) Ready(ctx context.Context) error {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("pidfile %s not written yet", p.Path)
		}
		return err
	}
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil || pid <= 0 {
		return fmt.Errorf("invalid pid in %s", p.Path)
	}
	alive, err := gopsproc.PidExistsWithContext(ctx, int32(pid))
	if err != nil {
		return err
	}
	if !alive {
		return fmt.Errorf("pid %d from %s is not running", pid, p.Path)
	}
	for _, l := range lines[1:] {
		var m pidMeta
		if json.Unmarshal([]byte(strings.TrimSpace(l)), &m) != nil || m.StartUnix <= 0 {
			continue
		}
		if cur := procStartUnix(pid); cur > 0 && cur != m.StartUnix {
			return fmt.Errorf("pid %d from %s was reused", pid, p.Path)
		}
		break
	}
	return nil
}

func (p PIDFile) Describe() string { return "pidfile:" + p.Path }
