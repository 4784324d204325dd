package process

import "fmt"

// State is the lifecycle state of a registered entry.
// Transitions only move forward: Init -> Spawned -> Exited, or Init -> Exited.
type State int32

const (
	StateInit State = iota
	StateSpawned
	StateExited
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateSpawned:
		return "spawned"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

// MarshalText lets State render by name in JSON/YAML snapshots.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses the names produced by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "init":
		*s = StateInit
	case "spawned":
		*s = StateSpawned
	case "exited":
		*s = StateExited
	default:
		return fmt.Errorf("unknown process state %q", b)
	}
	return nil
}
