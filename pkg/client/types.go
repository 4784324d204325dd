package client

import "time"

// Exit describes how a process ended.
type Exit struct {
	Code   int    `json:"code"`
	Signal string `json:"signal,omitempty"`
}

// EntryStatus is the snapshot of one supervised process.
type EntryStatus struct {
	ID          int       `json:"id"`
	Name        string    `json:"name"`
	Command     string    `json:"command"`
	Args        []string  `json:"args,omitempty"`
	PID         int       `json:"pid,omitempty"`
	State       string    `json:"state"` // init|spawned|exited
	IsError     bool      `json:"is_error"`
	LaunchError string    `json:"launch_error,omitempty"`
	Exit        *Exit     `json:"exit,omitempty"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	ExitedAt    time.Time `json:"exited_at,omitempty"`
}

// Health is the answer of the health endpoint.
type Health struct {
	ID      int  `json:"id"`
	Healthy bool `json:"healthy"`
}

// Stuck is a process that outlived a termination sweep.
type Stuck struct {
	ID       int    `json:"id"`
	Command  string `json:"command"`
	PID      int    `json:"pid"`
	OSStatus string `json:"os_status,omitempty"`
}

// TerminationReport summarises a termination sweep.
type TerminationReport struct {
	Skipped      bool          `json:"skipped"`
	Targets      int           `json:"targets"`
	Graceful     int           `json:"graceful"`
	Killed       int           `json:"killed"`
	Unterminated []Stuck       `json:"unterminated,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
