package supervisor

import (
	"time"

	"github.com/loykin/harness/internal/history"
	"github.com/loykin/harness/internal/metrics"
	"github.com/loykin/harness/internal/process"
)

// observer turns registry callbacks into logs, metrics and history events.
type observer struct{ s *Supervisor }

func (o observer) OnSpawn(e *process.Entry) {
	spec := e.Spec()
	o.s.log.Info("running", "id", e.ID(), "command", spec.CommandLine(), "pid", e.PID())
	metrics.IncSpawn(spec.Tag())
	metrics.RecordStateTransition(spec.Tag(), process.StateInit.String(), process.StateSpawned.String())
	o.s.publish(history.EventSpawn, e)
}

func (o observer) OnLaunchError(e *process.Entry, err error) {
	spec := e.Spec()
	o.s.log.Error("launch failed", "id", e.ID(), "command", spec.CommandLine(), "error", err)
	metrics.RecordStateTransition(spec.Tag(), process.StateInit.String(), process.StateExited.String())
	o.s.publish(history.EventLaunchError, e)
}

func (o observer) OnExit(e *process.Entry, from process.State, x process.Exit) {
	spec := e.Spec()
	attrs := []any{"id", e.ID(), "command", spec.Tag(), "pid", e.PID(), "exit_code", x.Code}
	if x.Signal != "" {
		attrs = append(attrs, "signal", x.Signal)
	}
	o.s.log.Info("exited", attrs...)
	metrics.IncExit(spec.Tag())
	metrics.RecordStateTransition(spec.Tag(), from.String(), process.StateExited.String())
	o.s.publish(history.EventExit, e)
}

func (s *Supervisor) publish(t history.EventType, e *process.Entry) {
	s.hist.Publish(history.Event{Type: t, OccurredAt: time.Now().UTC(), Record: recordOf(e.Snapshot())})
}

func recordOf(st process.Status) history.Record {
	r := history.Record{
		ID:      st.ID,
		Name:    st.Name,
		Command: st.Command,
		Args:    st.Args,
		PID:     st.PID,
		State:   st.State.String(),
		Error:   st.LaunchError,
	}
	if st.Exit != nil {
		r.ExitCode = st.Exit.Code
		r.Signal = st.Exit.Signal
	} else if st.LaunchError != "" {
		r.ExitCode = -1
	}
	return r
}
