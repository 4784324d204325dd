package supervisor

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/harness/internal/metrics"
)

// RegisterMetrics registers the harness collectors plus a resource
// collector sampling this supervisor's live processes.
func (s *Supervisor) RegisterMetrics(reg prometheus.Registerer) error {
	if err := metrics.Register(reg); err != nil {
		return err
	}
	if err := reg.Register(metrics.NewResourceCollector(s.LiveTargets)); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return err
		}
	}
	return nil
}
