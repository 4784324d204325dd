package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	// idempotent: calling again should be no-op
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	IncSpawn("sh")
	IncSpawnFailure("sh", "premature_exit")
	IncExit("sh")
	RecordStateTransition("sh", "init", "spawned")
	IncOutputLine("sh")
	ObserveSweep(0.2, 1, 0)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	wantNames := map[string]bool{
		"harness_process_spawns_total":            false,
		"harness_process_spawn_failures_total":    false,
		"harness_process_exits_total":             false,
		"harness_process_state_transitions_total": false,
		"harness_output_lines_total":              false,
		"harness_termination_sweeps_total":        false,
		"harness_termination_forced_kills_total":  false,
		"harness_termination_unterminated":        false,
		"harness_termination_duration_seconds":    false,
	}
	for _, mf := range mfs {
		n := mf.GetName()
		if _, ok := wantNames[n]; ok {
			wantNames[n] = true
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", n)
			}
		}
	}
	for n, ok := range wantNames {
		if !ok {
			t.Fatalf("expected to find metric %s", n)
		}
	}
}

func TestObserveSweepValues(t *testing.T) {
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatal(err)
	}
	before := testutil.ToFloat64(terminationKills)
	ObserveSweep(1.5, 2, 1)
	if got := testutil.ToFloat64(terminationKills) - before; got != 2 {
		t.Fatalf("forced kills delta = %v, want 2", got)
	}
	if got := testutil.ToFloat64(terminationStuck); got != 1 {
		t.Fatalf("unterminated = %v, want 1", got)
	}
	ObserveSweep(0.1, 0, 0)
	if got := testutil.ToFloat64(terminationStuck); got != 0 {
		t.Fatalf("unterminated gauge must follow the last sweep, got %v", got)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	// Reset regOK gate to allow registration with the default registry.
	regOK.Store(false)
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	IncSpawn("x")

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != 200 {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	b, _ := io.ReadAll(resp.Body)
	s := string(b)
	if !strings.Contains(s, "harness_process_spawns_total") {
		t.Fatalf("metrics output missing spawns_total: %s", s[:min(200, len(s))])
	}
}

func TestConcurrentIncrements(t *testing.T) {
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			IncSpawn("c")
			IncExit("c")
			IncOutputLine("c")
		}()
	}
	wg.Wait()
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("gather: %v", err)
	}
}

func TestMetricsBeforeRegister(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	// These should be no-ops and not panic when called before Register
	IncSpawn("test")
	IncSpawnFailure("test", "launch_error")
	IncExit("test")
	RecordStateTransition("test", "init", "exited")
	IncOutputLine("test")
	ObserveSweep(1, 1, 1)
}

func TestRegisterError(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	err := Register(&errorRegisterer{shouldError: true})
	if err == nil {
		t.Fatal("Register should return error from failing registerer")
	}
	if err.Error() != "test registration error" {
		t.Fatalf("unexpected error: %v", err)
	}
	if regOK.Load() {
		t.Fatal("failed Register must leave helpers disabled")
	}
}

func TestResourceCollectorSamplesSelf(t *testing.T) {
	pid := os.Getpid()
	c := NewResourceCollector(func() []Target {
		return []Target{{ID: 0, Command: "self", PID: pid}, {ID: 1, Command: "gone", PID: 0}}
	})
	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		t.Fatal(err)
	}
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var found bool
	for _, mf := range mfs {
		if mf.GetName() != "harness_process_resident_memory_bytes" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "command" && l.GetValue() == "gone" {
					t.Fatalf("entry without pid must be skipped")
				}
			}
			if m.GetGauge().GetValue() > 0 {
				found = true
			}
		}
	}
	if !found {
		t.Fatalf("expected an rss sample for the test process")
	}
}

func TestResourceCollectorNilList(t *testing.T) {
	c := NewResourceCollector(nil)
	if n := testutil.CollectAndCount(c); n != 0 {
		t.Fatalf("expected no samples, got %d", n)
	}
}

// Custom registerer for testing error handling
type errorRegisterer struct {
	shouldError bool
}

func (e *errorRegisterer) Register(prometheus.Collector) error {
	if e.shouldError {
		return errors.New("test registration error")
	}
	return nil
}

func (e *errorRegisterer) MustRegister(...prometheus.Collector) {}
func (e *errorRegisterer) Unregister(prometheus.Collector) bool { return false }
