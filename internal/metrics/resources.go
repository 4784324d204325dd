package metrics

import (
	"log/slog"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// Target identifies one live child process to sample.
type Target struct {
	ID      int
	Command string
	PID     int
}

// ResourceCollector samples memory and thread usage of live child processes
// at scrape time. Processes that vanished between listing and sampling are
// skipped.
type ResourceCollector struct {
	list func() []Target

	rss     *prometheus.Desc
	threads *prometheus.Desc
	cpu     *prometheus.Desc
}

// NewResourceCollector returns a collector that samples whatever list
// returns on each scrape.
func NewResourceCollector(list func() []Target) *ResourceCollector {
	labels := []string{"id", "command"}
	return &ResourceCollector{
		list: list,
		rss: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "process", "resident_memory_bytes"),
			"Resident set size of a live child process.", labels, nil),
		threads: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "process", "threads"),
			"Thread count of a live child process.", labels, nil),
		cpu: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "process", "cpu_seconds_total"),
			"User plus system CPU time of a live child process.", labels, nil),
	}
}

func (c *ResourceCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.rss
	ch <- c.threads
	ch <- c.cpu
}

func (c *ResourceCollector) Collect(ch chan<- prometheus.Metric) {
	if c.list == nil {
		return
	}
	for _, t := range c.list() {
		if t.PID <= 0 {
			continue
		}
		p, err := process.NewProcess(int32(t.PID))
		if err != nil {
			continue
		}
		id := strconv.Itoa(t.ID)
		if mem, err := p.MemoryInfo(); err == nil {
			ch <- prometheus.MustNewConstMetric(c.rss, prometheus.GaugeValue, float64(mem.RSS), id, t.Command)
		} else {
			slog.Debug("resource sample failed", "pid", t.PID, "error", err)
		}
		if n, err := p.NumThreads(); err == nil {
			ch <- prometheus.MustNewConstMetric(c.threads, prometheus.GaugeValue, float64(n), id, t.Command)
		}
		if ts, err := p.Times(); err == nil {
			ch <- prometheus.MustNewConstMetric(c.cpu, prometheus.CounterValue, ts.User+ts.System, id, t.Command)
		}
	}
}
