// Package metrics collects and exposes Prometheus metrics for the
// supervisor.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/svcwatchdogteam/svcwatchdog/internal/events"
)

// Collector holds all supervisor-specific Prometheus metrics.
type Collector struct {
	registry *prometheus.Registry

	ChildStartTotal   prometheus.Counter
	ChildExitTotal    prometheus.Counter
	ChildKillTotal    prometheus.Counter
	SpawnErrorTotal   prometheus.Counter
	WatchdogPingTotal prometheus.Counter
	WatchdogTimeouts  prometheus.Counter
	ChildUp           prometheus.Gauge
	BuildInfo         *prometheus.GaugeVec
}

// New creates and registers all supervisor metrics.
func New() *Collector {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	c := &Collector{
		registry: reg,

		ChildStartTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "svcwatchdog_child_start_total",
			Help: "Total number of child process spawns.",
		}),
		ChildExitTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "svcwatchdog_child_exit_total",
			Help: "Total number of observed child exits.",
		}),
		ChildKillTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "svcwatchdog_child_kill_total",
			Help: "Total number of forced child terminations.",
		}),
		SpawnErrorTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "svcwatchdog_spawn_error_total",
			Help: "Total number of failed child spawns.",
		}),
		WatchdogPingTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "svcwatchdog_watchdog_ping_total",
			Help: "Total number of valid UDP liveness pings received.",
		}),
		WatchdogTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "svcwatchdog_watchdog_timeout_total",
			Help: "Total number of liveness windows missed by the child.",
		}),
		ChildUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "svcwatchdog_child_up",
			Help: "Whether a child process is currently running.",
		}),
		BuildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "svcwatchdog_info",
			Help: "Build information about the supervisor.",
		}, []string{"version", "go_version"}),
	}

	reg.MustRegister(
		c.ChildStartTotal,
		c.ChildExitTotal,
		c.ChildKillTotal,
		c.SpawnErrorTotal,
		c.WatchdogPingTotal,
		c.WatchdogTimeouts,
		c.ChildUp,
		c.BuildInfo,
	)

	return c
}

// Handler returns an http.Handler that serves the /metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// SetBuildInfo sets the constant build info gauge.
func (c *Collector) SetBuildInfo(version, goVersion string) {
	c.BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// Observe wires the collector to the supervision event bus.
func (c *Collector) Observe(bus *events.Bus) {
	bus.Subscribe(func(e events.Event) {
		switch e.Type {
		case events.ChildStarted:
			c.ChildStartTotal.Inc()
			c.ChildUp.Set(1)
		case events.ChildExited:
			c.ChildExitTotal.Inc()
			c.ChildUp.Set(0)
		case events.ChildKilled:
			c.ChildKillTotal.Inc()
			c.ChildUp.Set(0)
		case events.ChildSpawnError:
			c.SpawnErrorTotal.Inc()
		case events.WatchdogPing:
			c.WatchdogPingTotal.Inc()
		case events.WatchdogTimeout:
			c.WatchdogTimeouts.Inc()
		}
	})
}

// Serve exposes the /metrics endpoint on the given listen address in a
// background goroutine. An empty address disables the listener.
func (c *Collector) Serve(listen string) {
	if listen == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	go http.ListenAndServe(listen, mux)
}
