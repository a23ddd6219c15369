// Package promexporter exposes client statistics to Prometheus.
package promexporter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"

	"github.com/pior/redis"
)

// Collector reads the statistics of a client at scrape time.
type Collector struct {
	client *redis.Client

	commands          *prometheus.Desc
	pipelines         *prometheus.Desc
	pipelinedCommands *prometheus.Desc
	errorReplies      *prometheus.Desc
	errors            *prometheus.Desc
	resolves          *prometheus.Desc
	failovers         *prometheus.Desc

	poolConnections *prometheus.Desc
	poolAcquires    *prometheus.Desc
	poolWaits       *prometheus.Desc
	poolWaitSeconds *prometheus.Desc
	poolCreated     *prometheus.Desc
	poolDestroyed   *prometheus.Desc
	poolErrors      *prometheus.Desc

	circuitState *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector for client. Every metric carries a
// "client" label with the client name.
func NewCollector(namespace string, client *redis.Client) *Collector {
	labels := prometheus.Labels{"client": client.Name()}
	desc := func(name, help string, variableLabels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, variableLabels, labels)
	}

	return &Collector{
		client: client,

		commands:          desc("commands_total", "Total number of commands sent with Do"),
		pipelines:         desc("pipelines_total", "Total number of pipelines"),
		pipelinedCommands: desc("pipelined_commands_total", "Total number of commands sent through pipelines"),
		errorReplies:      desc("error_replies_total", "Total number of error replies"),
		errors:            desc("errors_total", "Total number of faults (pool, transport, protocol)"),
		resolves:          desc("resolves_total", "Total number of primary address resolutions"),
		failovers:         desc("failovers_total", "Total number of resolutions that changed the primary address"),

		poolConnections: desc("pool_connections", "Connection pool statistics", "state"), // total, active, idle
		poolAcquires:    desc("pool_acquires_total", "Total connection acquires"),
		poolWaits:       desc("pool_acquire_waits_total", "Total acquires that waited for a connection"),
		poolWaitSeconds: desc("pool_acquire_wait_seconds_total", "Total time spent waiting for a connection"),
		poolCreated:     desc("pool_connections_created_total", "Total connections created"),
		poolDestroyed:   desc("pool_connections_destroyed_total", "Total connections destroyed"),
		poolErrors:      desc("pool_acquire_errors_total", "Total connection acquire errors"),

		circuitState: desc("circuit_breaker_state", "Circuit breaker state (0=closed, 1=half-open, 2=open)"),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(c, ch)
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.client.Stats()
	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}

	counter(c.commands, stats.Commands)
	counter(c.pipelines, stats.Pipelines)
	counter(c.pipelinedCommands, stats.PipelinedCommands)
	counter(c.errorReplies, stats.ErrorReplies)
	counter(c.errors, stats.Errors)
	counter(c.resolves, stats.Resolves)
	counter(c.failovers, stats.Failovers)

	pool := c.client.PoolStats()
	ch <- prometheus.MustNewConstMetric(c.poolConnections, prometheus.GaugeValue, float64(pool.TotalConns), "total")
	ch <- prometheus.MustNewConstMetric(c.poolConnections, prometheus.GaugeValue, float64(pool.ActiveConns), "active")
	ch <- prometheus.MustNewConstMetric(c.poolConnections, prometheus.GaugeValue, float64(pool.IdleConns), "idle")
	counter(c.poolAcquires, pool.AcquireCount)
	counter(c.poolWaits, pool.AcquireWaitCount)
	ch <- prometheus.MustNewConstMetric(c.poolWaitSeconds, prometheus.CounterValue, float64(pool.AcquireWaitTimeNs)/1e9)
	counter(c.poolCreated, pool.CreatedConns)
	counter(c.poolDestroyed, pool.DestroyedConns)
	counter(c.poolErrors, pool.AcquireErrors)

	if state, ok := c.client.CircuitBreakerState(); ok {
		ch <- prometheus.MustNewConstMetric(c.circuitState, prometheus.GaugeValue, circuitStateValue(state))
	}
}

func circuitStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	}
	return 0
}
