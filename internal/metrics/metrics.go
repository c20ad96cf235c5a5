package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector records producer outcomes as Prometheus counters.
type Collector struct {
	locations *prometheus.CounterVec
	retries   *prometheus.CounterVec
	runs      *prometheus.CounterVec
}

// NewCollector registers the producer counters on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		locations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "weather_publisher_locations_total",
			Help: "Locations processed, by terminal outcome",
		}, []string{"outcome"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "weather_publisher_retries_total",
			Help: "Retry waits scheduled, by operation",
		}, []string{"operation"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "weather_publisher_runs_total",
			Help: "Completed passes, by result",
		}, []string{"result"}),
	}
}

func (c *Collector) LocationProcessed(outcome string) {
	c.locations.WithLabelValues(outcome).Inc()
}

func (c *Collector) Retried(operation string) {
	c.retries.WithLabelValues(operation).Inc()
}

func (c *Collector) RunCompleted(aborted bool) {
	result := "completed"
	if aborted {
		result = "aborted"
	}
	c.runs.WithLabelValues(result).Inc()
}
