package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rl1809/stockbridge/internal/port"
)

var _ port.DispatchMetrics = (*Prometheus)(nil)

// Prometheus records dispatcher metrics in its own registry.
type Prometheus struct {
	registry *prometheus.Registry
	cycles   *prometheus.HistogramVec
	events   *prometheus.CounterVec
	backlog  *prometheus.GaugeVec
}

func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "stockbridge",
			Name:      "dispatch_cycle_seconds",
			Help:      "Duration of one dispatch cycle.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"dispatcher"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stockbridge",
			Name:      "dispatch_events_total",
			Help:      "Events handled by outcome.",
		}, []string{"dispatcher", "outcome"}),
		backlog: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "stockbridge",
			Name:      "dispatch_backlog",
			Help:      "Unprocessed events seen at the start of the last cycle.",
		}, []string{"dispatcher"}),
	}

	p.registry.MustRegister(
		p.cycles,
		p.events,
		p.backlog,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

func (p *Prometheus) ObserveCycle(dispatcher string, duration time.Duration) {
	p.cycles.WithLabelValues(dispatcher).Observe(duration.Seconds())
}

func (p *Prometheus) AddEvents(dispatcher, outcome string, count int) {
	if count <= 0 {
		return
	}
	p.events.WithLabelValues(dispatcher, outcome).Add(float64(count))
}

func (p *Prometheus) SetBacklog(dispatcher string, backlog int) {
	p.backlog.WithLabelValues(dispatcher).Set(float64(backlog))
}

func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
