package bus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	ViewConverted = "converted"
	ViewFormatted = "formatted"
	ViewCustom    = "custom" // a user subscriber replied
	ViewError     = "error"
)

// Metrics holds the bus's Prometheus registry. A nil *Metrics records nothing.
type Metrics struct {
	Registry        *prometheus.Registry
	ViewTotal       *prometheus.CounterVec
	PublishedTotal  *prometheus.CounterVec
	ConsumedTotal   *prometheus.CounterVec
	HandlerDuration *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	viewTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "viewbus_view_total",
		Help: "Handler results passed through the view stage, by outcome.",
	}, []string{"outcome"})

	publishedTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "viewbus_published_total",
		Help: "Messages published to the bus.",
	}, []string{"type"})

	consumedTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "viewbus_consumed_total",
		Help: "Messages consumed from the bus.",
	}, []string{"type"})

	handlerDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "viewbus_handler_duration_seconds",
		Help:    "Handler func call duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"func"})

	reg.MustRegister(viewTotal, publishedTotal, consumedTotal, handlerDuration)

	return &Metrics{
		Registry:        reg,
		ViewTotal:       viewTotal,
		PublishedTotal:  publishedTotal,
		ConsumedTotal:   consumedTotal,
		HandlerDuration: handlerDuration,
	}
}

func (m *Metrics) view(outcome string) {
	if m == nil {
		return
	}
	m.ViewTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) published(msgType string) {
	if m == nil {
		return
	}
	m.PublishedTotal.WithLabelValues(msgType).Inc()
}

func (m *Metrics) consumed(msgType string) {
	if m == nil {
		return
	}
	m.ConsumedTotal.WithLabelValues(msgType).Inc()
}

func (m *Metrics) handlerCall(funcName string, started time.Time) {
	if m == nil {
		return
	}
	m.HandlerDuration.WithLabelValues(funcName).Observe(time.Since(started).Seconds())
}
