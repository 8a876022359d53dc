// Package metrics exports publish and consume statistics to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements middleware.MetricsCollector and core.SendObserver.
type Collector struct {
	processed         *prometheus.CounterVec
	processedDuration *prometheus.HistogramVec
	sent              *prometheus.CounterVec
	sentDuration      *prometheus.HistogramVec
}

// NewCollector registers the bridge's metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		processed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafkabridge_messages_processed_total",
				Help: "Total number of consumed messages by destination and outcome",
			},
			[]string{"topic", "status"},
		),
		processedDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kafkabridge_message_processing_duration_seconds",
				Help:    "Time spent in message handlers",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"topic"},
		),
		sent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafkabridge_messages_sent_total",
				Help: "Total number of published messages by destination and outcome",
			},
			[]string{"topic", "status"},
		),
		sentDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kafkabridge_send_duration_seconds",
				Help:    "Time from send to broker acknowledgement",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"topic"},
		),
	}
}

// MessageProcessed records one handler invocation.
func (c *Collector) MessageProcessed(topic string, duration time.Duration, err error) {
	c.processed.WithLabelValues(topic, status(err)).Inc()
	c.processedDuration.WithLabelValues(topic).Observe(duration.Seconds())
}

// MessageSent records one resolved send.
func (c *Collector) MessageSent(destination string, duration time.Duration, err error) {
	c.sent.WithLabelValues(destination, status(err)).Inc()
	c.sentDuration.WithLabelValues(destination).Observe(duration.Seconds())
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
