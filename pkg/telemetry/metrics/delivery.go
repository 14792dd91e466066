package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DeliveryMetrics tracks remote telemetry delivery.
//
// Metrics:
//   - cylestio_delivery_total: Delivery attempts by outcome
//   - cylestio_delivery_queue_depth: Events waiting to be sent
//   - cylestio_delivery_dropped_total: Events dropped because the queue was full
type DeliveryMetrics struct {
	deliveryTotal *prometheus.CounterVec
	queueDepth    prometheus.Gauge
	droppedTotal  prometheus.Counter
}

// NewDeliveryMetrics creates and registers delivery metrics with the provided registry.
func NewDeliveryMetrics(namespace string, registry *prometheus.Registry) *DeliveryMetrics {
	dm := &DeliveryMetrics{
		deliveryTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "delivery_total",
				Help:      "Total number of delivery outcomes",
			},
			[]string{"outcome"},
		),

		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "delivery_queue_depth",
				Help:      "Number of events waiting for delivery",
			},
		),

		droppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "delivery_dropped_total",
				Help:      "Total number of events dropped by a full delivery queue",
			},
		),
	}

	registry.MustRegister(
		dm.deliveryTotal,
		dm.queueDepth,
		dm.droppedTotal,
	)

	return dm
}
