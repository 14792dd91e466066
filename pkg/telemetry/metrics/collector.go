package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cylestio/cylestio-monitor/pkg/config"
)

// maxPatternLabels bounds the number of distinct pattern label values.
const maxPatternLabels = 500

// Collector records every monitor metric into one Prometheus registry.
//
// All Record methods are safe on a nil *Collector, so components can be
// built without metrics.
type Collector struct {
	config   config.MetricsConfig
	registry *prometheus.Registry

	detection *DetectionMetrics
	storage   *StorageMetrics
	delivery  *DeliveryMetrics

	// patterns limits the pattern label of rules_skipped_total.
	patterns *CardinalityLimiter
}

// NewCollector creates a collector. If registry is nil, a new registry is
// created.
//
// Example:
//
//	collector := metrics.NewCollector(cfg.Telemetry.Metrics, nil)
//	http.Handle("/metrics", collector.Handler())
func NewCollector(cfg config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}

	return &Collector{
		config:    cfg,
		registry:  registry,
		detection: NewDetectionMetrics(cfg.Namespace, registry),
		storage:   NewStorageMetrics(cfg.Namespace, registry),
		delivery:  NewDeliveryMetrics(cfg.Namespace, registry),
		patterns:  NewCardinalityLimiter(maxPatternLabels),
	}
}

// RecordScan records one screened text field.
func (c *Collector) RecordScan() {
	if c == nil {
		return
	}
	c.detection.scansTotal.Inc()
}

// RecordMatch records a pattern match.
//
// Parameters:
//   - category: Pattern category (e.g., "sensitive_data", "dangerous_commands")
//   - severity: Pattern severity ("low", "medium", "high")
func (c *Collector) RecordMatch(category, severity string) {
	if c == nil {
		return
	}
	c.detection.matchesTotal.WithLabelValues(category, severity).Inc()
}

// RecordClassification records the alert level of a screened event.
func (c *Collector) RecordClassification(alertLevel string) {
	if c == nil {
		return
	}
	c.detection.classificationsTotal.WithLabelValues(alertLevel).Inc()
}

// RecordBlocked records a blocked call.
func (c *Collector) RecordBlocked() {
	if c == nil {
		return
	}
	c.detection.blockedTotal.Inc()
}

// RecordRuleSkipped records a rule skipped by the scan budget. Pattern ids
// beyond the cardinality limit are aggregated into "other".
func (c *Collector) RecordRuleSkipped(patternID string) {
	if c == nil {
		return
	}
	if !c.patterns.Allow(patternID) {
		patternID = "other"
	}
	c.detection.rulesSkippedTotal.WithLabelValues(patternID).Inc()
}

// RecordStoreWrite records an event write.
//
// Parameters:
//   - status: "success", "transient_error", "constraint_error" or "error"
//   - duration: Time spent in the write, including retries
func (c *Collector) RecordStoreWrite(status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.storage.writesTotal.WithLabelValues(status).Inc()
	c.storage.writeDuration.Observe(duration.Seconds())
}

// RecordRetentionDeleted records events deleted by retention.
func (c *Collector) RecordRetentionDeleted(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.storage.retentionDeleted.Add(float64(n))
}

// RecordIngest records a received record.
//
// Parameters:
//   - source: "api" or "spool"
//   - outcome: "stored", "invalid" or "error"
func (c *Collector) RecordIngest(source, outcome string) {
	if c == nil {
		return
	}
	c.storage.ingestTotal.WithLabelValues(source, outcome).Inc()
}

// RecordDelivery records a delivery outcome: "sent", "retry" or
// "undeliverable".
func (c *Collector) RecordDelivery(outcome string) {
	if c == nil {
		return
	}
	c.delivery.deliveryTotal.WithLabelValues(outcome).Inc()
}

// SetDeliveryQueueDepth updates the delivery queue gauge.
func (c *Collector) SetDeliveryQueueDepth(n int) {
	if c == nil {
		return
	}
	c.delivery.queueDepth.Set(float64(n))
}

// RecordDeliveryDropped records an event dropped by a full queue.
func (c *Collector) RecordDeliveryDropped() {
	if c == nil {
		return
	}
	c.delivery.droppedTotal.Inc()
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// CardinalityLimiter prevents metric cardinality explosion by limiting
// the number of unique label values.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a new cardinality limiter with the specified
// maximum cardinality.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow checks if a label value is allowed. Returns true if the value
// already exists or if the limit has not been reached yet.
func (cl *CardinalityLimiter) Allow(label string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[label]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	// Double-check after acquiring write lock
	if _, exists := cl.current[label]; exists {
		return true
	}

	if len(cl.current) >= cl.maxCardinality {
		return false
	}

	cl.current[label] = struct{}{}
	return true
}

// Count returns the current cardinality.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
