package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName scopes all instruments emitted by this module.
const meterName = "github.com/flexiai/flexiai"

var (
	counterMu    sync.Mutex
	counterCache = make(map[string]metric.Float64Counter)
)

// recordCounter adds to a cached counter on the global meter provider.
// With no SDK meter provider installed this is a no-op, which keeps the
// dispatcher usable without a metrics pipeline.
func recordCounter(name string, value float64, labels map[string]string) {
	counterMu.Lock()
	counter, ok := counterCache[name]
	if !ok {
		var err error
		counter, err = otel.Meter(meterName).Float64Counter(name)
		if err != nil {
			counterMu.Unlock()
			return
		}
		counterCache[name] = counter
	}
	counterMu.Unlock()

	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	counter.Add(context.Background(), value, metric.WithAttributes(attrs...))
}

// BreakerMetrics implements resilience.MetricsCollector on OTel counters.
type BreakerMetrics struct{}

// NewBreakerMetrics creates the collector.
func NewBreakerMetrics() *BreakerMetrics {
	return &BreakerMetrics{}
}

func (m *BreakerMetrics) RecordSuccess(name string) {
	recordCounter("flexiai.breaker.success", 1, map[string]string{"breaker": name})
}

func (m *BreakerMetrics) RecordFailure(name string, errorKind string) {
	recordCounter("flexiai.breaker.failure", 1, map[string]string{
		"breaker":    name,
		"error_kind": errorKind,
	})
}

func (m *BreakerMetrics) RecordStateChange(name string, from, to string) {
	recordCounter("flexiai.breaker.transition", 1, map[string]string{
		"breaker": name,
		"from":    from,
		"to":      to,
	})
}

func (m *BreakerMetrics) RecordRejection(name string) {
	recordCounter("flexiai.breaker.rejection", 1, map[string]string{"breaker": name})
}
