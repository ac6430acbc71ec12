// Package metrics exposes fleetd's live operational gauges and counters,
// generalized from the provisioner's package-level Prometheus registry
// (internal/provisioner/metrics) from per-HTTP-request Redfish labels to
// per-device-class fleet labels. Only live state is exposed — there is no
// historical time-series store.
package metrics

import (
	"net/http"
	"strings"
	"sync"
	"unicode"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mu  sync.RWMutex
	reg *prometheus.Registry

	devicesByState   *prometheus.GaugeVec
	activeActionLoop *prometheus.GaugeVec
	adapterCalls     *prometheus.CounterVec
	adapterRetries   *prometheus.CounterVec
	busQueueDepth    prometheus.Gauge
	auditWrites      *prometheus.CounterVec
)

func init() {
	resetLocked()
}

// Reset clears and reinitializes all collectors; used by tests for clean
// state between runs.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	resetLocked()
}

// Handler exposes the registry in Prometheus text format.
func Handler() http.Handler {
	mu.RLock()
	registry := reg
	mu.RUnlock()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// SetDevicesByState replaces the device-count gauge for one (class, state)
// pair. The manager recomputes this after every inventory sync and update
// tick.
func SetDevicesByState(class, state string, count int) {
	mu.RLock()
	defer mu.RUnlock()
	if devicesByState != nil {
		devicesByState.WithLabelValues(sanitizeLabel(class, "unknown"), sanitizeLabel(state, "unknown")).Set(float64(count))
	}
}

// SetActiveActionLoops records how many wake/shutdown/reboot loops are
// currently alive for a device class.
func SetActiveActionLoops(class, action string, count int) {
	mu.RLock()
	defer mu.RUnlock()
	if activeActionLoop != nil {
		activeActionLoop.WithLabelValues(sanitizeLabel(class, "unknown"), sanitizeLabel(action, "unknown")).Set(float64(count))
	}
}

// ObserveAdapterCall records one capability-adapter call outcome.
func ObserveAdapterCall(adapter, outcome string) {
	mu.RLock()
	defer mu.RUnlock()
	if adapterCalls != nil {
		adapterCalls.WithLabelValues(sanitizeLabel(adapter, "unknown"), sanitizeLabel(outcome, "unknown")).Inc()
	}
}

// IncAdapterRetry records one retry attempt within a target-driven action
// loop or deadline-bounded write.
func IncAdapterRetry(adapter, action string) {
	mu.RLock()
	defer mu.RUnlock()
	if adapterRetries != nil {
		adapterRetries.WithLabelValues(sanitizeLabel(adapter, "unknown"), sanitizeLabel(action, "unknown")).Inc()
	}
}

// SetBusQueueDepth reports how many publishes are queued while the bus is
// disconnected.
func SetBusQueueDepth(n int) {
	mu.RLock()
	defer mu.RUnlock()
	if busQueueDepth != nil {
		busQueueDepth.Set(float64(n))
	}
}

// IncAuditWrite records one command audit log write, successful or not.
func IncAuditWrite(outcome string) {
	mu.RLock()
	defer mu.RUnlock()
	if auditWrites != nil {
		auditWrites.WithLabelValues(sanitizeLabel(outcome, "unknown")).Inc()
	}
}

func resetLocked() {
	registry := prometheus.NewRegistry()

	byState := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "fleetd",
		Name:      "devices_by_state",
		Help:      "Current number of devices in each (class, is_online) pairing.",
	}, []string{"class", "state"})

	actionLoops := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "fleetd",
		Name:      "active_action_loops",
		Help:      "Currently alive target-driven action loops by (class, action).",
	}, []string{"class", "action"})

	calls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleetd",
		Name:      "adapter_calls_total",
		Help:      "Total capability adapter calls by (adapter, outcome).",
	}, []string{"adapter", "outcome"})

	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleetd",
		Name:      "adapter_retries_total",
		Help:      "Total retry attempts within action loops by (adapter, action).",
	}, []string{"adapter", "action"})

	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fleetd",
		Name:      "bus_publish_queue_depth",
		Help:      "Number of outbound bus publishes queued while disconnected.",
	})

	audit := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleetd",
		Name:      "audit_writes_total",
		Help:      "Total audit log writes by outcome.",
	}, []string{"outcome"})

	registry.MustRegister(byState, actionLoops, calls, retries, queueDepth, audit)

	reg = registry
	devicesByState = byState
	activeActionLoop = actionLoops
	adapterCalls = calls
	adapterRetries = retries
	busQueueDepth = queueDepth
	auditWrites = audit
}

func sanitizeLabel(v, fallback string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback
	}
	var b strings.Builder
	for _, r := range v {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ':' || r == '.' || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}
