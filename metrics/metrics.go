package metrics

import "time"

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
}

// Counter names.
const (
	FetchSucceeded   = "fetch_succeeded"
	FetchFailed      = "fetch_failed"
	TickDropped      = "tick_dropped"
	InvariantBroken  = "invariant_broken"
	ActionSucceeded  = "action_succeeded"
	ActionFailed     = "action_failed"
	ActionRejected   = "action_busy"
	WatchdogFired    = "watchdog_fired"
	EventPublished   = "event_published"
	EventPublishFail = "event_publish_failed"
)

// Latency operation names.
const (
	OpFetchActive = "fetch_active"
	OpFetchRecent = "fetch_recent"
	OpAction      = "action"
	OpConfirm     = "confirm"
)

// Gauge names.
const (
	GaugeActiveTransaction   = "active_transaction_id"
	GaugeConsecutiveFailures = "consecutive_failures"
)
