// Package metrics defines and registers all custom Prometheus metrics for the
// marketplace session core. It is the single source of truth for metric names,
// labels, and help strings.
//
// Metrics are registered with the default Prometheus registry on package
// initialisation through promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "session"

// ── Role resolution ───────────────────────────────────────────────────────────

// RoleResolutionsTotal counts settled resolutions.
// Labels:
//   - role: the published role
//   - source: "specialist", "generic", "allowlist", "default", "cache"
var RoleResolutionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "role_resolutions_total",
		Help:      "Total number of role resolutions, by resolved role and deciding source.",
	},
	[]string{"role", "source"},
)

// LookupFailuresTotal counts failed store lookups during resolution.
// Label:
//   - table: "landscapers" or "users"
var LookupFailuresTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lookup_failures_total",
		Help:      "Total number of profile lookups that failed during role resolution.",
	},
	[]string{"table"},
)

// RoleInconsistencyTotal counts generic profiles claiming landscaper without a
// specialist record behind them.
var RoleInconsistencyTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "role_inconsistency_total",
		Help:      "Generic profiles claiming the landscaper role with no specialist record.",
	},
)

// RoleCacheOverridesTotal counts cached roles replaced by a specialist check.
var RoleCacheOverridesTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "role_cache_overrides_total",
		Help:      "Cached client/admin roles overridden because a specialist record exists.",
	},
)

// ResolutionTimeoutsTotal counts resolutions forced to the client fallback.
var ResolutionTimeoutsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "resolution_timeouts_total",
		Help:      "Resolutions that did not settle in time and fell back to client.",
	},
)

// ResolutionDuration measures time from transition to settled role.
var ResolutionDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "resolution_duration_seconds",
		Help:      "Duration of role resolution from auth transition to settled role.",
		Buckets:   prometheus.DefBuckets,
	},
)

// ── Reconciliation ────────────────────────────────────────────────────────────

// ReconciliationsTotal counts background record reconciliations.
// Label:
//   - result: "created", "noop", "skipped", "error"
var ReconciliationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconciliations_total",
		Help:      "Total number of record reconciliations, by result.",
	},
	[]string{"result"},
)

// RecoveryTriggersTotal counts session recovery triggers.
// Label:
//   - outcome: "started", "debounced", "in_flight"
var RecoveryTriggersTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "recovery_triggers_total",
		Help:      "Session recovery triggers, by outcome.",
	},
	[]string{"outcome"},
)

// ── Realtime ──────────────────────────────────────────────────────────────────

// ChangeEventsTotal counts normalised change events delivered to handlers.
// Labels:
//   - table: source table
//   - event: INSERT, UPDATE or DELETE
var ChangeEventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "change_events_total",
		Help:      "Total number of change events delivered, by table and event type.",
	},
	[]string{"table", "event"},
)

// ChangeEventsDroppedTotal counts raw changes that never reached a handler.
// Label:
//   - reason: "malformed", "filtered", "inactive", "stopped"
var ChangeEventsDroppedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "change_events_dropped_total",
		Help:      "Total number of change events dropped before delivery, by reason.",
	},
	[]string{"reason"},
)

// SubscriptionsActive tracks currently registered channels.
var SubscriptionsActive = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "subscriptions_active",
		Help:      "Number of channels currently registered.",
	},
)

// SubscriptionFailuresTotal counts failed or dropped channel opens.
var SubscriptionFailuresTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "subscription_failures_total",
		Help:      "Total number of change feed channels that failed to open or dropped.",
	},
)

// DeliveryQueueDepth tracks pending deliveries in each dispatcher worker.
// Label:
//   - worker_id: numeric worker index
var DeliveryQueueDepth = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "delivery_queue_depth",
		Help:      "Current number of deliveries pending in each dispatcher worker channel.",
	},
	[]string{"worker_id"},
)
