package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the vault engine.
type Metrics struct {
	// --- Engine operations ---
	OpsApplied     *prometheus.CounterVec
	OpsRejected    *prometheus.CounterVec
	OpDuration     *prometheus.HistogramVec
	EngineSequence prometheus.Gauge

	// --- Risk ---
	Liquidations       *prometheus.CounterVec
	CollateralSeized   *prometheus.CounterVec
	HealthChecksFailed prometheus.Counter
	StalePrices        *prometheus.CounterVec

	// --- Outbound & persistence ---
	EventsPublished prometheus.Counter
	PublishDrops    prometheus.Counter
	PersistWritten  prometheus.Counter
	PersistErrors   *prometheus.CounterVec
	SnapshotTaken   prometheus.Counter
	SnapshotLastSeq prometheus.Gauge

	// --- HTTP API ---
	APIRequests *prometheus.CounterVec
	APIDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	opBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		OpsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_engine_ops_applied_total",
			Help: "Engine operations that committed",
		}, []string{"op"}),

		OpsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_engine_ops_rejected_total",
			Help: "Engine operations rolled back (validation, balance, risk, collaborator, stale)",
		}, []string{"op", "reason"}),

		OpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "synth_engine_op_duration_seconds",
			Help:    "Time to execute one engine operation",
			Buckets: opBuckets,
		}, []string{"op"}),

		EngineSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "synth_engine_sequence",
			Help: "Current engine event sequence",
		}),

		Liquidations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_liquidations_total",
			Help: "Completed liquidations",
		}, []string{"asset"}),

		CollateralSeized: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_collateral_seized_units_total",
			Help: "Collateral seized by liquidations (whole units, floored)",
		}, []string{"asset"}),

		HealthChecksFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "synth_health_checks_failed_total",
			Help: "Operations rejected by the health-factor post-check",
		}),

		StalePrices: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_stale_prices_total",
			Help: "Operations failed closed on a stale oracle price",
		}, []string{"feed"}),

		EventsPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "synth_events_published_total",
			Help: "Events published to NATS",
		}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "synth_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		PersistWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "synth_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "synth_snapshot_taken_total",
			Help: "State snapshots created",
		}),

		SnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "synth_snapshot_last_sequence",
			Help: "Sequence of the last snapshot",
		}),

		APIRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_api_requests_total",
			Help: "HTTP API requests",
		}, []string{"route", "status"}),

		APIDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "synth_api_duration_seconds",
			Help:    "HTTP API latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"route"}),
	}
}
