package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DemandComputations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waterbudget_demand_computations_total",
			Help: "Total demand series computations by outcome",
		},
		[]string{"outcome"},
	)

	BulkReplaces = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waterbudget_bulk_replaces_total",
			Help: "Total yearly allocation replacements by outcome",
		},
		[]string{"outcome"},
	)

	AllocationRowsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "waterbudget_allocation_rows_written_total",
			Help: "Total crop allocation rows persisted",
		},
	)

	CurveLookupMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waterbudget_curve_lookup_misses_total",
			Help: "Readings whose gauge had no calibration curve point",
		},
		[]string{"kind"},
	)

	DashboardComposeLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "waterbudget_dashboard_compose_seconds",
			Help:    "Dashboard composition latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SufficiencyVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waterbudget_sufficiency_verdicts_total",
			Help: "Dashboard sufficiency verdicts issued",
		},
		[]string{"verdict"},
	)

	ReadingsImported = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waterbudget_readings_imported_total",
			Help: "Telemetry readings imported by kind and result",
		},
		[]string{"kind", "result"},
	)

	FTPFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waterbudget_ftp_fetches_total",
			Help: "Telemetry FTP file fetches by status",
		},
		[]string{"status"},
	)

	HTTPRequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "waterbudget_http_request_seconds",
			Help:    "API request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "status"},
	)
)
