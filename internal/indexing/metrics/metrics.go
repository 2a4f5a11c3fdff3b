package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ScannerCycles tracks completed scanner cycles
	ScannerCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "questwatch_scanner_cycles_total",
			Help: "Total number of scanner cycles",
		},
		[]string{"result"},
	)

	// TaskScanErrors tracks per-task scan failures
	TaskScanErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "questwatch_task_scan_errors_total",
			Help: "Total number of task scans abandoned for a cycle",
		},
		[]string{"task", "stage"},
	)

	// LogsFetched tracks logs returned by the chain per task
	LogsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "questwatch_logs_fetched_total",
			Help: "Total number of logs fetched",
		},
		[]string{"task"},
	)

	// LogsSkipped tracks logs that could not be decoded
	LogsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "questwatch_logs_skipped_total",
			Help: "Total number of undecodable logs",
		},
		[]string{"task"},
	)

	// TaskEventsRecorded tracks verified event writes by outcome
	TaskEventsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "questwatch_task_events_recorded_total",
			Help: "Total number of verified task event writes",
		},
		[]string{"result"}, // inserted, duplicate
	)

	// ChainLatestBlock tracks the latest block height of the chain
	ChainLatestBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "questwatch_chain_latest_block",
			Help: "Latest block height of the chain",
		},
		[]string{"chain"},
	)

	// TaskCursorBlock tracks the last scanned block per task
	TaskCursorBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "questwatch_task_cursor_block",
			Help: "Last block scanned for a task",
		},
		[]string{"task"},
	)

	// ClaimsSettled tracks claims driven to a terminal state
	ClaimsSettled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "questwatch_claims_settled_total",
			Help: "Total number of claims settled",
		},
		[]string{"status", "reason"},
	)

	// TransferLatency tracks token transfer time including confirmation
	TransferLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "questwatch_transfer_latency_seconds",
			Help:    "Token transfer latency in seconds, submit to receipt",
			Buckets: []float64{1, 2, 5, 10, 30, 60, 120, 300},
		},
	)

	// PendingClaims tracks the claim queue depth
	PendingClaims = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "questwatch_pending_claims",
			Help: "Number of claims waiting for payout",
		},
	)

	// DBPoolUsage tracks open connections as a percentage of the pool
	DBPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "questwatch_db_pool_usage_percent",
			Help: "Database pool usage percentage",
		},
	)
)
