// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PacketsInspectedTotal counts packets handed to the inspector by path
	PacketsInspectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leakwatch_packets_inspected_total",
			Help: "Total number of packets inspected",
		},
		[]string{"path"}, // datagram | decrypted
	)

	// VerdictsTotal counts inspection outcomes
	VerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leakwatch_verdicts_total",
			Help: "Total number of packet verdicts by outcome",
		},
		[]string{"verdict"},
	)

	// PacketErrorsTotal counts packets that could not be parsed
	PacketErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leakwatch_packet_errors_total",
			Help: "Total number of packets skipped because of parse errors",
		},
		[]string{"reason"}, // malformed | unknown_protocol
	)

	// LeaksTotal counts leak records by the action applied
	LeaksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leakwatch_leaks_total",
			Help: "Total number of leaks detected by action",
		},
		[]string{"action"},
	)

	// NotificationsTotal counts decision prompts emitted for unresolved leaks
	NotificationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leakwatch_notifications_total",
			Help: "Total number of leak notification requests emitted",
		},
	)

	// AutomatonRebuildsTotal counts pattern automaton rebuilds
	AutomatonRebuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leakwatch_automaton_rebuilds_total",
			Help: "Total number of pattern automaton rebuilds by result",
		},
		[]string{"result"},
	)

	// AutomatonPatterns tracks the pattern count of the published automaton
	AutomatonPatterns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leakwatch_automaton_patterns",
			Help: "Number of patterns in the published automaton",
		},
	)

	// ScanLatencySeconds measures scan plus decision time per packet
	ScanLatencySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "leakwatch_scan_latency_seconds",
			Help:    "Latency of scan and leak decision per packet in seconds",
			Buckets: prometheus.ExponentialBuckets(0.000001, 2, 20), // 1µs to ~1s
		},
	)

	// ReassemblyEntries tracks tracked outbound TCP connections
	ReassemblyEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leakwatch_reassembly_entries",
			Help: "Number of outbound TCP connections with reassembly state",
		},
	)

	// CapturePacketsTotal counts packets written to capture files
	CapturePacketsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leakwatch_capture_packets_total",
			Help: "Total number of packets appended to capture files",
		},
	)

	// CaptureErrorsTotal counts failed capture writes
	CaptureErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leakwatch_capture_errors_total",
			Help: "Total number of capture file write errors",
		},
	)

	// LeakLogDroppedTotal counts leak log entries dropped on a full partition
	LeakLogDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leakwatch_leak_log_dropped_total",
			Help: "Total number of leak log entries dropped because a partition queue was full",
		},
	)

	// LeakLogSinkErrorsTotal counts sink write errors
	LeakLogSinkErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leakwatch_leak_log_sink_errors_total",
			Help: "Total number of leak log sink errors",
		},
		[]string{"sink"},
	)
)
