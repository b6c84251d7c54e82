// Package metrics defines the Prometheus vectors Leo exposes, following the
// namespace + newCounterVec/newSummaryVec/newGaugeVec convention of the
// content-tree server this engine grew out of.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "leo"

	labelOp      = "op"
	labelBackend = "backend"
	labelOutcome = "outcome"
	labelIndexer = "indexer"
)

var (
	// StoreOpCounter counts every SecureStore operation by op and outcome.
	StoreOpCounter = newCounterVec(
		"store_op_count",
		"Count of SecureStore operations by op and outcome",
		labelOp, labelBackend, labelOutcome,
	)
	// StoreOpDuration observes wall time for SecureStore operations.
	StoreOpDuration = newSummaryVec(
		"store_op_duration_seconds",
		"Seconds spent inside each SecureStore operation",
		labelOp, labelBackend,
	)
	// LockConflictCounter counts Lock calls that found the lease already held.
	LockConflictCounter = newCounterVec(
		"lock_conflict_count",
		"Number of Lock attempts that found the lease already held",
		labelBackend,
	)
	// LockAcquiredCounter counts successful Lock acquisitions.
	LockAcquiredCounter = newCounterVec(
		"lock_acquired_count",
		"Number of Lock attempts that acquired the lease",
		labelBackend,
	)
	// DispatchCounter counts index-listener dispatch outcomes.
	DispatchCounter = newCounterVec(
		"dispatch_count",
		"Count of index listener dispatch attempts by indexer and outcome",
		labelIndexer, labelOutcome,
	)
	// InFlightGauge tracks the current number of logical keys being processed
	// by the index listener scheduler.
	InFlightGauge = newGaugeVec(
		"dispatch_in_flight",
		"Number of logical keys currently being dispatched",
	)
	// QueueRedeliveredCounter counts messages that were not acked and are
	// expected to redeliver.
	QueueRedeliveredCounter = newCounterVec(
		"queue_redelivered_count",
		"Count of messages left unacked for at-least-once redelivery",
	)
)

func newSummaryVec(name, help string, labels ...string) *prometheus.SummaryVec {
	vec := prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, labels)
	prometheus.MustRegister(vec)
	return vec
}

func newCounterVec(name, help string, labels ...string) *prometheus.CounterVec {
	vec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, labels)
	prometheus.MustRegister(vec)
	return vec
}

func newGaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	vec := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, labels)
	prometheus.MustRegister(vec)
	return vec
}
