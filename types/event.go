package types

import "time"

// EventType names a queue or recovery event
type EventType string

const (
	// EventTransactionAdded a tx was enqueued
	EventTransactionAdded EventType = "transaction_added"
	// EventTransactionSubmitted a tx was broadcast
	EventTransactionSubmitted EventType = "transaction_submitted"
	// EventTransactionConfirmed a tx was confirmed
	EventTransactionConfirmed EventType = "transaction_confirmed"
	// EventTransactionFailed a tx failed
	EventTransactionFailed EventType = "transaction_failed"
	// EventTransactionRetry a recovery tx was enqueued for a failed tx
	EventTransactionRetry EventType = "transaction_retry"
	// EventTransactionCancelled a tx was cancelled
	EventTransactionCancelled EventType = "transaction_cancelled"
	// EventPriorityBoosted a queued tx was promoted by aging
	EventPriorityBoosted EventType = "priority_boosted"
	// EventAnalysisComplete a failure was classified
	EventAnalysisComplete EventType = "analysis_complete"
	// EventRecoveryStarted a recovery was executed
	EventRecoveryStarted EventType = "recovery_started"
	// EventRecoverySuccess the recovery tx was confirmed
	EventRecoverySuccess EventType = "recovery_success"
	// EventRecoveryFailed the recovery tx failed
	EventRecoveryFailed EventType = "recovery_failed"
)

// Event is published on every observable change of the queue or the recovery engine
type Event struct {
	Type        EventType          `json:"type"`
	Time        time.Time          `json:"time"`
	Transaction *QueuedTransaction `json:"transaction,omitempty"`
	Failure     *FailedTransaction `json:"failure,omitempty"`
	// PreviousPriority is set for priority_boosted events
	PreviousPriority Priority `json:"previousPriority,omitempty"`
}
