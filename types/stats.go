package types

import "time"

// QueueStats is a snapshot of the queue counters
type QueueStats struct {
	Total    int              `json:"total"`
	ByStatus map[TxStatus]int `json:"byStatus"`
	InFlight int              `json:"inFlight"`
	// AverageConfirmationTime is measured from enqueue to confirmation
	AverageConfirmationTime time.Duration `json:"averageConfirmationTime"`
	AverageRetryCount       float64       `json:"averageRetryCount"`
	// SuccessRate is confirmed / (confirmed + failed), 0 when nothing finished
	SuccessRate float64 `json:"successRate"`
}
