package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// FailureReason is the classification of a failed transaction
type FailureReason string

const (
	// FailureNonceConflict nonce too low/high or already used
	FailureNonceConflict FailureReason = "NONCE_CONFLICT"
	// FailureUnderpriced fee below what the network accepts
	FailureUnderpriced FailureReason = "UNDERPRICED"
	// FailureOutOfGas gas limit not enough to execute
	FailureOutOfGas FailureReason = "OUT_OF_GAS"
	// FailureReverted execution reverted
	FailureReverted FailureReason = "REVERTED"
	// FailureUserRejected the signature was refused
	FailureUserRejected FailureReason = "USER_REJECTED"
	// FailureNetworkError transport level failure
	FailureNetworkError FailureReason = "NETWORK_ERROR"
	// FailureTimeout not confirmed in time or dropped
	FailureTimeout FailureReason = "TIMEOUT"
	// FailureUnknown anything else
	FailureUnknown FailureReason = "UNKNOWN"
)

// RecoveryStatus is the status of the recovery of a failed transaction
type RecoveryStatus string

const (
	// RecoveryStatusAnalysisComplete analysis done and there is nothing to recover
	RecoveryStatusAnalysisComplete RecoveryStatus = "ANALYSIS_COMPLETE"
	// RecoveryStatusAvailable a suggested fix can be executed
	RecoveryStatusAvailable RecoveryStatus = "RECOVERY_AVAILABLE"
	// RecoveryStatusInProgress a recovery tx is in the queue
	RecoveryStatusInProgress RecoveryStatus = "RECOVERY_IN_PROGRESS"
	// RecoveryStatusSuccess the recovery tx was confirmed
	RecoveryStatusSuccess RecoveryStatus = "RECOVERY_SUCCESS"
	// RecoveryStatusFailed the last recovery tx failed too
	RecoveryStatusFailed RecoveryStatus = "RECOVERY_FAILED"
)

// StrategyType identifies the transformation applied to a failed transaction
type StrategyType string

const (
	// StrategyBumpFee resubmits with a higher fee
	StrategyBumpFee StrategyType = "bump-fee"
	// StrategyFixNonce resubmits with a fresh nonce
	StrategyFixNonce StrategyType = "fix-nonce"
	// StrategyIncreaseGasLimit resubmits with a higher gas limit
	StrategyIncreaseGasLimit StrategyType = "increase-gas-limit"
	// StrategyResubmit resubmits the same payload
	StrategyResubmit StrategyType = "resubmit-as-is"
)

// RecoveryStrategy is a candidate fix for a failed transaction
type RecoveryStrategy struct {
	Type        StrategyType `json:"type"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	// EstimatedCost is the max cost in wei of the resubmitted tx
	EstimatedCost *big.Int `json:"estimatedCost"`
	// Confidence 0-100
	Confidence int `json:"confidence"`
	// BumpPercent is the increase applied to the fee or the gas limit
	BumpPercent uint64 `json:"bumpPercent,omitempty"`
	// Nonce to use when fixing the nonce, nil means resolve it again from the network
	Nonce                *uint64 `json:"nonce,omitempty"`
	RequiresConfirmation bool    `json:"requiresConfirmation"`
}

// Copy returns a deep copy of the strategy
func (s *RecoveryStrategy) Copy() *RecoveryStrategy {
	if s == nil {
		return nil
	}
	c := *s
	c.EstimatedCost = copyBig(s.EstimatedCost)
	if s.Nonce != nil {
		nonce := *s.Nonce
		c.Nonce = &nonce
	}
	return &c
}

// RecoveryAttempt is the record of one executed recovery
type RecoveryAttempt struct {
	Strategy  StrategyType `json:"strategy"`
	TxID      string       `json:"txId"`
	StartedAt time.Time    `json:"startedAt"`
	EndedAt   time.Time    `json:"endedAt"`
	NewHash   common.Hash  `json:"newHash"`
	Error     string       `json:"error,omitempty"`
}

// FailedTransaction is the analysis of a failure and the recovery bookkeeping of it
type FailedTransaction struct {
	// Key is the tx hash when the tx reached the network, the queued tx id otherwise
	Key           string             `json:"key"`
	Hash          common.Hash        `json:"hash"`
	TxID          string             `json:"txId"`
	From          common.Address     `json:"from"`
	ChainID       uint64             `json:"chainId"`
	Transaction   *QueuedTransaction `json:"transaction"`
	FailureReason FailureReason      `json:"failureReason"`
	RawError      string             `json:"rawError"`
	CanRecover    bool               `json:"canRecover"`
	SuggestedFix  *RecoveryStrategy  `json:"suggestedFix,omitempty"`
	Strategies    []RecoveryStrategy `json:"strategies,omitempty"`
	Status        RecoveryStatus     `json:"recoveryStatus"`
	Attempts      []RecoveryAttempt  `json:"recoveryAttempts"`
	AnalyzedAt    time.Time          `json:"analyzedAt"`
}

// Strategy returns the candidate of the given type
func (f *FailedTransaction) Strategy(t StrategyType) (*RecoveryStrategy, bool) {
	for i := range f.Strategies {
		if f.Strategies[i].Type == t {
			return &f.Strategies[i], true
		}
	}
	return nil, false
}

// LastAttempt returns the most recent attempt or nil
func (f *FailedTransaction) LastAttempt() *RecoveryAttempt {
	if len(f.Attempts) == 0 {
		return nil
	}
	return &f.Attempts[len(f.Attempts)-1]
}

// Copy returns a deep copy of the record
func (f *FailedTransaction) Copy() *FailedTransaction {
	c := *f
	if f.Transaction != nil {
		c.Transaction = f.Transaction.Copy()
	}
	c.SuggestedFix = f.SuggestedFix.Copy()
	if f.Strategies != nil {
		c.Strategies = make([]RecoveryStrategy, len(f.Strategies))
		for i := range f.Strategies {
			c.Strategies[i] = *f.Strategies[i].Copy()
		}
	}
	if f.Attempts != nil {
		c.Attempts = make([]RecoveryAttempt, len(f.Attempts))
		copy(c.Attempts, f.Attempts)
	}
	return &c
}
