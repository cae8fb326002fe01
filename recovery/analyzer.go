package recovery

import (
	"errors"
	"math/big"
	"sort"
	"strings"

	"github.com/0xPolygonHermez/zkevm-txqueue/types"
	"github.com/benbjohnson/clock"
)

// AnalysisContext is the network state known when a failure is analyzed
type AnalysisContext struct {
	// MinFeePerGas is the fee the network currently accepts, nil if unknown
	MinFeePerGas *big.Int
	// NextNonce is the pending nonce of the sender, nil if unknown
	NextNonce *uint64
}

type failurePatterns struct {
	reason   types.FailureReason
	patterns []string
}

// checked in order, the first match wins
var classification = []failurePatterns{
	{types.FailureNonceConflict, []string{"nonce too low", "nonce too high", "already known", "replaced", "nonce has already been used", "invalid nonce"}},
	{types.FailureUnderpriced, []string{"underpriced", "fee too low", "gas price too low", "max fee per gas less than block base fee", "fee cap less than", "below minimum"}},
	{types.FailureOutOfGas, []string{"out of gas", "intrinsic gas too low", "gas required exceeds allowance", "gas limit reached"}},
	{types.FailureReverted, []string{"execution reverted", "reverted", "invalid opcode"}},
	{types.FailureUserRejected, []string{"user rejected", "user denied", "rejected by user", "cancelled by user"}},
	{types.FailureNetworkError, []string{"connection refused", "connection reset", "no such host", "eof", "no response", "network", "503", "502", "too many requests", "rate limit"}},
	{types.FailureTimeout, []string{"timeout", "timed out", "deadline exceeded", "dropped"}},
}

// Analyzer classifies failures and proposes the strategies to recover them
type Analyzer struct {
	cfg   Config
	clock clock.Clock
}

// NewAnalyzer creates an analyzer
func NewAnalyzer(cfg Config, clk clock.Clock) *Analyzer {
	return &Analyzer{cfg: cfg, clock: clk}
}

// Classify returns the failure reason of err, the pipeline errors are
// checked first and then the message of the error
func Classify(err error) types.FailureReason {
	if err == nil {
		return types.FailureUnknown
	}

	var revertErr *types.RevertError
	switch {
	case errors.As(err, &revertErr) && revertErr.OutOfGas():
		return types.FailureOutOfGas
	case errors.Is(err, types.ErrReverted):
		return types.FailureReverted
	case errors.Is(err, types.ErrSigningDenied):
		return types.FailureUserRejected
	case errors.Is(err, types.ErrSigningUnavailable):
		return types.FailureNetworkError
	case errors.Is(err, types.ErrTimedOut), errors.Is(err, types.ErrDropped):
		return types.FailureTimeout
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "insufficient funds") {
		return types.FailureUnknown
	}
	for _, c := range classification {
		for _, p := range c.patterns {
			if strings.Contains(msg, p) {
				return c.reason
			}
		}
	}
	return types.FailureUnknown
}

// restoredError is the failure of a tx known only by its stored error, the
// message is kept and the pipeline error is rebuilt from the stored kind
type restoredError struct {
	kind error
	msg  string
}

func (e *restoredError) Error() string { return e.msg }

func (e *restoredError) Unwrap() error { return e.kind }

func restoredFailure(tx *types.QueuedTransaction) error {
	if kind := types.ErrorFromKind(tx.ErrorKind); kind != nil {
		return &restoredError{kind: kind, msg: tx.Error}
	}
	return errors.New(tx.Error)
}

// Analyze builds the failure record of a failed tx. The record is keyed by
// the hash if the tx reached the network, by the tx id otherwise
func (a *Analyzer) Analyze(tx *types.QueuedTransaction, failure error, actx AnalysisContext) *types.FailedTransaction {
	if failure == nil {
		failure = restoredFailure(tx)
	}

	f := &types.FailedTransaction{
		Key:           failureKey(tx),
		Hash:          tx.Hash,
		TxID:          tx.ID,
		From:          tx.From,
		ChainID:       tx.ChainID,
		Transaction:   tx.Copy(),
		FailureReason: Classify(failure),
		RawError:      failure.Error(),
		AnalyzedAt:    a.clock.Now(),
	}
	f.Strategies = a.strategies(f.FailureReason, tx, failure, actx)
	f.CanRecover = len(f.Strategies) > 0
	if f.CanRecover {
		f.SuggestedFix = f.Strategies[0].Copy()
		f.Status = types.RecoveryStatusAvailable
	} else {
		f.Status = types.RecoveryStatusAnalysisComplete
	}
	return f
}

func failureKey(tx *types.QueuedTransaction) string {
	if tx.HasHash() {
		return tx.Hash.Hex()
	}
	return tx.ID
}

// strategies returns the candidates of the reason ranked by confidence, ties go to the cheaper one
func (a *Analyzer) strategies(reason types.FailureReason, tx *types.QueuedTransaction, failure error, actx AnalysisContext) []types.RecoveryStrategy {
	var candidates []types.RecoveryStrategy
	add := func(s *types.RecoveryStrategy) {
		if s == nil {
			return
		}
		s.EstimatedCost = estimateCost(s, tx, actx)
		candidates = append(candidates, *s)
	}

	switch reason {
	case types.FailureNonceConflict:
		add(&types.RecoveryStrategy{
			Type:        types.StrategyFixNonce,
			Title:       "Resubmit with the next nonce",
			Description: "the nonce was already used or is ahead of the account, the tx is sent again with the pending nonce of the network",
			Confidence:  90,
			Nonce:       copyNonce(actx.NextNonce),
		})
	case types.FailureUnderpriced:
		add(a.bumpFee(tx, actx, 90))
	case types.FailureOutOfGas:
		if tx.Payload.GasLimit == 0 {
			break
		}
		add(&types.RecoveryStrategy{
			Type:        types.StrategyIncreaseGasLimit,
			Title:       "Increase the gas limit",
			Description: "the gas limit was not enough to execute the tx",
			Confidence:  85,
			BumpPercent: a.cfg.GasLimitBumpPercent,
		})
	case types.FailureTimeout:
		add(a.bumpFee(tx, actx, 75))
		add(&types.RecoveryStrategy{
			Type:        types.StrategyResubmit,
			Title:       "Resubmit",
			Description: "the tx was not confirmed in time, it's sent again unchanged",
			Confidence:  40,
		})
	case types.FailureNetworkError:
		add(&types.RecoveryStrategy{
			Type:                 types.StrategyResubmit,
			Title:                "Resubmit",
			Description:          "the network or the signer could not be reached, the tx is sent again unchanged",
			Confidence:           80,
			RequiresConfirmation: errors.Is(failure, types.ErrSigningUnavailable),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence > candidates[j].Confidence
		}
		return candidates[i].EstimatedCost.Cmp(candidates[j].EstimatedCost) < 0
	})
	return candidates
}

// bumpFee returns nil when there is no fee to bump and no network minimum to start from
func (a *Analyzer) bumpFee(tx *types.QueuedTransaction, actx AnalysisContext, confidence int) *types.RecoveryStrategy {
	if tx.Payload.GasPrice == nil && tx.Payload.GasFeeCap == nil && actx.MinFeePerGas == nil {
		return nil
	}
	return &types.RecoveryStrategy{
		Type:        types.StrategyBumpFee,
		Title:       "Bump the fee",
		Description: "the fee was below what the network accepts, the tx is sent again with a higher fee",
		Confidence:  confidence,
		BumpPercent: a.cfg.FeeBumpPercent,
	}
}

func estimateCost(s *types.RecoveryStrategy, tx *types.QueuedTransaction, actx AnalysisContext) *big.Int {
	payload, err := ApplyStrategy(s, tx.Payload, actx)
	if err != nil {
		return tx.Payload.MaxCost()
	}
	return payload.MaxCost()
}

func copyNonce(n *uint64) *uint64 {
	if n == nil {
		return nil
	}
	c := *n
	return &c
}
