package recovery

import (
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	cfgTypes "github.com/0xPolygonHermez/zkevm-txqueue/config/types"
	"github.com/0xPolygonHermez/zkevm-txqueue/types"
	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		RetryLimit:             2,
		BackoffBase:            cfgTypes.NewDuration(time.Second),
		BackoffMultiplier:      2,
		BackoffMax:             cfgTypes.NewDuration(10 * time.Second),
		AutoRecoverMaxCostGwei: 1000,
		FeeBumpPercent:         20,
		GasLimitBumpPercent:    50,
	}
}

func TestClassify(t *testing.T) {
	testCases := []struct {
		Err      error
		Expected types.FailureReason
	}{
		{errors.New("nonce too low: address 0x617b3a3528F9cDd6630fd3301B9c8911F7Bf063D, tx: 5 state: 7"), types.FailureNonceConflict},
		{fmt.Errorf("%w: already known", types.ErrSubmissionRejected), types.FailureNonceConflict},
		{errors.New("replacement transaction underpriced"), types.FailureUnderpriced},
		{errors.New("max fee per gas less than block base fee: address 0x1, maxFeePerGas: 1, baseFee: 7"), types.FailureUnderpriced},
		{errors.New("intrinsic gas too low: have 100, want 21000"), types.FailureOutOfGas},
		{&types.RevertError{GasUsed: 21000, GasLimit: 21000}, types.FailureOutOfGas},
		{&types.RevertError{GasUsed: 100, GasLimit: 21000}, types.FailureReverted},
		{errors.New("execution reverted: ERC20: transfer amount exceeds balance"), types.FailureReverted},
		{fmt.Errorf("%w: request refused", types.ErrSigningDenied), types.FailureUserRejected},
		{errors.New("MetaMask Tx Signature: User denied transaction signature."), types.FailureUserRejected},
		{fmt.Errorf("%w: keystore locked", types.ErrSigningUnavailable), types.FailureNetworkError},
		{errors.New("dial tcp 127.0.0.1:8545: connect: connection refused"), types.FailureNetworkError},
		{errors.New("429 Too Many Requests"), types.FailureNetworkError},
		{fmt.Errorf("%w: not confirmed after 5m0s", types.ErrTimedOut), types.FailureTimeout},
		{types.ErrDropped, types.FailureTimeout},
		{errors.New("context deadline exceeded"), types.FailureTimeout},
		{errors.New("insufficient funds for gas * price + value"), types.FailureUnknown},
		{errors.New("something unexpected"), types.FailureUnknown},
		{nil, types.FailureUnknown},
	}

	for _, tc := range testCases {
		name := "nil"
		if tc.Err != nil {
			name = tc.Err.Error()
		}
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.Expected, Classify(tc.Err))
		})
	}
}

func failedTx(err error) *types.QueuedTransaction {
	to := common.HexToAddress("0x1")
	nonce := uint64(5)
	return &types.QueuedTransaction{
		ID:      "tx-1",
		From:    common.HexToAddress("0x617b3a3528F9cDd6630fd3301B9c8911F7Bf063D"),
		ChainID: 1,
		Nonce:   &nonce,
		Payload: types.TxPayload{To: &to, GasLimit: 21000, GasPrice: big.NewInt(10_000_000_000)},
		Status:  types.TxStatusFailed,
		Error:   err.Error(),
	}
}

func TestAnalyzeNonceConflict(t *testing.T) {
	a := NewAnalyzer(testConfig(), clock.NewMock())
	err := fmt.Errorf("%w: nonce too low", types.ErrSubmissionRejected)
	tx := failedTx(err)
	tx.Hash = common.HexToHash("0xab")
	next := uint64(7)

	f := a.Analyze(tx, err, AnalysisContext{NextNonce: &next})
	assert.Equal(t, types.FailureNonceConflict, f.FailureReason)
	assert.Equal(t, tx.Hash.Hex(), f.Key)
	assert.True(t, f.CanRecover)
	assert.Equal(t, types.RecoveryStatusAvailable, f.Status)
	require.NotNil(t, f.SuggestedFix)
	assert.Equal(t, types.StrategyFixNonce, f.SuggestedFix.Type)
	assert.Equal(t, 90, f.SuggestedFix.Confidence)
	require.NotNil(t, f.SuggestedFix.Nonce)
	assert.Equal(t, uint64(7), *f.SuggestedFix.Nonce)
	assert.Equal(t, err.Error(), f.RawError)
}

func TestAnalyzeStoredError(t *testing.T) {
	a := NewAnalyzer(testConfig(), clock.NewMock())

	testCases := []struct {
		Name     string
		Kind     string
		Expected types.FailureReason
	}{
		{"signer kind", types.ErrSigningUnavailable.Error(), types.FailureNetworkError},
		{"dropped kind", types.ErrDropped.Error(), types.FailureTimeout},
		{"no kind", "", types.FailureUnknown},
	}

	for _, tc := range testCases {
		t.Run(tc.Name, func(t *testing.T) {
			tx := failedTx(errors.New("keystore locked"))
			tx.ErrorKind = tc.Kind

			f := a.Analyze(tx, nil, AnalysisContext{})
			assert.Equal(t, tc.Expected, f.FailureReason)
			assert.Equal(t, "keystore locked", f.RawError)
		})
	}
}

func TestAnalyzeStrategies(t *testing.T) {
	a := NewAnalyzer(testConfig(), clock.NewMock())

	type testCase struct {
		Name                 string
		Err                  error
		Context              AnalysisContext
		ExpectedReason       types.FailureReason
		ExpectedStrategies   []types.StrategyType
		RequiresConfirmation bool
	}

	testCases := []testCase{
		{
			Name:               "underpriced",
			Err:                errors.New("transaction underpriced"),
			ExpectedReason:     types.FailureUnderpriced,
			ExpectedStrategies: []types.StrategyType{types.StrategyBumpFee},
		},
		{
			Name:               "out of gas",
			Err:                &types.RevertError{GasUsed: 21000, GasLimit: 21000},
			ExpectedReason:     types.FailureOutOfGas,
			ExpectedStrategies: []types.StrategyType{types.StrategyIncreaseGasLimit},
		},
		{
			Name:               "timeout",
			Err:                types.ErrTimedOut,
			ExpectedReason:     types.FailureTimeout,
			ExpectedStrategies: []types.StrategyType{types.StrategyBumpFee, types.StrategyResubmit},
		},
		{
			Name:               "network",
			Err:                errors.New("connection reset by peer"),
			ExpectedReason:     types.FailureNetworkError,
			ExpectedStrategies: []types.StrategyType{types.StrategyResubmit},
		},
		{
			Name:                 "signer unavailable",
			Err:                  types.ErrSigningUnavailable,
			ExpectedReason:       types.FailureNetworkError,
			ExpectedStrategies:   []types.StrategyType{types.StrategyResubmit},
			RequiresConfirmation: true,
		},
		{
			Name:           "reverted",
			Err:            &types.RevertError{GasUsed: 30000, GasLimit: 100000},
			ExpectedReason: types.FailureReverted,
		},
		{
			Name:           "user rejected",
			Err:            types.ErrSigningDenied,
			ExpectedReason: types.FailureUserRejected,
		},
		{
			Name:           "unknown",
			Err:            errors.New("insufficient funds for gas * price + value"),
			ExpectedReason: types.FailureUnknown,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.Name, func(t *testing.T) {
			f := a.Analyze(failedTx(tc.Err), tc.Err, tc.Context)
			assert.Equal(t, tc.ExpectedReason, f.FailureReason)
			assert.Equal(t, "tx-1", f.Key)

			var strategies []types.StrategyType
			for _, s := range f.Strategies {
				strategies = append(strategies, s.Type)
				assert.NotNil(t, s.EstimatedCost)
			}
			assert.Equal(t, tc.ExpectedStrategies, strategies)

			if len(tc.ExpectedStrategies) == 0 {
				assert.False(t, f.CanRecover)
				assert.Nil(t, f.SuggestedFix)
				assert.Equal(t, types.RecoveryStatusAnalysisComplete, f.Status)
				return
			}
			assert.True(t, f.CanRecover)
			require.NotNil(t, f.SuggestedFix)
			assert.Equal(t, tc.ExpectedStrategies[0], f.SuggestedFix.Type)
			assert.Equal(t, tc.RequiresConfirmation, f.SuggestedFix.RequiresConfirmation)
		})
	}
}

func TestAnalyzeUnderpricedWithoutFee(t *testing.T) {
	a := NewAnalyzer(testConfig(), clock.NewMock())
	err := errors.New("transaction underpriced")
	tx := failedTx(err)
	tx.Payload.GasPrice = nil

	f := a.Analyze(tx, err, AnalysisContext{})
	assert.False(t, f.CanRecover)

	f = a.Analyze(tx, err, AnalysisContext{MinFeePerGas: big.NewInt(100)})
	require.True(t, f.CanRecover)
	assert.Equal(t, big.NewInt(120*21000), f.SuggestedFix.EstimatedCost)
}

func TestAnalyzeOutOfGasWithoutGasLimit(t *testing.T) {
	a := NewAnalyzer(testConfig(), clock.NewMock())
	err := errors.New("intrinsic gas too low")
	tx := failedTx(err)
	tx.Payload.GasLimit = 0

	f := a.Analyze(tx, err, AnalysisContext{})
	assert.Equal(t, types.FailureOutOfGas, f.FailureReason)
	assert.False(t, f.CanRecover)
	assert.Empty(t, f.Strategies)
}

func TestBackoff(t *testing.T) {
	cfg := testConfig()
	assert.Equal(t, time.Second, cfg.Backoff(0))
	assert.Equal(t, 2*time.Second, cfg.Backoff(1))
	assert.Equal(t, 8*time.Second, cfg.Backoff(3))
	assert.Equal(t, 10*time.Second, cfg.Backoff(4))
	assert.Equal(t, 10*time.Second, cfg.Backoff(5000))

	cfg.BackoffBase = cfgTypes.NewDuration(0)
	assert.Equal(t, time.Duration(0), cfg.Backoff(3))
}
