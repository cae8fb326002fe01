package recovery

import (
	"math/big"
	"testing"

	"github.com/0xPolygonHermez/zkevm-txqueue/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyBumpFee(t *testing.T) {
	strategy := &types.RecoveryStrategy{Type: types.StrategyBumpFee, BumpPercent: 20}

	type testCase struct {
		Name        string
		Payload     types.TxPayload
		MinFee      *big.Int
		ExpectedGP  *big.Int
		ExpectedCap *big.Int
		ExpectedTip *big.Int
	}

	testCases := []testCase{
		{
			Name:       "legacy",
			Payload:    types.TxPayload{GasLimit: 21000, GasPrice: big.NewInt(10_000_000_000)},
			ExpectedGP: big.NewInt(12_000_000_000),
		},
		{
			Name:       "legacy below network minimum",
			Payload:    types.TxPayload{GasLimit: 21000, GasPrice: big.NewInt(10_000_000_000)},
			MinFee:     big.NewInt(15_000_000_000),
			ExpectedGP: big.NewInt(15_000_000_000),
		},
		{
			Name:       "one wei at least",
			Payload:    types.TxPayload{GasLimit: 21000, GasPrice: big.NewInt(1)},
			ExpectedGP: big.NewInt(2),
		},
		{
			Name:        "dynamic fee",
			Payload:     types.TxPayload{GasLimit: 21000, GasFeeCap: big.NewInt(100), GasTipCap: big.NewInt(2)},
			ExpectedCap: big.NewInt(120),
			ExpectedTip: big.NewInt(3),
		},
		{
			Name:       "no fee uses network minimum",
			Payload:    types.TxPayload{GasLimit: 21000},
			MinFee:     big.NewInt(50),
			ExpectedGP: big.NewInt(60),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.Name, func(t *testing.T) {
			original := tc.Payload.Copy()
			p, err := ApplyStrategy(strategy, tc.Payload, AnalysisContext{MinFeePerGas: tc.MinFee})
			require.NoError(t, err)

			assert.Equal(t, tc.ExpectedGP, p.GasPrice)
			assert.Equal(t, tc.ExpectedCap, p.GasFeeCap)
			assert.Equal(t, tc.ExpectedTip, p.GasTipCap)
			assert.Equal(t, original, tc.Payload)
			assert.Equal(t, 1, p.FeePerGas().Cmp(tc.Payload.FeePerGas()))
		})
	}

	_, err := ApplyStrategy(strategy, types.TxPayload{GasLimit: 21000}, AnalysisContext{})
	require.ErrorIs(t, err, errNothingToBump)
}

func TestApplyIncreaseGasLimit(t *testing.T) {
	strategy := &types.RecoveryStrategy{Type: types.StrategyIncreaseGasLimit, BumpPercent: 50}
	p, err := ApplyStrategy(strategy, types.TxPayload{GasLimit: 21000, GasPrice: big.NewInt(1)}, AnalysisContext{})
	require.NoError(t, err)
	assert.Equal(t, uint64(31500), p.GasLimit)
	assert.Equal(t, big.NewInt(1), p.GasPrice)

	_, err = ApplyStrategy(strategy, types.TxPayload{GasPrice: big.NewInt(1)}, AnalysisContext{})
	require.ErrorIs(t, err, errUnknownGasLimit)
}

func TestApplyResubmit(t *testing.T) {
	payload := types.TxPayload{GasLimit: 21000, GasPrice: big.NewInt(7), Data: []byte{0x01}}
	for _, strategyType := range []types.StrategyType{types.StrategyResubmit, types.StrategyFixNonce} {
		p, err := ApplyStrategy(&types.RecoveryStrategy{Type: strategyType}, payload, AnalysisContext{})
		require.NoError(t, err)
		assert.Equal(t, payload, p)
	}

	_, err := ApplyStrategy(&types.RecoveryStrategy{Type: "unknown"}, payload, AnalysisContext{})
	require.ErrorIs(t, err, types.ErrRecoveryUnavailable)
}
