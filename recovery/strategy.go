package recovery

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/0xPolygonHermez/zkevm-txqueue/types"
	"github.com/holiman/uint256"
)

var (
	errNothingToBump   = errors.New("payload has no fee to bump")
	errUnknownGasLimit = errors.New("payload has no gas limit to increase")
)

// ApplyStrategy returns the payload of the recovery tx, the original payload is not modified.
// The nonce of the recovery tx is decided by the executor
func ApplyStrategy(s *types.RecoveryStrategy, payload types.TxPayload, actx AnalysisContext) (types.TxPayload, error) {
	p := payload.Copy()
	switch s.Type {
	case types.StrategyBumpFee:
		return p, bumpFees(&p, s.BumpPercent, actx.MinFeePerGas)
	case types.StrategyIncreaseGasLimit:
		if p.GasLimit == 0 {
			return p, errUnknownGasLimit
		}
		p.GasLimit = bumpGasLimit(p.GasLimit, s.BumpPercent)
		return p, nil
	case types.StrategyFixNonce, types.StrategyResubmit:
		return p, nil
	}
	return p, fmt.Errorf("%w: unknown strategy %s", types.ErrRecoveryUnavailable, s.Type)
}

func bumpFees(p *types.TxPayload, percent uint64, minFee *big.Int) error {
	switch {
	case p.GasFeeCap != nil:
		p.GasFeeCap = atLeast(bump(p.GasFeeCap, percent), minFee)
		if p.GasTipCap != nil {
			p.GasTipCap = bump(p.GasTipCap, percent)
			if p.GasTipCap.Cmp(p.GasFeeCap) > 0 {
				p.GasTipCap = new(big.Int).Set(p.GasFeeCap)
			}
		}
	case p.GasPrice != nil:
		p.GasPrice = atLeast(bump(p.GasPrice, percent), minFee)
	case minFee != nil:
		p.GasPrice = bump(minFee, percent)
	default:
		return errNothingToBump
	}
	return nil
}

// bump returns v increased by percent, at least by 1 wei
func bump(v *big.Int, percent uint64) *big.Int {
	x, overflow := uint256.FromBig(v)
	if overflow || v.Sign() < 0 {
		return new(big.Int).Set(v)
	}

	factor := new(uint256.Int).AddUint64(uint256.NewInt(100), percent)
	bumped, overflow := new(uint256.Int).MulDivOverflow(x, factor, uint256.NewInt(100))
	if overflow {
		bumped = new(uint256.Int).SetAllOne()
	}
	if !bumped.Gt(x) && !x.Eq(new(uint256.Int).SetAllOne()) {
		bumped = new(uint256.Int).AddUint64(x, 1)
	}
	return bumped.ToBig()
}

func atLeast(v, floor *big.Int) *big.Int {
	if floor != nil && v.Cmp(floor) < 0 {
		return new(big.Int).Set(floor)
	}
	return v
}

func bumpGasLimit(gas uint64, percent uint64) uint64 {
	if gas == 0 {
		return 0
	}
	increase := gas / 100 * percent
	if increase == 0 {
		increase = 1
	}
	if gas > math.MaxUint64-increase {
		return math.MaxUint64
	}
	return gas + increase
}
