package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"sync"

	"github.com/0xPolygonHermez/zkevm-txqueue/log"
	"github.com/0xPolygonHermez/zkevm-txqueue/types"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// GasOracle fills the fee and gas limit of the payloads that don't set them
type GasOracle interface {
	SuggestGasPrice(ctx context.Context, chainID uint64) (*big.Int, error)
	EstimateGas(ctx context.Context, chainID uint64, msg ethereum.CallMsg) (uint64, error)
}

// KeySigner signs the txs of the addresses it holds a private key for
type KeySigner struct {
	oracle GasOracle
	mutex  sync.RWMutex
	keys   map[common.Address]*ecdsa.PrivateKey
}

// NewKeySigner creates a signer for the given keys. oracle may be nil, then
// the payloads must set the fee and the gas limit
func NewKeySigner(oracle GasOracle, keys ...*ecdsa.PrivateKey) *KeySigner {
	s := &KeySigner{
		oracle: oracle,
		keys:   make(map[common.Address]*ecdsa.PrivateKey, len(keys)),
	}
	for _, key := range keys {
		s.keys[crypto.PubkeyToAddress(key.PublicKey)] = key
	}
	return s
}

// NewKeySignerFromKeystores loads the keys from encrypted key store files
func NewKeySignerFromKeystores(oracle GasOracle, keystores []KeystoreFileConfig) (*KeySigner, error) {
	keys := make([]*ecdsa.PrivateKey, 0, len(keystores))
	for _, ks := range keystores {
		keyJSON, err := os.ReadFile(ks.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read key store file %s: %w", ks.Path, err)
		}
		key, err := keystore.DecryptKey(keyJSON, ks.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt key store file %s: %w", ks.Path, err)
		}
		log.Infof("loaded key of address %s", key.Address.Hex())
		keys = append(keys, key.PrivateKey)
	}
	return NewKeySigner(oracle, keys...), nil
}

// Addresses returns the addresses the signer holds a key for
func (s *KeySigner) Addresses() []common.Address {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	addresses := make([]common.Address, 0, len(s.keys))
	for address := range s.keys {
		addresses = append(addresses, address)
	}
	return addresses
}

// Sign builds and signs the tx of a queued transaction. The tx is a dynamic
// fee tx if the payload sets the fee cap, a legacy tx otherwise
func (s *KeySigner) Sign(ctx context.Context, tx *types.QueuedTransaction) (*ethTypes.Transaction, error) {
	s.mutex.RLock()
	key, found := s.keys[tx.From]
	s.mutex.RUnlock()
	if !found {
		return nil, fmt.Errorf("%w: no key for address %s", types.ErrSigningDenied, tx.From.Hex())
	}
	if tx.Nonce == nil {
		return nil, errors.New("nonce not resolved")
	}

	payload := tx.Payload.Copy()
	if err := s.fill(ctx, tx.ChainID, tx.From, &payload); err != nil {
		return nil, err
	}

	chainID := new(big.Int).SetUint64(tx.ChainID)
	value := payload.Value
	if value == nil {
		value = new(big.Int)
	}

	var unsigned *ethTypes.Transaction
	if payload.IsDynamicFee() {
		tip := payload.GasTipCap
		if tip == nil {
			tip = new(big.Int)
		}
		unsigned = ethTypes.NewTx(&ethTypes.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     *tx.Nonce,
			GasTipCap: tip,
			GasFeeCap: payload.GasFeeCap,
			Gas:       payload.GasLimit,
			To:        payload.To,
			Value:     value,
			Data:      payload.Data,
		})
	} else {
		unsigned = ethTypes.NewTx(&ethTypes.LegacyTx{
			Nonce:    *tx.Nonce,
			GasPrice: payload.GasPrice,
			Gas:      payload.GasLimit,
			To:       payload.To,
			Value:    value,
			Data:     payload.Data,
		})
	}

	signed, err := ethTypes.SignTx(unsigned, ethTypes.LatestSignerForChainID(chainID), key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrSigningUnavailable, err)
	}
	return signed, nil
}

// fill sets the gas price and the gas limit when the payload doesn't
func (s *KeySigner) fill(ctx context.Context, chainID uint64, from common.Address, payload *types.TxPayload) error {
	hasFee := payload.GasPrice != nil || payload.IsDynamicFee()
	if hasFee && payload.GasLimit > 0 {
		return nil
	}
	if s.oracle == nil {
		return errors.New("payload without fee or gas limit and no gas oracle configured")
	}

	if !hasFee {
		price, err := s.oracle.SuggestGasPrice(ctx, chainID)
		if err != nil {
			return fmt.Errorf("failed to get gas price: %w", err)
		}
		payload.GasPrice = price
	}
	if payload.GasLimit == 0 {
		gas, err := s.oracle.EstimateGas(ctx, chainID, ethereum.CallMsg{
			From:      from,
			To:        payload.To,
			GasPrice:  payload.GasPrice,
			GasFeeCap: payload.GasFeeCap,
			GasTipCap: payload.GasTipCap,
			Value:     payload.Value,
			Data:      payload.Data,
		})
		if err != nil {
			return fmt.Errorf("failed to estimate gas: %w", err)
		}
		payload.GasLimit = gas
	}
	return nil
}
