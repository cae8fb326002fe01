package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/0xPolygonHermez/zkevm-txqueue/log"
	"github.com/0xPolygonHermez/zkevm-txqueue/types"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// ErrUnknownChain is returned for a chain id that is not configured
var ErrUnknownChain = errors.New("chain not configured")

// Client talks to the node of every configured chain
type Client struct {
	cfg     Config
	mutex   sync.RWMutex
	clients map[uint64]*ethclient.Client
}

// NewClient dials the node of every network and checks its chain id
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	c := &Client{
		cfg:     cfg,
		clients: make(map[uint64]*ethclient.Client),
	}
	for _, network := range cfg.Networks {
		if _, found := c.clients[network.ChainID]; found {
			c.Close()
			return nil, fmt.Errorf("chain %d configured twice", network.ChainID)
		}
		client, err := c.dial(ctx, network)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.clients[network.ChainID] = client
		log.Infof("connected to chain %d node %s", network.ChainID, network.URL)
	}
	return c, nil
}

func (c *Client) dial(ctx context.Context, network NetworkConfig) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, network.URL)
	if err != nil {
		return nil, fmt.Errorf("error connecting to %s, error: %w", network.URL, err)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("error getting chain id from %s, error: %w", network.URL, err)
	}
	if chainID.Uint64() != network.ChainID {
		client.Close()
		return nil, fmt.Errorf("node %s is on chain %d, expected %d", network.URL, chainID.Uint64(), network.ChainID)
	}
	return client, nil
}

// Close closes the connections to the nodes
func (c *Client) Close() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for chainID, client := range c.clients {
		client.Close()
		delete(c.clients, chainID)
	}
}

// ChainIDs returns the configured chains
func (c *Client) ChainIDs() []uint64 {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	ids := make([]uint64, 0, len(c.clients))
	for id := range c.clients {
		ids = append(ids, id)
	}
	return ids
}

func (c *Client) client(chainID uint64) (*ethclient.Client, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	client, found := c.clients[chainID]
	if !found {
		return nil, fmt.Errorf("%w: %d", ErrUnknownChain, chainID)
	}
	return client, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.RPCTimeout.Duration <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.RPCTimeout.Duration)
}

// Submit sends a signed tx. Errors returned by the node wrap types.ErrSubmissionRejected,
// transport errors are returned as they are
func (c *Client) Submit(ctx context.Context, chainID uint64, tx *ethTypes.Transaction) (common.Hash, error) {
	client, err := c.client(chainID)
	if err != nil {
		return common.Hash{}, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	if err := client.SendTransaction(ctx, tx); err != nil {
		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) {
			return common.Hash{}, fmt.Errorf("%w: %s", types.ErrSubmissionRejected, rpcErr.Error())
		}
		return common.Hash{}, err
	}
	return tx.Hash(), nil
}

// TransactionReceipt returns the receipt of a tx, ethereum.NotFound if the tx is
// still pending and types.ErrDropped if the node doesn't know the tx anymore
func (c *Client) TransactionReceipt(ctx context.Context, chainID uint64, hash common.Hash) (*ethTypes.Receipt, error) {
	client, err := c.client(chainID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	receipt, err := client.TransactionReceipt(ctx, hash)
	if err == nil {
		return receipt, nil
	}
	if !errors.Is(err, ethereum.NotFound) {
		return nil, err
	}

	_, isPending, err := client.TransactionByHash(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, fmt.Errorf("%w: tx %s not found on chain %d", types.ErrDropped, hash.Hex(), chainID)
	}
	if err != nil {
		return nil, err
	}
	if !isPending {
		log.Debugf("tx %s mined but its receipt is not available yet", hash.Hex())
	}
	return nil, ethereum.NotFound
}

// PendingNonce returns the nonce of the next tx of the address including the pending ones
func (c *Client) PendingNonce(ctx context.Context, chainID uint64, from common.Address) (uint64, error) {
	client, err := c.client(chainID)
	if err != nil {
		return 0, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return client.PendingNonceAt(ctx, from)
}

// SuggestGasPrice returns the gas price the node currently accepts
func (c *Client) SuggestGasPrice(ctx context.Context, chainID uint64) (*big.Int, error) {
	client, err := c.client(chainID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return client.SuggestGasPrice(ctx)
}

// EstimateGas returns the gas needed to execute the call
func (c *Client) EstimateGas(ctx context.Context, chainID uint64, msg ethereum.CallMsg) (uint64, error) {
	client, err := c.client(chainID)
	if err != nil {
		return 0, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return client.EstimateGas(ctx, msg)
}
