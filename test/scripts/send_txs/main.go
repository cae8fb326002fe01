package main

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/0xPolygonHermez/zkevm-txqueue/log"
	"github.com/0xPolygonHermez/zkevm-txqueue/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
)

const (
	txQueueURL   = "http://localhost:8124"
	receiverAddr = "0x617b3a3528F9cDd6630fd3301B9c8911F7Bf063D"
	// the key must be loaded in the queue from a key store file
	privateKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	chainID    = uint64(1337)
	txCount    = 3
)

func main() {
	ctx := context.Background()

	log.Infof("connecting to %s", txQueueURL)
	client, err := rpc.DialContext(ctx, txQueueURL)
	chkErr(err)
	defer client.Close()
	log.Infof("connected")

	from := getAddress(privateKey)
	to := common.HexToAddress(receiverAddr)
	priorities := []types.Priority{types.PriorityLow, types.PriorityNormal, types.PriorityUrgent}

	ids := make([]string, 0, txCount)
	for i := 0; i < txCount; i++ {
		req := types.TxRequest{
			From:     from.Hex(),
			ChainID:  chainID,
			Priority: priorities[i%len(priorities)],
			Payload: types.TxPayload{
				To:       &to,
				Value:    big.NewInt(1),
				GasLimit: 21000,
			},
		}

		var id string
		chkErr(client.CallContext(ctx, &id, "txq_enqueue", req))
		log.Infof("tx %s enqueued with priority %s", id, req.Priority)
		ids = append(ids, id)
	}

	for _, id := range ids {
		tx := waitFinished(ctx, client, id)
		log.Infof("tx %s finished with status %s, hash: %s, error: %s", id, tx.Status, tx.Hash.Hex(), tx.Error)

		if tx.Status == types.TxStatusFailed {
			var record types.FailedTransaction
			chkErr(client.CallContext(ctx, &record, "txq_getFailedTransaction", id))
			log.Infof("tx %s failure reason: %s, can recover: %t", id, record.FailureReason, record.CanRecover)
		}
	}

	var stats types.QueueStats
	chkErr(client.CallContext(ctx, &stats, "txq_stats"))
	log.Infof("queue stats: total %d, success rate %.2f", stats.Total, stats.SuccessRate)
}

func waitFinished(ctx context.Context, client *rpc.Client, id string) *types.QueuedTransaction {
	for {
		var tx types.QueuedTransaction
		chkErr(client.CallContext(ctx, &tx, "txq_getTransaction", id))
		if tx.Status.IsTerminal() {
			return &tx
		}
		time.Sleep(time.Second)
	}
}

func getAddress(privateKeyStr string) common.Address {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyStr, "0x"))
	chkErr(err)
	return crypto.PubkeyToAddress(key.PublicKey)
}

func chkErr(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
