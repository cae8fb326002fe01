package server

import (
	"context"
	"net/http"

	"github.com/0xPolygonHermez/zkevm-txqueue/log"
	"github.com/0xPolygonHermez/zkevm-txqueue/types"
	"github.com/ethereum/go-ethereum/common"
)

// Endpoints contains implementations for the txq endpoints
type Endpoints struct {
	cfg      Config
	pool     poolInterface
	recovery recoveryInterface
}

// NewEndpoints creates an new instance of endpoints
func NewEndpoints(cfg Config, pool poolInterface, recovery recoveryInterface) *Endpoints {
	e := &Endpoints{cfg: cfg, pool: pool, recovery: recovery}
	return e
}

// Enqueue adds a tx request to the queue and returns the id of the queued tx
func (e *Endpoints) Enqueue(httpRequest *http.Request, req types.TxRequest) (interface{}, Error) {
	id, err := e.pool.Enqueue(requestContext(httpRequest), req)
	if err != nil {
		return failed(err)
	}

	log.Infof("tx %s from %s enqueued by %s", id, req.From, remoteAddr(httpRequest))

	return id, nil
}

// Cancel cancels a queued or pending tx. Returns false if it was already cancelled
func (e *Endpoints) Cancel(httpRequest *http.Request, id string) (interface{}, Error) {
	cancelled, err := e.pool.Cancel(requestContext(httpRequest), id)
	if err != nil {
		return failed(err)
	}
	return cancelled, nil
}

func (e *Endpoints) GetTransaction(id string) (interface{}, Error) {
	tx, err := e.pool.Get(id)
	if err != nil {
		return failed(err)
	}
	return tx, nil
}

func (e *Endpoints) ListByStatus(status types.TxStatus) (interface{}, Error) {
	if !status.Valid() {
		return invalidParams("invalid status %s", status)
	}
	return e.pool.ListByStatus(status), nil
}

func (e *Endpoints) ListByAddress(address string) (interface{}, Error) {
	if !common.IsHexAddress(address) {
		return invalidParams("invalid address %s", address)
	}
	return e.pool.ListByAddress(common.HexToAddress(address)), nil
}

func (e *Endpoints) Stats() (interface{}, Error) {
	return e.pool.Stats(), nil
}

// ClearCompleted removes the confirmed, failed and cancelled txs and returns how many were removed
func (e *Endpoints) ClearCompleted(httpRequest *http.Request) (interface{}, Error) {
	return e.pool.ClearCompleted(requestContext(httpRequest)), nil
}

// GetFailedTransaction returns the failure record referenced by tx hash or tx id
func (e *Endpoints) GetFailedTransaction(ref string) (interface{}, Error) {
	record, err := e.recovery.Get(ref)
	if err != nil {
		return failed(err)
	}
	return record, nil
}

func (e *Endpoints) ListFailedTransactions() (interface{}, Error) {
	return e.recovery.List(), nil
}

// Recover executes a recovery strategy, the suggested fix when strategy is omitted,
// and returns the id of the recovery tx
func (e *Endpoints) Recover(httpRequest *http.Request, ref string, strategy *types.StrategyType) (interface{}, Error) {
	var strategyType types.StrategyType
	if strategy != nil {
		strategyType = *strategy
	}

	id, err := e.recovery.Recover(requestContext(httpRequest), ref, strategyType)
	if err != nil {
		return failed(err)
	}

	log.Infof("recovery of %s requested by %s, recovery tx %s", ref, remoteAddr(httpRequest), id)

	return id, nil
}

// Report fails a submitted tx with an error observed outside the queue and returns its analysis
func (e *Endpoints) Report(httpRequest *http.Request, txID string, rawError string) (interface{}, Error) {
	if rawError == "" {
		return invalidParams("error message required")
	}

	record, err := e.recovery.Report(requestContext(httpRequest), txID, rawError)
	if err != nil {
		return failed(err)
	}
	return record, nil
}

func requestContext(httpRequest *http.Request) context.Context {
	if httpRequest == nil {
		return context.Background()
	}
	return httpRequest.Context()
}

func remoteAddr(httpRequest *http.Request) string {
	if httpRequest == nil {
		return "unknown"
	}
	if forwarded := httpRequest.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	return httpRequest.RemoteAddr
}
