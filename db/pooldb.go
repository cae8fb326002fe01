package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/0xPolygonHermez/zkevm-txqueue/log"
	"github.com/0xPolygonHermez/zkevm-txqueue/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/hermeznetwork/tracerr"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// querier is the subset of pgxpool.Pool used by PoolDB
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// PoolDB represent a postgres pool database to store the queued txs and the failed tx records
type PoolDB struct {
	db         querier
	queryLimit uint64
}

// NewPoolDB connects to the pool db
func NewPoolDB(cfg Config) (*PoolDB, error) {
	poolDB, err := NewSQLDB(cfg)
	if err != nil {
		return nil, err
	}

	return newPoolDB(poolDB, cfg.QueryLimit), nil
}

func newPoolDB(db querier, queryLimit uint64) *PoolDB {
	return &PoolDB{db: db, queryLimit: queryLimit}
}

// Close closes the connections of the pool
func (p *PoolDB) Close() {
	if pool, ok := p.db.(*pgxpool.Pool); ok {
		pool.Close()
	}
}

// UpsertTransaction stores the current state of a queued tx
func (p *PoolDB) UpsertTransaction(ctx context.Context, tx *types.QueuedTransaction) error {
	const upsertTxSQL = `
		INSERT INTO pool.transaction
		(id, from_address, chain_id, nonce, priority, status, hash, recovery_of, created_at, updated_at, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET nonce = $4, priority = $5, status = $6, hash = $7, updated_at = $10, data = $11
	`

	data, err := json.Marshal(tx)
	if err != nil {
		return err
	}

	var hash *string
	if tx.HasHash() {
		h := tx.Hash.Hex()
		hash = &h
	}
	var recoveryOf *string
	if tx.RecoveryOf != "" {
		recoveryOf = &tx.RecoveryOf
	}

	_, err = p.db.Exec(ctx, upsertTxSQL, tx.ID, tx.From.Hex(), tx.ChainID, tx.Nonce, tx.Priority.String(), string(tx.Status),
		hash, recoveryOf, tx.CreatedAt, tx.UpdatedAt, string(data))
	if err != nil {
		return translateError(err)
	}

	return nil
}

// DeleteTransactions deletes the txs with the given ids
func (p *PoolDB) DeleteTransactions(ctx context.Context, ids []string) error {
	const deleteTxsSQL = "DELETE FROM pool.transaction WHERE id = ANY($1)"

	tag, err := p.db.Exec(ctx, deleteTxsSQL, ids)
	if err != nil {
		return translateError(err)
	}
	if tag.RowsAffected() != int64(len(ids)) {
		log.Debugf("%d of %d txs deleted from the pool db", tag.RowsAffected(), len(ids))
	}

	return nil
}

// GetTransactionsByStatus returns the txs in any of the given statuses, oldest first
func (p *PoolDB) GetTransactionsByStatus(ctx context.Context, statuses []types.TxStatus) ([]*types.QueuedTransaction, error) {
	const getTxsByStatusSQL = "SELECT data FROM pool.transaction WHERE status = ANY($1) ORDER BY created_at, id LIMIT $2"

	values := make([]string, len(statuses))
	for i, status := range statuses {
		values[i] = string(status)
	}

	rows, err := p.db.Query(ctx, getTxsByStatusSQL, values, p.limit())
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	txs := []*types.QueuedTransaction{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, tracerr.Wrap(err)
		}

		tx := &types.QueuedTransaction{}
		if err := json.Unmarshal(data, tx); err != nil {
			return nil, fmt.Errorf("error decoding stored tx: %w", err)
		}
		txs = append(txs, tx)
	}

	return txs, rows.Err()
}

// UpsertFailedTransaction stores the analysis and the recovery state of a failed tx
func (p *PoolDB) UpsertFailedTransaction(ctx context.Context, f *types.FailedTransaction) error {
	const upsertFailedTxSQL = `
		INSERT INTO pool.failed_transaction
		(key, tx_id, hash, failure_reason, recovery_status, analyzed_at, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (key) DO UPDATE SET failure_reason = $4, recovery_status = $5, analyzed_at = $6, data = $7
	`

	data, err := json.Marshal(f)
	if err != nil {
		return err
	}

	var hash *string
	if f.Hash != (common.Hash{}) {
		h := f.Hash.Hex()
		hash = &h
	}

	_, err = p.db.Exec(ctx, upsertFailedTxSQL, f.Key, f.TxID, hash, string(f.FailureReason), string(f.Status), f.AnalyzedAt, string(data))
	if err != nil {
		return translateError(err)
	}

	return nil
}

// GetFailedTransactions returns every failed tx record, oldest analysis first
func (p *PoolDB) GetFailedTransactions(ctx context.Context) ([]*types.FailedTransaction, error) {
	const getFailedTxsSQL = "SELECT data FROM pool.failed_transaction ORDER BY analyzed_at, key LIMIT $1"

	rows, err := p.db.Query(ctx, getFailedTxsSQL, p.limit())
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	records := []*types.FailedTransaction{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, tracerr.Wrap(err)
		}

		f := &types.FailedTransaction{}
		if err := json.Unmarshal(data, f); err != nil {
			return nil, fmt.Errorf("error decoding stored failed tx: %w", err)
		}
		records = append(records, f)
	}

	return records, rows.Err()
}

func (p *PoolDB) limit() *uint64 {
	if p.queryLimit == 0 {
		return nil
	}
	return &p.queryLimit
}

// translateError adds the postgres error code to the message of the errors returned by the server
func translateError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return tracerr.Wrap(fmt.Errorf("pool db error %s on %s: %w", pgErr.Code, pgErr.TableName, err))
	}
	return tracerr.Wrap(err)
}
