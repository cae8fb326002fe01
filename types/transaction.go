package types

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Priority is the scheduling tier of a queued transaction
type Priority int

const (
	// PriorityUnset is the zero value, enqueue replaces it by PriorityNormal
	PriorityUnset Priority = iota
	// PriorityLow is the lowest tier
	PriorityLow
	// PriorityNormal is the default tier
	PriorityNormal
	// PriorityHigh is the high tier
	PriorityHigh
	// PriorityUrgent is the highest tier, aging never goes further
	PriorityUrgent
)

var priorityNames = map[Priority]string{
	PriorityUnset:  "",
	PriorityLow:    "low",
	PriorityNormal: "normal",
	PriorityHigh:   "high",
	PriorityUrgent: "urgent",
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// Next returns the next tier, capped at PriorityUrgent
func (p Priority) Next() Priority {
	if p >= PriorityUrgent {
		return PriorityUrgent
	}
	return p + 1
}

// MarshalText implements encoding.TextMarshaler
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (p *Priority) UnmarshalText(data []byte) error {
	parsed, err := ParsePriority(string(data))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePriority parses the priority name (case insensitive). An empty name returns PriorityUnset
func ParsePriority(s string) (Priority, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for p, n := range priorityNames {
		if n == name {
			return p, nil
		}
	}
	return PriorityUnset, fmt.Errorf("%w: unknown priority %q", ErrInvalidRequest, s)
}

// TxStatus is the lifecycle status of a queued transaction
type TxStatus string

const (
	// TxStatusQueued represents a tx waiting to be picked by the scheduler
	TxStatusQueued TxStatus = "queued"
	// TxStatusPending represents a tx selected by the scheduler and being signed/broadcast
	TxStatusPending TxStatus = "pending"
	// TxStatusSubmitted represents a tx broadcast to the network waiting for confirmation
	TxStatusSubmitted TxStatus = "submitted"
	// TxStatusConfirmed represents a tx included on chain with success
	TxStatusConfirmed TxStatus = "confirmed"
	// TxStatusFailed represents a tx that failed to be submitted or confirmed
	TxStatusFailed TxStatus = "failed"
	// TxStatusCancelled represents a tx cancelled before being submitted
	TxStatusCancelled TxStatus = "cancelled"
)

// AllTxStatuses lists the statuses in lifecycle order
var AllTxStatuses = []TxStatus{
	TxStatusQueued, TxStatusPending, TxStatusSubmitted, TxStatusConfirmed, TxStatusFailed, TxStatusCancelled,
}

var txStatusTransitions = map[TxStatus][]TxStatus{
	TxStatusQueued:    {TxStatusPending, TxStatusCancelled},
	TxStatusPending:   {TxStatusSubmitted, TxStatusFailed, TxStatusCancelled},
	TxStatusSubmitted: {TxStatusConfirmed, TxStatusFailed},
}

// IsTerminal returns true for statuses a tx can't leave
func (s TxStatus) IsTerminal() bool {
	return s == TxStatusConfirmed || s == TxStatusFailed || s == TxStatusCancelled
}

// IsInFlight returns true while the tx occupies a submission slot
func (s TxStatus) IsInFlight() bool {
	return s == TxStatusPending || s == TxStatusSubmitted
}

// CanTransitionTo returns true if moving from s to next is allowed
func (s TxStatus) CanTransitionTo(next TxStatus) bool {
	for _, allowed := range txStatusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid returns true if s is a known status
func (s TxStatus) Valid() bool {
	for _, status := range AllTxStatuses {
		if status == s {
			return true
		}
	}
	return false
}

// TxPayload is the content of the transaction to be signed
type TxPayload struct {
	To        *common.Address   `json:"to,omitempty"`
	Value     *big.Int          `json:"value,omitempty"`
	Data      hexutil.Bytes     `json:"data,omitempty"`
	GasLimit  uint64            `json:"gasLimit"`
	GasPrice  *big.Int          `json:"gasPrice,omitempty"`
	GasFeeCap *big.Int          `json:"maxFeePerGas,omitempty"`
	GasTipCap *big.Int          `json:"maxPriorityFeePerGas,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// IsDynamicFee returns true if the payload uses EIP-1559 fee fields
func (p *TxPayload) IsDynamicFee() bool {
	return p.GasFeeCap != nil
}

// FeePerGas returns the max fee per gas the payload is willing to pay
func (p *TxPayload) FeePerGas() *big.Int {
	if p.GasFeeCap != nil {
		return new(big.Int).Set(p.GasFeeCap)
	}
	if p.GasPrice != nil {
		return new(big.Int).Set(p.GasPrice)
	}
	return new(big.Int)
}

// MaxCost returns gasLimit * fee per gas
func (p *TxPayload) MaxCost() *big.Int {
	return new(big.Int).Mul(p.FeePerGas(), new(big.Int).SetUint64(p.GasLimit))
}

// Copy returns a deep copy of the payload
func (p TxPayload) Copy() TxPayload {
	c := TxPayload{
		GasLimit:  p.GasLimit,
		Value:     copyBig(p.Value),
		GasPrice:  copyBig(p.GasPrice),
		GasFeeCap: copyBig(p.GasFeeCap),
		GasTipCap: copyBig(p.GasTipCap),
	}
	if p.To != nil {
		to := *p.To
		c.To = &to
	}
	if p.Data != nil {
		c.Data = common.CopyBytes(p.Data)
	}
	if p.Metadata != nil {
		c.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

func copyBig(b *big.Int) *big.Int {
	if b == nil {
		return nil
	}
	return new(big.Int).Set(b)
}

// TxRequest is the input of an enqueue operation
type TxRequest struct {
	From     string    `json:"from"`
	ChainID  uint64    `json:"chainId"`
	Nonce    *uint64   `json:"nonce,omitempty"`
	Payload  TxPayload `json:"payload"`
	Priority Priority  `json:"priority,omitempty"`

	// RecoveryOf, RetryCount and NotBefore are set by the recovery executor
	RecoveryOf string    `json:"-"`
	RetryCount uint64    `json:"-"`
	NotBefore  time.Time `json:"-"`
}

// QueuedTransaction is a transaction managed by the queue
type QueuedTransaction struct {
	ID            string         `json:"id"`
	From          common.Address `json:"from"`
	ChainID       uint64         `json:"chainId"`
	Nonce         *uint64        `json:"nonce,omitempty"`
	Payload       TxPayload      `json:"payload"`
	Priority      Priority       `json:"priority"`
	Status        TxStatus       `json:"status"`
	RetryCount    uint64         `json:"retryCount"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
	LastAttemptAt time.Time      `json:"lastAttemptAt"`
	SubmittedAt   time.Time      `json:"submittedAt"`
	ConfirmedAt   time.Time      `json:"confirmedAt"`
	NotBefore     time.Time      `json:"notBefore"`
	Hash          common.Hash    `json:"hash"`
	Error         string         `json:"error,omitempty"`
	ErrorKind     string         `json:"errorKind,omitempty"`
	RecoveryOf    string         `json:"recoveryOf,omitempty"`
}

// Tag returns a short identifier of the tx to be used in logs
func (t *QueuedTransaction) Tag() string {
	if t.HasHash() {
		return fmt.Sprintf("[%s]:%s", t.ID, t.Hash.Hex())
	}
	return fmt.Sprintf("[%s]:%s", t.ID, t.From.Hex())
}

// HasHash returns true once the tx has been broadcast
func (t *QueuedTransaction) HasHash() bool {
	return t.Hash != (common.Hash{})
}

// Copy returns a deep copy of the transaction
func (t *QueuedTransaction) Copy() *QueuedTransaction {
	c := *t
	if t.Nonce != nil {
		nonce := *t.Nonce
		c.Nonce = &nonce
	}
	c.Payload = t.Payload.Copy()
	return &c
}
