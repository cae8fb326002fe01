package server

import (
	"errors"
	"fmt"

	"github.com/0xPolygonHermez/zkevm-txqueue/log"
	"github.com/0xPolygonHermez/zkevm-txqueue/types"
)

const (
	// DefaultErrorCode default error code
	DefaultErrorCode = -32000
	// InvalidRequestErrorCode error code for invalid requests
	InvalidRequestErrorCode = -32600
	// NotFoundErrorCode error code for unknown methods
	NotFoundErrorCode = -32601
	// InvalidParamsErrorCode error code for invalid parameters
	InvalidParamsErrorCode = -32602
	// ParserErrorCode error code for parsing errors
	ParserErrorCode = -32700
	// TxNotFoundErrorCode error code for unknown txs and failure records
	TxNotFoundErrorCode = -32001
	// InvalidStateErrorCode error code for operations not allowed in the current status of the tx
	InvalidStateErrorCode = -32002
	// RecoveryErrorCode error code for recoveries that can't be executed
	RecoveryErrorCode = -32003
)

var (
	// ErrBatchRequestsDisabled returned by the server when a batch request is detected and the batch requests are disabled via configuration
	ErrBatchRequestsDisabled = fmt.Errorf("batch requests are disabled")
	// ErrBatchRequestsLimitExceeded returned by the server when a batch request is detected and the number of requests are greater than the configured limit
	ErrBatchRequestsLimitExceeded = fmt.Errorf("batch requests limit exceeded")
)

// Error interface
type Error interface {
	Error() string
	ErrorCode() int
	ErrorData() []byte
}

// ServerError represents an error returned by a queue endpoint
type ServerError struct {
	err  string
	code int
	data []byte
}

// NewServerError creates a new error instance to be returned by the queue endpoints
func NewServerError(code int, err string, args ...interface{}) *ServerError {
	return NewServerErrorWithData(code, err, nil, args...)
}

// NewServerErrorWithData creates a new error instance with data to be returned by the queue endpoints
func NewServerErrorWithData(code int, err string, data []byte, args ...interface{}) *ServerError {
	var errMessage string
	if len(args) > 0 {
		errMessage = fmt.Sprintf(err, args...)
	} else {
		errMessage = err
	}
	return &ServerError{code: code, err: errMessage, data: data}
}

// Error returns the error message
func (e ServerError) Error() string {
	return e.err
}

// ErrorCode returns the error code
func (e *ServerError) ErrorCode() int {
	return e.code
}

// ErrorData returns the error data
func (e *ServerError) ErrorData() []byte {
	return e.data
}

// errorCode returns the code of the errors returned by the queue and the recovery engine
func errorCode(err error) int {
	switch {
	case errors.Is(err, types.ErrInvalidRequest):
		return InvalidParamsErrorCode
	case errors.Is(err, types.ErrNotFound):
		return TxNotFoundErrorCode
	case errors.Is(err, types.ErrNotCancellable), errors.Is(err, types.ErrInvalidTransition):
		return InvalidStateErrorCode
	case errors.Is(err, types.ErrRecoveryUnavailable), errors.Is(err, types.ErrRecoveryInProgress), errors.Is(err, types.ErrRetryLimitReached):
		return RecoveryErrorCode
	default:
		return DefaultErrorCode
	}
}

// failed converts an error of the queue or the recovery engine into the endpoint result
func failed(err error) (interface{}, Error) {
	log.Debugf("endpoint failed, error: %v", err)
	return nil, NewServerError(errorCode(err), err.Error())
}

// invalidParams is the endpoint result for arguments rejected before reaching the queue
func invalidParams(format string, args ...interface{}) (interface{}, Error) {
	return nil, NewServerError(InvalidParamsErrorCode, format, args...)
}
