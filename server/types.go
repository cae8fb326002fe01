package server

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

const jsonRPCVersion = "2.0"

// Request is a txq JSON-RPC call. Params holds the positional arguments of the endpoint
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response carries either the result or the error of a txq call
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// ErrorObject is the error member of a response, data is hex encoded
type ErrorObject struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    *hexutil.Bytes `json:"data,omitempty"`
}

// health is returned to GET requests
type health struct {
	Name    string      `json:"name"`
	Version string      `json:"version"`
	Queue   interface{} `json:"queue"`
}

func newResultResponse(req Request, result interface{}) Response {
	encoded, err := json.Marshal(result)
	if err != nil {
		return newErrorResponse(req, NewServerError(DefaultErrorCode, "failed to encode the result of %s: %v", req.Method, err))
	}
	return Response{JSONRPC: jsonRPCVersion, ID: req.ID, Result: encoded}
}

func newErrorResponse(req Request, err Error) Response {
	obj := &ErrorObject{Code: err.ErrorCode(), Message: err.Error()}
	if data := err.ErrorData(); data != nil {
		encoded := hexutil.Bytes(data)
		obj.Data = &encoded
	}
	return Response{JSONRPC: jsonRPCVersion, ID: req.ID, Error: obj}
}
