package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"time"
	"unicode"

	"github.com/0xPolygonHermez/zkevm-txqueue/log"
	"github.com/0xPolygonHermez/zkevm-txqueue/metrics"
)

const apiNamespace = "txq"

var (
	httpRequestType = reflect.TypeOf(&http.Request{})
	rpcErrorType    = reflect.TypeOf((*Error)(nil)).Elem()
)

// method is an exported method of Endpoints callable as txq_<lowerCamelName>.
// A leading *http.Request argument is filled by the server, the rest are
// decoded from the positional params. Trailing pointer arguments are optional
type method struct {
	name            string
	fn              reflect.Value
	withHTTPRequest bool
	args            []reflect.Type
	optional        int
}

type call struct {
	Request
	httpRequest *http.Request
}

// Handler dispatches the txq calls to the endpoints
type Handler struct {
	receiver reflect.Value
	methods  map[string]*method
}

// newHandler builds the method table of the endpoints. It panics if an
// exported method doesn't have the endpoint signature
func newHandler(endpoints *Endpoints) *Handler {
	h := &Handler{
		receiver: reflect.ValueOf(endpoints),
		methods:  map[string]*method{},
	}

	t := h.receiver.Type()
	for i := 0; i < t.NumMethod(); i++ {
		m, err := newMethod(t.Method(i))
		if err != nil {
			panic(fmt.Sprintf("invalid endpoint %s: %v", t.Method(i).Name, err))
		}
		h.methods[m.name] = m
	}
	return h
}

func newMethod(rm reflect.Method) (*method, error) {
	ft := rm.Type
	if ft.NumOut() != 2 || !ft.Out(1).Implements(rpcErrorType) {
		return nil, errors.New("endpoints must return (interface{}, Error)")
	}

	m := &method{
		name: apiNamespace + "_" + lowerCaseFirst(rm.Name),
		fn:   rm.Func,
	}
	// In(0) is the receiver
	for i := 1; i < ft.NumIn(); i++ {
		if i == 1 && ft.In(i) == httpRequestType {
			m.withHTTPRequest = true
			continue
		}
		m.args = append(m.args, ft.In(i))
	}
	for i := len(m.args) - 1; i >= 0 && m.args[i].Kind() == reflect.Ptr; i-- {
		m.optional++
	}
	return m, nil
}

// Handle executes a call and builds its response
func (h *Handler) Handle(c call) Response {
	log.Debugf("request method: %s, id: %v, params: %s", c.Method, c.ID, string(c.Params))

	m, found := h.methods[c.Method]
	if !found {
		return newErrorResponse(c.Request, NewServerError(NotFoundErrorCode, "the method %s does not exist or is not available", c.Method))
	}

	start := time.Now()
	result, err := h.invoke(m, c)
	metrics.ObserveRPC(m.name, err == nil, time.Since(start))
	if err != nil {
		log.Debugf("failed call %s, error: (%d) %s, params: %s", c.Method, err.ErrorCode(), err.Error(), string(c.Params))
		return newErrorResponse(c.Request, err)
	}
	return newResultResponse(c.Request, result)
}

func (h *Handler) invoke(m *method, c call) (interface{}, Error) {
	args, err := m.decodeArgs(c.Params)
	if err != nil {
		return nil, NewServerError(InvalidParamsErrorCode, err.Error())
	}

	in := make([]reflect.Value, 0, len(args)+2)
	in = append(in, h.receiver)
	if m.withHTTPRequest {
		in = append(in, reflect.ValueOf(c.httpRequest))
	}
	in = append(in, args...)

	out := m.fn.Call(in)
	if !out[1].IsNil() {
		return nil, out[1].Interface().(Error)
	}
	return out[0].Interface(), nil
}

func (m *method) decodeArgs(params json.RawMessage) ([]reflect.Value, error) {
	var raw []json.RawMessage
	if trimmed := bytes.TrimSpace(params); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, errors.New("params must be an array")
		}
	}

	if len(raw) > len(m.args) {
		return nil, fmt.Errorf("too many arguments, want at most %d", len(m.args))
	}
	if required := len(m.args) - m.optional; len(raw) < required {
		return nil, fmt.Errorf("missing value for required argument %d", len(raw))
	}

	values := make([]reflect.Value, len(m.args))
	for i, t := range m.args {
		v := reflect.New(t)
		if i < len(raw) {
			if err := json.Unmarshal(raw[i], v.Interface()); err != nil {
				return nil, fmt.Errorf("invalid argument %d: %v", i, err)
			}
		}
		values[i] = v.Elem()
	}
	return values, nil
}

func lowerCaseFirst(str string) string {
	for i, v := range str {
		return string(unicode.ToLower(v)) + str[i+1:]
	}
	return ""
}
