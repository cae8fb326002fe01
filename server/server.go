package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"syscall"
	"time"

	txqueue "github.com/0xPolygonHermez/zkevm-txqueue"
	"github.com/0xPolygonHermez/zkevm-txqueue/log"
	"github.com/didip/tollbooth/v6"
)

const (
	maxRequestContentLength = 1024 * 1024 * 5
	contentType             = "application/json"
	serviceName             = "zkevm-txqueue"
)

// https://www.jsonrpc.org/historical/json-rpc-over-http.html#http-header
var acceptedContentTypes = []string{contentType, "application/json-rpc", "application/jsonrequest"}

// Server serves the txq JSON-RPC API over HTTP and the queue events over websocket
type Server struct {
	config     Config
	handler    *Handler
	pool       poolInterface
	events     eventSubscriber
	httpServer *http.Server
}

// NewServer creates the txq server. events may be nil when the websocket endpoint is disabled
func NewServer(cfg Config, pool poolInterface, recovery recoveryInterface, events eventSubscriber) *Server {
	return &Server{
		config:  cfg,
		handler: newHandler(NewEndpoints(cfg, pool, recovery)),
		pool:    pool,
		events:  events,
	}
}

// Start listens on the configured address and serves until Stop is called
func (s *Server) Start() error {
	if s.httpServer != nil {
		return errors.New("server already started")
	}

	address := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.newMux(),
		ReadHeaderTimeout: s.config.ReadTimeout.Duration,
		ReadTimeout:       s.config.ReadTimeout.Duration,
		WriteTimeout:      s.config.WriteTimeout.Duration,
	}
	log.Infof("txq server listening on %s", address)

	err = s.httpServer.Serve(lis)
	if errors.Is(err, http.ErrServerClosed) {
		log.Warn("txq server stopped")
		return nil
	}
	return err
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(context.Background()); err != nil {
		return err
	}
	s.httpServer = nil
	return nil
}

func (s *Server) newMux() *http.ServeMux {
	lmt := tollbooth.NewLimiter(s.config.MaxRequestsPerIPAndSecond, nil)

	mux := http.NewServeMux()
	mux.Handle("/", tollbooth.LimitFuncHandler(lmt, s.handleHTTP))
	if s.config.EnableWebSocket && s.events != nil {
		mux.Handle(wsEndpoint, tollbooth.LimitFuncHandler(lmt, s.handleWebSocket))
	}
	return mux
}

func (s *Server) handleHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization")

	status, written := http.StatusOK, 0
	switch req.Method {
	case http.MethodOptions:
	case http.MethodGet:
		written = writeJSON(w, health{Name: serviceName, Version: txqueue.Version, Queue: s.pool.Stats()})
	case http.MethodPost:
		status, written = s.serveRPC(w, req)
	default:
		status = http.StatusMethodNotAllowed
		httpError(w, status, fmt.Errorf("method %s not allowed", req.Method))
	}
	s.accessLog(req, start, status, written)
}

// serveRPC executes a single call or a batch of calls and returns the http status and the written bytes
func (s *Server) serveRPC(w http.ResponseWriter, req *http.Request) (int, int) {
	if req.ContentLength > maxRequestContentLength {
		return httpError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("content length too large (%d > %d)", req.ContentLength, maxRequestContentLength)), 0
	}
	if !acceptedContentType(req.Header.Get("Content-Type")) {
		return httpError(w, http.StatusUnsupportedMediaType, fmt.Errorf("invalid content type, only %s is supported", contentType)), 0
	}

	data, err := io.ReadAll(io.LimitReader(req.Body, maxRequestContentLength))
	if err != nil {
		if errors.Is(err, syscall.EPIPE) {
			return http.StatusOK, 0
		}
		return httpError(w, http.StatusInternalServerError, err), 0
	}

	requests, batch, err := decodeRequests(data)
	if err != nil {
		return httpError(w, http.StatusBadRequest, err), 0
	}

	if !batch {
		return http.StatusOK, writeJSON(w, s.handler.Handle(call{Request: requests[0], httpRequest: req}))
	}

	if !s.config.BatchRequestsEnabled {
		return httpError(w, http.StatusBadRequest, ErrBatchRequestsDisabled), 0
	}
	if s.config.BatchRequestsLimit > 0 && len(requests) > int(s.config.BatchRequestsLimit) {
		return httpError(w, http.StatusRequestEntityTooLarge, ErrBatchRequestsLimitExceeded), 0
	}

	responses := make([]Response, 0, len(requests))
	for _, request := range requests {
		responses = append(responses, s.handler.Handle(call{Request: request, httpRequest: req}))
	}
	return http.StatusOK, writeJSON(w, responses)
}

func acceptedContentType(header string) bool {
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return false
	}
	for _, accepted := range acceptedContentTypes {
		if accepted == mt {
			return true
		}
	}
	return false
}

// decodeRequests parses a single request object or a batch array
func decodeRequests(data []byte) ([]Request, bool, error) {
	body := bytes.TrimLeft(data, " \t\r\n")
	if len(body) == 0 {
		return nil, false, errors.New("empty request body")
	}

	if body[0] != '[' {
		var request Request
		if err := json.Unmarshal(body, &request); err != nil {
			return nil, false, errors.New("invalid json object request body")
		}
		return []Request{request}, false, nil
	}

	var requests []Request
	if err := json.Unmarshal(body, &requests); err != nil {
		return nil, true, errors.New("invalid json array request body")
	}
	if len(requests) == 0 {
		return nil, true, errors.New("empty batch request")
	}
	return requests, true, nil
}

func writeJSON(w http.ResponseWriter, v interface{}) int {
	data, err := json.Marshal(v)
	if err != nil {
		log.Errorf("failed to encode response, error: %v", err)
		httpError(w, http.StatusInternalServerError, err)
		return 0
	}
	n, err := w.Write(data)
	if err != nil && !errors.Is(err, syscall.EPIPE) {
		log.Errorf("failed to write response, error: %v", err)
	}
	return n
}

func httpError(w http.ResponseWriter, code int, err error) int {
	log.Debugf("invalid request, status: %d, error: %v", code, err)
	http.Error(w, err.Error(), code)
	return code
}

func (s *Server) accessLog(req *http.Request, start time.Time, status, written int) {
	if !s.config.EnableHttpLog {
		return
	}
	log.Infow("http request",
		"remote", remoteAddr(req),
		"method", req.Method,
		"path", req.URL.Path,
		"status", status,
		"bytes", written,
		"duration", time.Since(start).String(),
		"userAgent", req.UserAgent(),
	)
}
