package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lendbook/native/lendbook"
	"lendbook/observability"
	"lendbook/oracle"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeActionPaused   = -32010
	codePriceGuard     = -32011
)

// Server exposes the book engine over JSON-RPC 2.0.
type Server struct {
	engine    *lendbook.Engine
	oracle    *oracle.Aggregator
	logger    *slog.Logger
	authToken string
}

// NewServer wires the RPC surface to an engine. A bearer token read from
// LENDBOOK_RPC_TOKEN, when set, is required for mutating methods.
func NewServer(engine *lendbook.Engine, agg *oracle.Aggregator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:    engine,
		oracle:    agg,
		logger:    logger,
		authToken: strings.TrimSpace(os.Getenv("LENDBOOK_RPC_TOKEN")),
	}
}

// Router builds the HTTP routing table: the JSON-RPC endpoint, a health probe
// and the Prometheus scrape endpoint.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Post("/", s.handle)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Start serves the router on addr, blocking until the listener fails.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting JSON-RPC server", "addr", addr)
	return http.ListenAndServe(addr, s.Router())
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	payload := map[string]interface{}{"status": "ok"}
	if s.oracle != nil {
		if quote, ok := s.oracle.LastQuote(); ok {
			payload["oraclePrice"] = quote.Price.String()
			payload["oracleSource"] = quote.Source
			payload["oracleObserved"] = quote.Timestamp.UTC().Format(time.RFC3339)
		}
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "authorization required"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token != s.authToken {
		return &RPCError{Code: codeUnauthorized, Message: "invalid token"}
	}
	return nil
}

// handle is the main request handler that routes to the method handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")
	recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	started := time.Now()

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(recorder, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(recorder, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(recorder, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(recorder, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(recorder, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	defer func() {
		observability.RPCMetrics().Observe(req.Method, recorder.status, time.Since(started))
	}()

	if mutating(req.Method) {
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(recorder, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
	}

	switch req.Method {
	case "lendbook_fund":
		s.handleFund(recorder, req)
	case "lendbook_deposit":
		s.handleDeposit(recorder, req)
	case "lendbook_withdraw":
		s.handleWithdraw(recorder, req)
	case "lendbook_borrow":
		s.handleBorrow(recorder, req)
	case "lendbook_repay":
		s.handleRepay(recorder, req)
	case "lendbook_take":
		s.handleTake(recorder, req)
	case "lendbook_liquidate":
		s.handleLiquidate(recorder, req)
	case "lendbook_liquidateBorrower":
		s.handleLiquidateBorrower(recorder, req)
	case "lendbook_changePairedPrice":
		s.handleChangePairedPrice(recorder, req)
	case "lendbook_changeBorrowable":
		s.handleChangeBorrowable(recorder, req)
	case "lendbook_getOrder":
		s.handleGetOrder(recorder, req)
	case "lendbook_getPosition":
		s.handleGetPosition(recorder, req)
	case "lendbook_getUser":
		s.handleGetUser(recorder, req)
	case "lendbook_getMarket":
		s.handleGetMarket(recorder, req)
	case "lendbook_getBalance":
		s.handleGetBalance(recorder, req)
	case "lendbook_excessCollateral":
		s.handleExcessCollateral(recorder, req)
	default:
		writeError(recorder, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
	}
}

func mutating(method string) bool {
	switch method {
	case "lendbook_fund", "lendbook_deposit", "lendbook_withdraw", "lendbook_borrow",
		"lendbook_repay", "lendbook_take", "lendbook_liquidate", "lendbook_liquidateBorrower",
		"lendbook_changePairedPrice", "lendbook_changeBorrowable":
		return true
	}
	return false
}
