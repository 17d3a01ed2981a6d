package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"zkledger/core"
	"zkledger/observability"
	"zkledger/rpc/middleware"
	"zkledger/storage/eventstore"
)

const (
	jsonRPCVersion      = "2.0"
	defaultMaxBodyBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeForbidden      = -32003
	codeRateLimited    = -32020
)

// EventLister serves journaled events.
type EventLister interface {
	List(ctx context.Context, q eventstore.Query) ([]eventstore.Entry, error)
}

type ServerConfig struct {
	Auth              middleware.AuthConfig
	RateLimit         middleware.RateLimit
	MaxBodyBytes      int64
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	Logger            *slog.Logger
}

type handlerFunc func(r *http.Request, req *RPCRequest) (interface{}, error)

type method struct {
	role    middleware.Role
	limited bool
	handle  handlerFunc
}

type Server struct {
	ledger  *core.Ledger
	events  EventLister
	auth    *middleware.Authenticator
	limiter *middleware.RateLimiter
	logger  *slog.Logger
	cfg     ServerConfig
	methods map[string]method
}

// NewServer exposes ledger over JSON-RPC. events may be nil when no journal is
// configured.
func NewServer(ledger *core.Ledger, events EventLister, cfg ServerConfig) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		ledger:  ledger,
		events:  events,
		auth:    middleware.NewAuthenticator(cfg.Auth, logger),
		limiter: middleware.NewRateLimiter(cfg.RateLimit, logger),
		logger:  logger,
		cfg:     cfg,
	}
	s.methods = s.routes()
	return s
}

func (s *Server) routes() map[string]method {
	public := func(h handlerFunc) method { return method{role: middleware.RolePublic, handle: h} }
	user := func(h handlerFunc) method { return method{role: middleware.RoleUser, limited: true, handle: h} }
	operator := func(h handlerFunc) method { return method{role: middleware.RoleOperator, handle: h} }
	admin := func(h handlerFunc) method { return method{role: middleware.RoleAdmin, handle: h} }

	return map[string]method{
		"rollup_commitBlocks":       operator(s.handleCommitBlocks),
		"rollup_verifyBlocks":       operator(s.handleVerifyBlocks),
		"rollup_executeBlocks":      operator(s.handleExecuteBlocks),
		"rollup_revertBlocks":       admin(s.handleRevertBlocks),
		"rollup_activateEvacuation": admin(s.handleActivateEvacuation),
		"rollup_status":             public(s.handleStatus),
		"rollup_blockStage":         public(s.handleBlockStage),
		"rollup_getL1Request":       public(s.handleGetL1Request),

		"account_register":       user(s.handleRegisterAccount),
		"account_deposit":        user(s.handleDeposit),
		"account_forceWithdraw":  user(s.handleForceWithdraw),
		"account_get":            public(s.handleGetAccount),
		"account_pendingBalance": public(s.handlePendingBalance),

		"loan_get":                        public(s.handleGetLoan),
		"loan_healthFactor":               public(s.handleHealthFactor),
		"loan_liquidationInfo":            public(s.handleLiquidationInfo),
		"loan_params":                     public(s.handleLoanParams),
		"loan_liquidate":                  user(s.handleLiquidate),
		"loan_repay":                      user(s.handleRepay),
		"loan_addCollateral":              user(s.handleAddCollateral),
		"loan_removeCollateral":           user(s.handleRemoveCollateral),
		"loan_removeCollateralWithPermit": user(s.handleRemoveCollateralWithPermit),
		"loan_rollBorrow":                 user(s.handleRollBorrow),
		"loan_forceCancelRollBorrow":      user(s.handleForceCancelRollBorrow),

		"admin_setLiquidationFactor":        admin(s.handleSetLiquidationFactor),
		"admin_setHalfLiquidationThreshold": admin(s.handleSetHalfLiquidationThreshold),
		"admin_setRollOverFee":              admin(s.handleSetRollOverFee),
		"admin_adminCancelRollBorrow":       admin(s.handleAdminCancelRollBorrow),
		"admin_registerToken":               admin(s.handleRegisterToken),
		"admin_createLoanProduct":           admin(s.handleCreateLoanProduct),

		"events_list": public(s.handleEventsList),
	}
}

// Handler builds the HTTP surface: JSON-RPC on POST /, prometheus on
// /metrics and liveness on /healthz.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.With(s.auth.Middleware).Post("/", s.handle)
	return otelhttp.NewHandler(r, "zkledger-rpc")
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("json-rpc server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      json.RawMessage   `json:"id"`
}

type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id json.RawMessage, code int, message string, data interface{}) {
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

func writeResult(w http.ResponseWriter, id json.RawMessage, result interface{}) {
	if result == nil {
		result = true
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", s.cfg.MaxBodyBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if strings.TrimSpace(req.Method) == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	m, ok := s.methods[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}
	module := moduleOf(req.Method)
	principal, _ := middleware.PrincipalFrom(r.Context())
	if !principal.Has(m.role) {
		if principal == nil {
			writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "authentication required", string(m.role))
		} else {
			writeError(w, http.StatusForbidden, req.ID, codeForbidden, "insufficient role", string(m.role))
		}
		observability.ModuleMetrics().Observe(module, req.Method, codeUnauthorized, 0)
		return
	}
	if m.limited && !s.limiter.Allow(middleware.CallerKey(r)) {
		observability.ModuleMetrics().RecordThrottle(module, "rate_limit")
		writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate limit exceeded", nil)
		return
	}

	start := time.Now()
	result, err := m.handle(r, req)
	if err != nil {
		rpcErr, status := toRPCError(err)
		observability.ModuleMetrics().Observe(module, req.Method, rpcErr.Code, time.Since(start))
		if status >= http.StatusInternalServerError {
			s.logger.Error("rpc call failed", "method", req.Method, "error", err)
		}
		writeError(w, status, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	observability.ModuleMetrics().Observe(module, req.Method, 0, time.Since(start))
	writeResult(w, req.ID, result)
}

func moduleOf(method string) string {
	if idx := strings.IndexByte(method, '_'); idx > 0 {
		return method[:idx]
	}
	return method
}
