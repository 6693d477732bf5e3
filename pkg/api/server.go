package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperclob/pkg/app/clob"
	"github.com/uhyunpark/hyperclob/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperclob/pkg/app/core/orders"
	"github.com/uhyunpark/hyperclob/pkg/matcher"
)

// CallerHeader carries the authenticated caller address, set by the gateway
// in front of the node.
const CallerHeader = "X-Caller"

// Options configures a Server.
type Options struct {
	CORSOrigins []string
	Metrics     http.Handler // served at /metrics when set
	Book        Depth        // served at /api/v1/book when set
	Logger      *zap.Logger
}

// Depth is an aggregated view of resting orders, best price first.
type Depth interface {
	Levels(side orders.Side) []matcher.PriceLevel
}

// Server handles REST API and WebSocket connections
type Server struct {
	exchange *clob.Exchange
	router   *mux.Router
	hub      *Hub // WebSocket hub
	logger   *zap.Logger
	opts     Options

	httpServer *http.Server
	stopHub    context.CancelFunc
}

// NewServer creates a new API server
func NewServer(exchange *clob.Exchange, hub *Hub, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"http://localhost:3000", "http://localhost:3001"}
	}
	s := &Server{
		exchange: exchange,
		router:   mux.NewRouter(),
		hub:      hub,
		logger:   opts.Logger,
		opts:     opts,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.logRequests)

	// State endpoints
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/state/hash", s.handleGetStateHash).Methods("GET")
	api.HandleFunc("/assets/{asset}/totals", s.handleGetTotals).Methods("GET")
	if s.opts.Book != nil {
		api.HandleFunc("/book", s.handleGetBook).Methods("GET")
	}

	// Account endpoints
	api.HandleFunc("/accounts/{address}/balances", s.handleGetBalances).Methods("GET")
	api.HandleFunc("/accounts/{address}/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/orders/{id:[0-9]+}", s.handleGetOrder).Methods("GET")

	// Funds
	api.HandleFunc("/deposits", s.handleDeposit).Methods("POST")
	api.HandleFunc("/withdrawals", s.handleWithdraw).Methods("POST")

	// Orders and matching
	api.HandleFunc("/orders/buy", s.handlePlaceBuy).Methods("POST")
	api.HandleFunc("/orders/sell", s.handlePlaceSell).Methods("POST")
	api.HandleFunc("/orders/{id:[0-9]+}/cancel", s.handleCancel).Methods("POST")
	api.HandleFunc("/matches", s.handleMatch).Methods("POST")

	// Owner configuration
	api.HandleFunc("/admin/fee", s.handleSetFee).Methods("POST")
	api.HandleFunc("/admin/fee-recipient", s.handleSetFeeRecipient).Methods("POST")
	api.HandleFunc("/admin/matchers", s.handleSetMatcher).Methods("POST")
	api.HandleFunc("/admin/relay", s.handleSetRelay).Methods("POST")
	api.HandleFunc("/admin/owner", s.handleTransferOwnership).Methods("POST")

	// Meta-transactions
	api.HandleFunc("/relay", s.handleRelay).Methods("POST")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.opts.Metrics != nil {
		s.router.Handle("/metrics", s.opts.Metrics).Methods("GET")
	}
}

// Handler returns the router wrapped with CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", CallerHeader},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start starts the WebSocket hub and serves until Shutdown.
func (s *Server) Start(addr string) error {
	ctx, cancel := context.WithCancel(context.Background())
	s.stopHub = cancel
	go s.hub.Run(ctx)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("api_starting", zap.String("addr", addr))
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and disconnects WebSocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.stopHub != nil {
		s.stopHub()
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// ==============================
// Helpers
// ==============================

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("api_request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("caller", r.Header.Get(CallerHeader)),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

// callerOf reads the caller identity. A missing or malformed header is
// treated as an unauthenticated request.
func callerOf(r *http.Request) (common.Address, error) {
	h := r.Header.Get(CallerHeader)
	if !common.IsHexAddress(h) {
		return common.Address{}, errors.Join(ledger.ErrUnauthorized, errors.New("missing or malformed "+CallerHeader))
	}
	return common.HexToAddress(h), nil
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	respondStatus(w, http.StatusOK, data)
}

func respondStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}

type errorMapping struct {
	err    error
	status int
	code   string
}

// Order matters: a match on a missing order wraps both InvalidOrderState
// and OrderNotFound and reports the former.
var errorMappings = []errorMapping{
	{ledger.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
	{ledger.ErrInvalidOrderState, http.StatusConflict, "invalid_order_state"},
	{ledger.ErrAlreadyProcessed, http.StatusConflict, "already_processed"},
	{ledger.ErrReentrant, http.StatusConflict, "reentrant"},
	{ledger.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
	{ledger.ErrInsufficientAvailable, http.StatusUnprocessableEntity, "insufficient_available"},
	{ledger.ErrInvalidPriceCross, http.StatusUnprocessableEntity, "invalid_price_cross"},
	{ledger.ErrAmountExceedsRemaining, http.StatusUnprocessableEntity, "amount_exceeds_remaining"},
	{ledger.ErrOverflow, http.StatusUnprocessableEntity, "overflow"},
	{ledger.ErrExpired, http.StatusUnprocessableEntity, "expired"},
	{ledger.ErrBadSignature, http.StatusBadRequest, "bad_signature"},
	{ledger.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{ledger.ErrInvalidPrice, http.StatusBadRequest, "invalid_price"},
	{ledger.ErrInvalidFee, http.StatusBadRequest, "invalid_fee"},
	{ledger.ErrInvalidAddress, http.StatusBadRequest, "invalid_address"},
	{ledger.ErrUnsupportedAsset, http.StatusBadRequest, "unsupported_asset"},
	{ledger.ErrInvalidCall, http.StatusBadRequest, "invalid_call"},
	{ledger.ErrTransferFailed, http.StatusBadGateway, "transfer_failed"},
}

// statusOf maps an error from the exchange to an HTTP status and code.
func statusOf(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusOf(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("api_internal_error", zap.String("path", r.URL.Path), zap.Error(err))
	}
	respondError(w, status, code, err.Error())
}
