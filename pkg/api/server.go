package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/stoxbook/pkg/app/core/escrow"
	"github.com/uhyunpark/stoxbook/pkg/app/core/exchange"
	"github.com/uhyunpark/stoxbook/pkg/app/core/orderbook"
	"github.com/uhyunpark/stoxbook/pkg/app/core/transaction"
	"github.com/uhyunpark/stoxbook/pkg/app/stox"
	"github.com/uhyunpark/stoxbook/pkg/metrics"
)

const maxBodyBytes = 64 << 10

// Server handles REST API and WebSocket connections
type Server struct {
	app     *stox.App
	router  *mux.Router
	hub     *Hub
	metrics *metrics.Metrics
	logger  *zap.Logger
	origins []string
}

// NewServer wires routes for app. hub should be the publisher the exchange was
// built with so WebSocket clients see its events.
func NewServer(app *stox.App, hub *Hub, m *metrics.Metrics, logger *zap.Logger, origins []string) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		app:     app,
		router:  mux.NewRouter(),
		hub:     hub,
		metrics: m,
		logger:  logger,
		origins: origins,
	}
	hub.SetSnapshotter(func() interface{} { return s.orderbookSnapshot() })
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.instrument)

	// Book
	api.HandleFunc("/book/buy", s.handleGetSide(orderbook.Buy)).Methods("GET")
	api.HandleFunc("/book/sell", s.handleGetSide(orderbook.Sell)).Methods("GET")
	api.HandleFunc("/book/depth", s.handleGetDepth).Methods("GET")
	api.HandleFunc("/book/status", s.handleGetStatus).Methods("GET")
	api.HandleFunc("/trades", s.handleGetTrades).Methods("GET")

	// Accounts
	api.HandleFunc("/accounts/{address}/withdrawable", s.handleGetWithdrawable).Methods("GET")
	api.HandleFunc("/accounts/{address}/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/accounts/{address}/balances", s.handleGetBalances).Methods("GET")

	// Signed transactions
	api.HandleFunc("/orders", s.handleSubmit(transaction.TxTypeOrder)).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleSubmit(transaction.TxTypeCancel)).Methods("POST")
	api.HandleFunc("/withdraw", s.handleSubmit(transaction.TxTypeWithdraw)).Methods("POST")
	api.HandleFunc("/approve", s.handleSubmit(transaction.TxTypeApprove)).Methods("POST")
	api.HandleFunc("/admin/pause", s.handleSubmit(transaction.TxTypePause)).Methods("POST")
	api.HandleFunc("/admin/unpause", s.handleSubmit(transaction.TxTypeUnpause)).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}
}

// Handler returns the router wrapped in CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api server starting", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.metrics.APIRequest(route, rec.code)
	})
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetSide(side orderbook.Side) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, toSideView(side, s.app.Exchange().Snapshot(side)))
	}
}

func (s *Server) orderbookSnapshot() OrderbookSnapshot {
	ex := s.app.Exchange()
	return OrderbookSnapshot{
		Bids:      toPriceLevels(ex.Levels(orderbook.Buy)),
		Asks:      toPriceLevels(ex.Levels(orderbook.Sell)),
		Seq:       ex.Seq(),
		Timestamp: time.Now().UnixMilli(),
	}
}

func (s *Server) handleGetDepth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.orderbookSnapshot())
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	ex := s.app.Exchange()
	respondJSON(w, toStatus(ex.Address().Hex(), ex.Status()))
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", v)
			return
		}
		limit = min(n, 500)
	}
	fills, err := s.app.Exchange().RecentFills(limit)
	if err != nil {
		s.logger.Error("load recent fills", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load trades", "")
		return
	}
	out := make([]TradeInfo, len(fills))
	for i, f := range fills {
		out[i] = toTradeInfo(f)
	}
	respondJSON(w, out)
}

func parseAddress(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	s := mux.Vars(r)["address"]
	if !common.IsHexAddress(s) {
		respondError(w, http.StatusBadRequest, "invalid address", s)
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func (s *Server) handleGetWithdrawable(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, r)
	if !ok {
		return
	}
	ex := s.app.Exchange()
	respondJSON(w, WithdrawableInfo{
		Address:    addr.Hex(),
		Currencies: units(ex.WithdrawableCurrencies(addr)),
		Securities: units(ex.WithdrawableSecurities(addr)),
	})
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, r)
	if !ok {
		return
	}
	orders := s.app.Exchange().OrdersOf(addr)
	out := make([]*OrderInfo, len(orders))
	for i, o := range orders {
		out[i] = toOrderInfo(o)
	}
	respondJSON(w, out)
}

func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, r)
	if !ok {
		return
	}
	ex := s.app.Exchange()
	resp := AccountBalances{Address: addr.Hex(), Nonce: ex.Nonce(addr)}
	for _, asset := range []escrow.Asset{escrow.Cash, escrow.Security} {
		ledger := ex.Ledger(asset)
		bal, err := ledger.BalanceOf(r.Context(), addr)
		if err != nil {
			respondError(w, http.StatusBadGateway, "ledger unavailable", err.Error())
			return
		}
		allowance, err := ledger.Allowance(r.Context(), addr, ex.Address())
		if err != nil {
			respondError(w, http.StatusBadGateway, "ledger unavailable", err.Error())
			return
		}
		resp.Balances = append(resp.Balances, BalanceInfo{
			Token:     ledger.Symbol(),
			Balance:   units(bal),
			Allowance: units(allowance),
		})
	}
	respondJSON(w, resp)
}

// handleSubmit accepts a signed transaction of the given type.
func (s *Server) handleSubmit(want transaction.TxType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			respondError(w, http.StatusBadRequest, "failed to read body", err.Error())
			return
		}
		tx, err := transaction.ParseTransaction(body)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid transaction", err.Error())
			return
		}
		if tx.Type != want {
			respondError(w, http.StatusBadRequest, "invalid transaction type", "expected type="+string(want))
			return
		}

		receipt, err := s.app.Apply(r.Context(), tx)
		if err != nil {
			respondError(w, StatusFor(err), exchange.Reason(reasonable(err)), err.Error())
			return
		}
		respondJSON(w, toTxResponse(receipt))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok", "state": s.app.Exchange().BreakerState().String()})
}

// StatusFor maps an operation error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, transaction.ErrMalformed),
		errors.Is(err, exchange.ErrInvalidOrder),
		errors.Is(err, exchange.ErrInvalidAsset),
		errors.Is(err, stox.ErrUnknownToken):
		return http.StatusBadRequest
	case errors.Is(err, transaction.ErrBadSignature):
		return http.StatusUnauthorized
	case errors.Is(err, exchange.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, exchange.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, exchange.ErrOrderExists),
		errors.Is(err, exchange.ErrInvalidState),
		errors.Is(err, exchange.ErrPaused),
		errors.Is(err, exchange.ErrInvalidNonce):
		return http.StatusConflict
	case errors.Is(err, exchange.ErrInsufficientAllowance),
		errors.Is(err, exchange.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, exchange.ErrBookFull):
		return http.StatusTooManyRequests
	case errors.Is(err, exchange.ErrTransferFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// reasonable folds request-level errors into the exchange's error labels.
func reasonable(err error) error {
	switch {
	case errors.Is(err, transaction.ErrMalformed), errors.Is(err, stox.ErrUnknownToken):
		return exchange.ErrInvalidOrder
	case errors.Is(err, transaction.ErrBadSignature):
		return exchange.ErrUnauthorized
	}
	return err
}

// ==============================
// Helper Functions
// ==============================

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
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
