package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"SynthVault/internal/engine"
	"SynthVault/internal/observability"
	"SynthVault/internal/oracle"
	"SynthVault/internal/persistence"
	"SynthVault/internal/token"
)

// Server is the JSON HTTP API over the engine. The engine is single-writer
// and its book is not safe for concurrent access, so every handler that
// touches it holds mu: mutations take the write lock, reads take the read
// lock. net/http runs each request on its own goroutine.
type Server struct {
	engine  *engine.Engine
	events  *persistence.EventLogWriter // nil disables the audit endpoint
	faucet  *token.Bank                 // nil disables the custody credit endpoint
	health  *observability.HealthChecker
	log     zerolog.Logger
	metrics *observability.Metrics

	mu sync.RWMutex
}

func New(
	eng *engine.Engine,
	events *persistence.EventLogWriter,
	health *observability.HealthChecker,
	log zerolog.Logger,
	metrics *observability.Metrics,
) *Server {
	return &Server{engine: eng, events: events, health: health, log: log, metrics: metrics}
}

// WithFaucet enables the custody credit endpoint backed by the in-process
// bank. Only meaningful for development deployments where custody is not an
// external system.
func (s *Server) WithFaucet(bank *token.Bank) *Server {
	s.faucet = bank
	return s
}

// Sync runs fn while holding the mutation lock, so out-of-band readers
// (the snapshot worker) never observe a half-applied operation.
func (s *Server) Sync(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.health.LivenessHandler).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.health.ReadinessHandler).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(s.instrument)

	v1.HandleFunc("/assets", s.handleAssets).Methods(http.MethodGet)
	v1.HandleFunc("/assets/{asset}/feed", s.handleFeed).Methods(http.MethodGet)
	v1.HandleFunc("/assets/{asset}/value", s.handleUsdValue).Methods(http.MethodGet)
	v1.HandleFunc("/assets/{asset}/token-amount", s.handleTokenAmount).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{user}", s.handleAccount).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{user}/health", s.handleHealthFactor).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{user}/collateral/{asset}", s.handleCollateralBalance).Methods(http.MethodGet)
	v1.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)

	v1.HandleFunc("/deposit", s.handleDeposit).Methods(http.MethodPost)
	v1.HandleFunc("/redeem", s.handleRedeem).Methods(http.MethodPost)
	v1.HandleFunc("/mint", s.handleMint).Methods(http.MethodPost)
	v1.HandleFunc("/burn", s.handleBurn).Methods(http.MethodPost)
	v1.HandleFunc("/deposit-and-mint", s.handleDepositAndMint).Methods(http.MethodPost)
	v1.HandleFunc("/redeem-for-burn", s.handleRedeemForBurn).Methods(http.MethodPost)
	v1.HandleFunc("/liquidate", s.handleLiquidate).Methods(http.MethodPost)

	if s.faucet != nil {
		v1.HandleFunc("/custody/credit", s.handleCredit).Methods(http.MethodPost)
	}

	return r
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		if s.metrics != nil {
			route := r.URL.Path
			if tmpl, err := mux.CurrentRoute(r).GetPathTemplate(); err == nil {
				route = tmpl
			}
			s.metrics.APIRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
			s.metrics.APIDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	type assetInfo struct {
		Symbol string `json:"symbol"`
		Feed   string `json:"feed"`
	}
	s.mu.RLock()
	symbols := s.engine.RegisteredAssets()
	out := make([]assetInfo, 0, len(symbols))
	for _, sym := range symbols {
		feed, err := s.engine.PriceFeedOf(sym)
		if err != nil {
			s.mu.RUnlock()
			s.writeError(w, err)
			return
		}
		out = append(out, assetInfo{Symbol: sym, Feed: feed})
	}
	s.mu.RUnlock()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"assets": out})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	user, err := uuid.Parse(mux.Vars(r)["user"])
	if err != nil {
		s.writeBadRequest(w, "invalid user id")
		return
	}

	s.mu.RLock()
	minted, collateralUsd, err := s.engine.AccountInformation(r.Context(), user)
	if err != nil {
		s.mu.RUnlock()
		s.writeError(w, err)
		return
	}
	factor, err := s.engine.HealthFactor(r.Context(), user)
	s.mu.RUnlock()
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"user":           user.String(),
		"minted":         minted.Dec(),
		"collateral_usd": collateralUsd.Dec(),
		"health_factor":  factor.Dec(),
	})
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	asset := mux.Vars(r)["asset"]
	s.mu.RLock()
	feed, err := s.engine.PriceFeedOf(asset)
	s.mu.RUnlock()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"asset": asset, "feed": feed})
}

func (s *Server) handleHealthFactor(w http.ResponseWriter, r *http.Request) {
	user, err := uuid.Parse(mux.Vars(r)["user"])
	if err != nil {
		s.writeBadRequest(w, "invalid user id")
		return
	}
	s.mu.RLock()
	factor, err := s.engine.HealthFactor(r.Context(), user)
	s.mu.RUnlock()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"user":          user.String(),
		"health_factor": factor.Dec(),
	})
}

func (s *Server) handleCollateralBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	user, err := uuid.Parse(vars["user"])
	if err != nil {
		s.writeBadRequest(w, "invalid user id")
		return
	}
	s.mu.RLock()
	balance := s.engine.CollateralBalanceOf(user, vars["asset"])
	s.mu.RUnlock()
	s.writeJSON(w, http.StatusOK, map[string]string{
		"user":    user.String(),
		"asset":   vars["asset"],
		"balance": balance.Dec(),
	})
}

func (s *Server) handleUsdValue(w http.ResponseWriter, r *http.Request) {
	amount, ok := s.parseAmountQuery(w, r, "amount")
	if !ok {
		return
	}
	asset := mux.Vars(r)["asset"]
	s.mu.RLock()
	usd, err := s.engine.UsdValue(r.Context(), asset, amount)
	s.mu.RUnlock()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"asset": asset, "amount": amount.Dec(), "usd_value": usd.Dec(),
	})
}

func (s *Server) handleTokenAmount(w http.ResponseWriter, r *http.Request) {
	usd, ok := s.parseAmountQuery(w, r, "usd")
	if !ok {
		return
	}
	asset := mux.Vars(r)["asset"]
	s.mu.RLock()
	amount, err := s.engine.TokenAmountFromUsd(r.Context(), asset, usd)
	s.mu.RUnlock()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"asset": asset, "usd": usd.Dec(), "token_amount": amount.Dec(),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		http.Error(w, "event log not available", http.StatusNotFound)
		return
	}
	from := int64(0)
	if v := r.URL.Query().Get("from"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.writeBadRequest(w, "invalid from sequence")
			return
		}
		from = parsed
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 1000 {
			s.writeBadRequest(w, "invalid limit")
			return
		}
		limit = parsed
	}

	rows, err := s.events.LoadEventsFrom(r.Context(), from, limit)
	if err != nil {
		s.log.Error().Err(err).Msg("event query failed")
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}

	type eventOut struct {
		Sequence       int64           `json:"sequence"`
		EventType      string          `json:"event_type"`
		IdempotencyKey string          `json:"idempotency_key"`
		Timestamp      time.Time       `json:"timestamp"`
		Payload        json.RawMessage `json:"payload"`
	}
	out := make([]eventOut, 0, len(rows))
	for _, row := range rows {
		out = append(out, eventOut{
			Sequence:       row.Sequence,
			EventType:      row.EventType,
			IdempotencyKey: row.IdempotencyKey,
			Timestamp:      row.Timestamp,
			Payload:        row.Payload,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"events": out})
}

// ---------------------------------------------------------------------------
// Mutations
// ---------------------------------------------------------------------------

type positionRequest struct {
	User   string `json:"user"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req positionRequest
	user, amount, ok := s.decodePosition(w, r, &req)
	if !ok {
		return
	}

	s.mu.Lock()
	err := s.engine.Deposit(r.Context(), user, req.Asset, amount)
	seq := s.engine.Sequence()
	s.mu.Unlock()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"sequence": seq})
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req positionRequest
	user, amount, ok := s.decodePosition(w, r, &req)
	if !ok {
		return
	}

	s.mu.Lock()
	err := s.engine.RedeemCollateral(r.Context(), user, req.Asset, amount)
	seq := s.engine.Sequence()
	s.mu.Unlock()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"sequence": seq})
}

type liabilityRequest struct {
	User   string `json:"user"`
	Amount string `json:"amount"`
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req liabilityRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	user, amount, ok := s.parseUserAmount(w, req.User, req.Amount)
	if !ok {
		return
	}

	s.mu.Lock()
	err := s.engine.Mint(r.Context(), user, amount)
	seq := s.engine.Sequence()
	s.mu.Unlock()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"sequence": seq})
}

func (s *Server) handleBurn(w http.ResponseWriter, r *http.Request) {
	var req liabilityRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	user, amount, ok := s.parseUserAmount(w, req.User, req.Amount)
	if !ok {
		return
	}

	s.mu.Lock()
	err := s.engine.Burn(r.Context(), user, amount)
	seq := s.engine.Sequence()
	s.mu.Unlock()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"sequence": seq})
}

type combinedRequest struct {
	User          string `json:"user"`
	Asset         string `json:"asset"`
	DepositAmount string `json:"deposit_amount"`
	MintAmount    string `json:"mint_amount"`
	RedeemAmount  string `json:"redeem_amount"`
	BurnAmount    string `json:"burn_amount"`
}

func (s *Server) handleDepositAndMint(w http.ResponseWriter, r *http.Request) {
	var req combinedRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	user, err := uuid.Parse(req.User)
	if err != nil {
		s.writeBadRequest(w, "invalid user id")
		return
	}
	depositAmount, err := uint256.FromDecimal(req.DepositAmount)
	if err != nil {
		s.writeBadRequest(w, "invalid deposit_amount")
		return
	}
	mintAmount, err := uint256.FromDecimal(req.MintAmount)
	if err != nil {
		s.writeBadRequest(w, "invalid mint_amount")
		return
	}

	s.mu.Lock()
	err = s.engine.DepositAndMint(r.Context(), user, req.Asset, depositAmount, mintAmount)
	seq := s.engine.Sequence()
	s.mu.Unlock()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"sequence": seq})
}

func (s *Server) handleRedeemForBurn(w http.ResponseWriter, r *http.Request) {
	var req combinedRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	user, err := uuid.Parse(req.User)
	if err != nil {
		s.writeBadRequest(w, "invalid user id")
		return
	}
	redeemAmount, err := uint256.FromDecimal(req.RedeemAmount)
	if err != nil {
		s.writeBadRequest(w, "invalid redeem_amount")
		return
	}
	burnAmount, err := uint256.FromDecimal(req.BurnAmount)
	if err != nil {
		s.writeBadRequest(w, "invalid burn_amount")
		return
	}

	s.mu.Lock()
	err = s.engine.RedeemForBurn(r.Context(), user, req.Asset, redeemAmount, burnAmount)
	seq := s.engine.Sequence()
	s.mu.Unlock()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"sequence": seq})
}

type liquidateRequest struct {
	Liquidator string `json:"liquidator"`
	Target     string `json:"target"`
	Asset      string `json:"asset"`
	DebtUsd    string `json:"debt_usd"`
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	liquidator, err := uuid.Parse(req.Liquidator)
	if err != nil {
		s.writeBadRequest(w, "invalid liquidator id")
		return
	}
	target, err := uuid.Parse(req.Target)
	if err != nil {
		s.writeBadRequest(w, "invalid target id")
		return
	}
	debt, err := uint256.FromDecimal(req.DebtUsd)
	if err != nil {
		s.writeBadRequest(w, "invalid debt_usd")
		return
	}

	s.mu.Lock()
	err = s.engine.Liquidate(r.Context(), liquidator, target, req.Asset, debt)
	seq := s.engine.Sequence()
	s.mu.Unlock()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"sequence": seq})
}

func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request) {
	var req positionRequest
	user, amount, ok := s.decodePosition(w, r, &req)
	if !ok {
		return
	}
	s.mu.Lock()
	s.faucet.Credit(req.Asset, user, amount)
	s.mu.Unlock()
	s.writeJSON(w, http.StatusOK, map[string]string{
		"user": user.String(), "asset": req.Asset,
		"balance": s.faucet.BalanceOf(req.Asset, user).Dec(),
	})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeBadRequest(w, "malformed request body")
		return false
	}
	return true
}

func (s *Server) decodePosition(w http.ResponseWriter, r *http.Request, req *positionRequest) (uuid.UUID, *uint256.Int, bool) {
	if !s.decodeJSON(w, r, req) {
		return uuid.UUID{}, nil, false
	}
	user, amount, ok := s.parseUserAmount(w, req.User, req.Amount)
	if !ok {
		return uuid.UUID{}, nil, false
	}
	return user, amount, true
}

func (s *Server) parseUserAmount(w http.ResponseWriter, userStr, amountStr string) (uuid.UUID, *uint256.Int, bool) {
	user, err := uuid.Parse(userStr)
	if err != nil {
		s.writeBadRequest(w, "invalid user id")
		return uuid.UUID{}, nil, false
	}
	amount, err := uint256.FromDecimal(amountStr)
	if err != nil {
		s.writeBadRequest(w, "invalid amount")
		return uuid.UUID{}, nil, false
	}
	return user, amount, true
}

func (s *Server) parseAmountQuery(w http.ResponseWriter, r *http.Request, key string) (*uint256.Int, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		s.writeBadRequest(w, key+" query parameter required")
		return nil, false
	}
	amount, err := uint256.FromDecimal(v)
	if err != nil {
		s.writeBadRequest(w, "invalid "+key)
		return nil, false
	}
	return amount, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("response encode failed")
	}
}

func (s *Server) writeBadRequest(w http.ResponseWriter, msg string) {
	s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

// writeError maps engine errors onto HTTP statuses: invalid input 400,
// balance conflicts 409, risk-policy rejections 422, collaborator failures
// 502, oracle staleness 503.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrZeroAmount), errors.Is(err, engine.ErrAssetNotRegistered):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrInsufficientCollateral), errors.Is(err, engine.ErrInsufficientLiability):
		status = http.StatusConflict
	case errors.Is(err, engine.ErrHealthFactorBroken),
		errors.Is(err, engine.ErrHealthFactorOk),
		errors.Is(err, engine.ErrHealthFactorNotImproved):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrTransferFailed), errors.Is(err, engine.ErrMintFailed):
		status = http.StatusBadGateway
	case errors.Is(err, oracle.ErrStalePrice), errors.Is(err, oracle.ErrNoPrice):
		status = http.StatusServiceUnavailable
	}

	body := map[string]string{"error": err.Error()}
	var hf *engine.HealthFactorError
	if errors.As(err, &hf) {
		body["health_factor"] = hf.Factor.Dec()
	}
	s.writeJSON(w, status, body)
}
