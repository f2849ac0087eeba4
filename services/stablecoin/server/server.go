// Package server exposes the stablecoin ledger over an authenticated JSON
// HTTP API. Queries are read-only views of the bookkeeper; actions forward to
// the native components with the caller address supplied in the request body,
// so capability checks stay inside the components themselves.
package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/leyr1112/alpaca-stablecoin/native/bookkeeper"
	"github.com/leyr1112/alpaca-stablecoin/native/liquidation"
	"github.com/leyr1112/alpaca-stablecoin/native/oracle"
	"github.com/leyr1112/alpaca-stablecoin/native/stabilityfee"
	"github.com/leyr1112/alpaca-stablecoin/native/systemdebt"
	"github.com/leyr1112/alpaca-stablecoin/storage"
)

const maxBodyBytes = 1 << 16 // 64 KiB

// Config captures the dependencies required to construct the server.
type Config struct {
	Ledger     *bookkeeper.BookKeeper
	Oracle     *oracle.PriceOracle
	Feeds      map[string]*oracle.SimplePriceFeed
	Engine     *liquidation.Engine
	Collector  *stabilityfee.Collector
	SystemDebt *systemdebt.Engine
	Snapshots  *storage.Store
	AuthTokens []string
	Logger     *slog.Logger
	Now        func() time.Time
}

// Server encapsulates dependencies for the HTTP API.
type Server struct {
	ledger     *bookkeeper.BookKeeper
	oracle     *oracle.PriceOracle
	feeds      map[string]*oracle.SimplePriceFeed
	engine     *liquidation.Engine
	collector  *stabilityfee.Collector
	systemDebt *systemdebt.Engine
	snapshots  *storage.Store
	tokens     []string
	logger     *slog.Logger
	now        func() time.Time

	router http.Handler
}

// New constructs a configured HTTP router with bearer authentication.
func New(cfg Config) (*Server, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("server: ledger required")
	}
	if len(cfg.AuthTokens) == 0 {
		return nil, errors.New("server: at least one auth token required")
	}
	srv := &Server{
		ledger:     cfg.Ledger,
		oracle:     cfg.Oracle,
		feeds:      cfg.Feeds,
		engine:     cfg.Engine,
		collector:  cfg.Collector,
		systemDebt: cfg.SystemDebt,
		snapshots:  cfg.Snapshots,
		tokens:     cfg.AuthTokens,
		logger:     cfg.Logger,
		now:        cfg.Now,
	}
	if srv.logger == nil {
		srv.logger = slog.Default()
	}
	if srv.now == nil {
		srv.now = time.Now
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "live": s.ledger.Live()})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(s.authenticate)

		api.Get("/totals", s.GetTotals)
		api.Get("/pools", s.ListPools)
		api.Get("/pools/{poolID}", s.GetPool)
		api.Get("/pools/{poolID}/positions/{address}", s.GetPosition)
		api.Get("/pools/{poolID}/collateral/{address}", s.GetCollateralBalance)
		api.Get("/balances/{address}", s.GetBalances)

		api.Post("/pools/{poolID}/collateral", s.AddCollateral)
		api.Post("/pools/{poolID}/adjust", s.AdjustPosition)
		api.Post("/pools/{poolID}/move", s.MovePosition)
		api.Post("/pools/{poolID}/fees", s.CollectStabilityFee)
		api.Post("/pools/{poolID}/price", s.PublishPrice)
		api.Post("/pools/{poolID}/feed-price", s.SetFeedPrice)
		api.Post("/collateral/transfer", s.MoveCollateral)
		api.Post("/stablecoin/transfer", s.MoveStablecoin)
		api.Post("/whitelist", s.Whitelist)
		api.Delete("/whitelist", s.Blacklist)

		api.Post("/liquidations", s.Liquidate)
		api.Post("/liquidations/batch", s.BatchLiquidate)

		api.Post("/system-debt/settle", s.SettleSystemBadDebt)
		api.Post("/system-debt/withdraw", s.WithdrawSurplus)

		api.Get("/snapshots", s.ListSnapshots)
		api.Post("/snapshots", s.SaveSnapshot)
	})
	return r
}

// authenticate enforces a constant-time bearer token match against the
// configured operator tokens.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := strings.TrimSpace(r.Header.Get("Authorization"))
		token, ok := strings.CutPrefix(authz, "Bearer ")
		if !ok {
			s.writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}
		token = strings.TrimSpace(token)
		for _, candidate := range s.tokens {
			if subtle.ConstantTimeCompare([]byte(token), []byte(candidate)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
		}
		s.writeError(w, http.StatusUnauthorized, errors.New("invalid bearer token"))
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeDomainError maps component errors onto HTTP statuses: capability
// failures become 403, everything else a 409 the caller can inspect by its
// stable identifier.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusConflict
	if strings.HasPrefix(err.Error(), "!") {
		status = http.StatusForbidden
	}
	s.writeError(w, status, err)
}

func parseAddress(raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(raw), nil
}

// parseBigInt accepts a decimal integer string, optionally signed.
func parseBigInt(raw, field string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%s required", field)
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s %q", field, raw)
	}
	return v, nil
}
