package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"PerpPool/internal/event"
	"PerpPool/internal/ingestion"
	fpmath "PerpPool/internal/math"
	"PerpPool/internal/observability"
	"PerpPool/internal/persistence"
	"PerpPool/internal/projection"
	"PerpPool/internal/query"
)

// Server hosts the gRPC endpoint (health + reflection) and the HTTP/JSON
// API. Query and admin routes are served directly from the gateway mux so
// tooling, dashboards, and curl work without generated client stubs.
type Server struct {
	grpcServer    *grpc.Server
	healthServer  *health.Server
	httpServer    *http.Server
	grpcAddr      string
	httpAddr      string
	deps          *ServerDeps
	healthChecker *observability.HealthChecker
	logger        zerolog.Logger
}

// ServerDeps holds all dependencies needed by the API handlers.
type ServerDeps struct {
	DB            *sql.DB
	QueryService  *query.QueryService
	IngestService *ingestion.GRPCIngestService
	SnapshotMgr   *persistence.SnapshotManager
	Metrics       *observability.Metrics
	StartTime     time.Time
	HealthChecker *observability.HealthChecker
}

// NewServer creates the gRPC server and prepares the HTTP API.
func NewServer(grpcAddr, httpAddr string, deps *ServerDeps) *Server {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	return &Server{
		grpcServer:    grpcServer,
		healthServer:  healthServer,
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		deps:          deps,
		healthChecker: deps.HealthChecker,
		logger:        observability.NewLogger("server"),
	}
}

// SetServing flips the gRPC health status.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.healthServer.SetServingStatus("", status)
}

// StartGRPC starts the gRPC server (blocking).
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTP starts the HTTP/JSON API (blocking).
func (s *Server) StartHTTP(ctx context.Context) error {
	mux := runtime.NewServeMux()
	if err := s.registerRoutes(mux); err != nil {
		return fmt.Errorf("register routes: %w", err)
	}

	httpMux := http.NewServeMux()
	if s.healthChecker != nil {
		httpMux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	}
	httpMux.Handle("/", mux)

	s.httpServer = &http.Server{
		Addr:    s.httpAddr,
		Handler: httpMux,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP API shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP API listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) registerRoutes(mux *runtime.ServeMux) error {
	routes := []struct {
		method  string
		pattern string
		handler runtime.HandlerFunc
	}{
		{"GET", "/v1/accounts/{account}/positions", s.handlePositions},
		{"GET", "/v1/accounts/{account}/summary", s.handleAccountSummary},
		{"GET", "/v1/accounts/{account}/trades", s.handleTrades},
		{"GET", "/v1/accounts/{account}/liquidations", s.handleLiquidations},
		{"GET", "/v1/accounts/{account}/lp-balances", s.handleLpBalances},
		{"GET", "/v1/pairs/{pair}/vault", s.handleVault},
		{"GET", "/v1/pairs/{pair}/price", s.handlePrice},
		{"GET", "/v1/pairs/{pair}/funding", s.handleFundingHistory},
		{"GET", "/v1/pairs/{pair}/stats", s.handlePoolStats},
		{"GET", "/v1/reserve", s.handleReserve},
		{"GET", "/v1/admin/integrity", s.handleIntegrity},
		{"GET", "/v1/admin/eventlog", s.handleEventLogInfo},
		{"POST", "/v1/admin/projections/reset", s.handleProjectionReset},
		{"POST", "/v1/admin/price", s.handleInjectPrice},
		{"POST", "/v1/admin/funding/settle", s.handleInjectFunding},
		{"POST", "/v1/admin/reserve/recharge", s.handleReserveRecharge},
		{"POST", "/v1/admin/reserve/withdraw", s.handleReserveWithdraw},
		{"POST", "/v1/admin/pairs/{pair}/config", s.handlePairConfig},
	}

	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, r.handler); err != nil {
			return fmt.Errorf("route %s %s: %w", r.method, r.pattern, err)
		}
	}
	return nil
}

// ============================================================================
// Query handlers
// ============================================================================

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	s.serve(w, r, "positions", func(ctx context.Context) (any, error) {
		account, err := uuid.Parse(pathParams["account"])
		if err != nil {
			return nil, badRequest("invalid account: %v", err)
		}
		return s.deps.QueryService.GetPositions(ctx, account)
	})
}

func (s *Server) handleAccountSummary(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	s.serve(w, r, "account_summary", func(ctx context.Context) (any, error) {
		account, err := uuid.Parse(pathParams["account"])
		if err != nil {
			return nil, badRequest("invalid account: %v", err)
		}
		return s.deps.QueryService.GetAccountSummary(ctx, account)
	})
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	s.serve(w, r, "trades", func(ctx context.Context) (any, error) {
		account, err := uuid.Parse(pathParams["account"])
		if err != nil {
			return nil, badRequest("invalid account: %v", err)
		}
		limit := queryLimit(r, 50, 500)
		before := queryCursor(r, "before_sequence")
		return s.deps.QueryService.GetTradeHistory(ctx, account, limit, before)
	})
}

func (s *Server) handleLiquidations(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	s.serve(w, r, "liquidations", func(ctx context.Context) (any, error) {
		account, err := uuid.Parse(pathParams["account"])
		if err != nil {
			return nil, badRequest("invalid account: %v", err)
		}
		return s.deps.QueryService.GetLiquidations(ctx, account, queryLimit(r, 50, 500))
	})
}

func (s *Server) handleLpBalances(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	s.serve(w, r, "lp_balances", func(ctx context.Context) (any, error) {
		account, err := uuid.Parse(pathParams["account"])
		if err != nil {
			return nil, badRequest("invalid account: %v", err)
		}
		return s.deps.QueryService.GetLpBalances(ctx, account)
	})
}

func (s *Server) handleVault(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	s.serve(w, r, "vault", func(ctx context.Context) (any, error) {
		pair, err := parsePair(pathParams["pair"])
		if err != nil {
			return nil, err
		}
		return s.deps.QueryService.GetVault(ctx, pair)
	})
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	s.serve(w, r, "price", func(ctx context.Context) (any, error) {
		pair, err := parsePair(pathParams["pair"])
		if err != nil {
			return nil, err
		}
		return s.deps.QueryService.GetPrice(ctx, pair)
	})
}

func (s *Server) handleFundingHistory(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	s.serve(w, r, "funding_history", func(ctx context.Context) (any, error) {
		pair, err := parsePair(pathParams["pair"])
		if err != nil {
			return nil, err
		}
		limit := queryLimit(r, 50, 500)
		before := queryCursor(r, "before_epoch")
		return s.deps.QueryService.GetFundingHistory(ctx, pair, limit, before)
	})
}

func (s *Server) handlePoolStats(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	s.serve(w, r, "pool_stats", func(ctx context.Context) (any, error) {
		pair, err := parsePair(pathParams["pair"])
		if err != nil {
			return nil, err
		}
		return s.deps.QueryService.GetPoolStats(ctx, pair)
	})
}

func (s *Server) handleReserve(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	s.serve(w, r, "reserve", func(ctx context.Context) (any, error) {
		return s.deps.QueryService.GetReserveBalances(ctx)
	})
}

// ============================================================================
// Admin handlers
// ============================================================================

func (s *Server) handleIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	s.serve(w, r, "integrity", func(ctx context.Context) (any, error) {
		return s.deps.QueryService.VerifyIntegrity(ctx)
	})
}

func (s *Server) handleEventLogInfo(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	s.serve(w, r, "eventlog_info", func(ctx context.Context) (any, error) {
		latest, err := s.deps.SnapshotMgr.GetLatestSequence(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"last_sequence":  latest,
			"uptime_seconds": int64(time.Since(s.deps.StartTime).Seconds()),
		}, nil
	})
}

func (s *Server) handleProjectionReset(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	s.serve(w, r, "projection_reset", func(ctx context.Context) (any, error) {
		if err := projection.ResetProjections(ctx, s.deps.DB); err != nil {
			return nil, err
		}
		return map[string]any{"reset": true}, nil
	})
}

type amountBody struct {
	Value    string `json:"value"`
	Decimals uint32 `json:"decimals"`
}

func (a amountBody) toAmount() (fpmath.Amount, error) {
	v, ok := new(big.Int).SetString(a.Value, 10)
	if !ok {
		return fpmath.Amount{}, badRequest("amount value %q is not an integer", a.Value)
	}
	return fpmath.NewAmount(v, a.Decimals), nil
}

func (s *Server) handleInjectPrice(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	s.serve(w, r, "inject_price", func(ctx context.Context) (any, error) {
		var body struct {
			PairIndex     uint32     `json:"pair_index"`
			Price         amountBody `json:"price"`
			PriceSequence int64      `json:"price_sequence"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return nil, badRequest("decode body: %v", err)
		}
		price, err := body.Price.toAmount()
		if err != nil {
			return nil, err
		}
		if err := s.deps.IngestService.InjectOraclePrice(ctx, body.PairIndex, price, body.PriceSequence); err != nil {
			return nil, badRequest("inject price: %v", err)
		}
		return map[string]any{"accepted": true}, nil
	})
}

func (s *Server) handleInjectFunding(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	s.serve(w, r, "inject_funding", func(ctx context.Context) (any, error) {
		var body struct {
			PairIndex uint32 `json:"pair_index"`
			EpochID   int64  `json:"epoch_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return nil, badRequest("decode body: %v", err)
		}
		if err := s.deps.IngestService.InjectFundingSettle(ctx, body.PairIndex, body.EpochID); err != nil {
			return nil, badRequest("inject funding settle: %v", err)
		}
		return map[string]any{"accepted": true}, nil
	})
}

type reserveFlowBody struct {
	Principal string     `json:"principal"`
	Asset     string     `json:"asset"`
	Amount    amountBody `json:"amount"`
}

func (s *Server) handleReserveRecharge(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	s.serve(w, r, "reserve_recharge", func(ctx context.Context) (any, error) {
		var body reserveFlowBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return nil, badRequest("decode body: %v", err)
		}
		amount, err := body.Amount.toAmount()
		if err != nil {
			return nil, err
		}
		if err := s.deps.IngestService.InjectReserveRecharge(ctx, body.Principal, body.Asset, amount); err != nil {
			return nil, badRequest("inject recharge: %v", err)
		}
		return map[string]any{"accepted": true}, nil
	})
}

func (s *Server) handleReserveWithdraw(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	s.serve(w, r, "reserve_withdraw", func(ctx context.Context) (any, error) {
		var body reserveFlowBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return nil, badRequest("decode body: %v", err)
		}
		amount, err := body.Amount.toAmount()
		if err != nil {
			return nil, err
		}
		if err := s.deps.IngestService.InjectReserveWithdraw(ctx, body.Principal, body.Asset, amount); err != nil {
			return nil, badRequest("inject withdraw: %v", err)
		}
		return map[string]any{"accepted": true}, nil
	})
}

func (s *Server) handlePairConfig(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	s.serve(w, r, "pair_config", func(ctx context.Context) (any, error) {
		pair, err := parsePair(pathParams["pair"])
		if err != nil {
			return nil, err
		}

		// The body uses the same wire format as the governance NATS
		// subject, so it goes through the regular parser.
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			return nil, badRequest("read body: %v", err)
		}
		raw := ingestion.RawEvent{Subject: "admin", Data: body, Timestamp: time.Now()}
		evt, err := ingestion.ParseRawEvent(raw, "PairConfigUpdate")
		if err != nil {
			return nil, badRequest("parse config: %v", err)
		}
		cfgEvt, ok := evt.(*event.PairConfigUpdate)
		if !ok || cfgEvt.PairIdx != pair {
			return nil, badRequest("config pair_index does not match URL pair %d", pair)
		}

		if err := s.deps.IngestService.InjectPairConfig(ctx, cfgEvt); err != nil {
			return nil, badRequest("inject config: %v", err)
		}
		return map[string]any{"accepted": true, "version": cfgEvt.Version}, nil
	})
}

// ============================================================================
// Helpers
// ============================================================================

// httpError carries a status code through the handler chain.
type httpError struct {
	code int
	msg  string
}

func (e *httpError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &httpError{code: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

// serve runs a handler, records metrics, and writes the JSON response.
func (s *Server) serve(w http.ResponseWriter, r *http.Request, endpoint string, fn func(ctx context.Context) (any, error)) {
	start := time.Now()
	result, err := fn(r.Context())

	w.Header().Set("Content-Type", "application/json")
	statusLabel := "ok"
	code := http.StatusOK
	if err != nil {
		statusLabel = "error"
		code = http.StatusInternalServerError
		var he *httpError
		if ok := errorAs(err, &he); ok {
			code = he.code
		}
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		s.logger.Warn().Str("endpoint", endpoint).Int("code", code).Err(err).Msg("request failed")
	} else {
		json.NewEncoder(w).Encode(result)
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.QueryRequests.WithLabelValues(endpoint, statusLabel).Inc()
		s.deps.Metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		if err != nil {
			s.deps.Metrics.QueryErrors.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
		}
	}
}

func errorAs(err error, target **httpError) bool {
	he, ok := err.(*httpError)
	if ok {
		*target = he
	}
	return ok
}

func parsePair(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, badRequest("invalid pair index %q", s)
	}
	return uint32(v), nil
}

func queryLimit(r *http.Request, def, max int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 || v > max {
		return def
	}
	return v
}

func queryCursor(r *http.Request, name string) *int64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}
