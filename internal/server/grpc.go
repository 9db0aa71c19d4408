package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"OutcomeLedger/internal/ingestion"
	"OutcomeLedger/internal/observability"
	"OutcomeLedger/internal/persistence"
	"OutcomeLedger/internal/projection"
	"OutcomeLedger/internal/query"
)

// APIServer hosts the gRPC endpoint (health + reflection) and the
// HTTP/JSON API. Query and admin routes are registered on a
// grpc-gateway mux so the HTTP surface matches the gateway's path and
// error conventions.
type APIServer struct {
	grpcServer    *grpc.Server
	httpServer    *http.Server
	grpcAddr      string
	httpAddr      string
	deps          *ServerDeps
	healthChecker *observability.HealthChecker
}

// ServerDeps holds all dependencies needed by the API handlers.
type ServerDeps struct {
	DB            *sql.DB
	QueryService  *query.QueryService
	IngestService *ingestion.GRPCIngestService
	SnapshotMgr   *persistence.SnapshotManager
	StartTime     time.Time
	HealthChecker *observability.HealthChecker
}

// NewAPIServer creates the server with health and reflection services
// registered on the gRPC side.
func NewAPIServer(grpcAddr, httpAddr string, deps *ServerDeps) *APIServer {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	return &APIServer{
		grpcServer:    grpcServer,
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		deps:          deps,
		healthChecker: deps.HealthChecker,
	}
}

// StartGRPC starts the gRPC server (blocking).
func (s *APIServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		log.Println("INFO: gRPC server shutting down...")
		s.grpcServer.GracefulStop()
	}()

	log.Printf("INFO: gRPC server listening on %s", s.grpcAddr)
	return s.grpcServer.Serve(lis)
}

// StartHTTP starts the HTTP/JSON API (blocking). Query, ingest, and
// admin routes live on the gateway mux; health endpoints sit beside it.
func (s *APIServer) StartHTTP(ctx context.Context) error {
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
		log.Println("INFO: HTTP server shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("INFO: HTTP API listening on %s", s.httpAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) registerRoutes(mux *runtime.ServeMux) error {
	routes := []struct {
		method  string
		path    string
		handler runtime.HandlerFunc
	}{
		{"GET", "/v1/users/{user_id}/balance", s.handleGetBalance},
		{"GET", "/v1/users/{user_id}/positions", s.handleGetPositions},
		{"GET", "/v1/users/{user_id}/journal", s.handleGetJournal},
		{"GET", "/v1/events", s.handleListEvents},
		{"GET", "/v1/events/{event_id}", s.handleGetEvent},
		{"GET", "/v1/events/{event_id}/settlements", s.handleGetSettlements},
		{"POST", "/v1/ingest/events", s.handleInjectCreateEvent},
		{"POST", "/v1/ingest/events/{event_id}/resolve", s.handleInjectResolveEvent},
		{"POST", "/v1/ingest/events/{event_id}/close", s.handleInjectCloseEvent},
		{"POST", "/v1/ingest/deposits", s.handleInjectDeposit},
		{"POST", "/v1/ingest/withdrawals", s.handleInjectWithdraw},
		{"POST", "/v1/ingest/promo-grants", s.handleInjectGrantPromo},
		{"POST", "/v1/admin/rebuild-projections", s.handleRebuildProjections},
		{"GET", "/v1/admin/integrity", s.handleVerifyIntegrity},
		{"GET", "/v1/admin/log-info", s.handleLogInfo},
	}

	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.path, r.handler); err != nil {
			return fmt.Errorf("route %s %s: %w", r.method, r.path, err)
		}
	}
	return nil
}

// --- Query handlers ---

func (s *APIServer) handleGetBalance(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	userID, ok := parseUint(w, pathParams["user_id"], "user_id")
	if !ok {
		return
	}

	bal, err := s.deps.QueryService.GetBalance(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

func (s *APIServer) handleGetPositions(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	userID, ok := parseUint(w, pathParams["user_id"], "user_id")
	if !ok {
		return
	}

	positions, err := s.deps.QueryService.GetPositions(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"positions": positions})
}

func (s *APIServer) handleGetJournal(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	userID, ok := parseUint(w, pathParams["user_id"], "user_id")
	if !ok {
		return
	}

	limit := parseLimit(r, 100, 500)
	afterSeq := parseAfterSequence(r)

	entries, err := s.deps.QueryService.GetJournalHistory(r.Context(), userID, limit, afterSeq)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"journals": entries})
}

func (s *APIServer) handleListEvents(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	events, err := s.deps.QueryService.GetEvents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

func (s *APIServer) handleGetEvent(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	eventID, ok := parseUint(w, pathParams["event_id"], "event_id")
	if !ok {
		return
	}

	ev, err := s.deps.QueryService.GetEvent(r.Context(), eventID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if ev == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("event %d not found", eventID))
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *APIServer) handleGetSettlements(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	eventID, ok := parseUint(w, pathParams["event_id"], "event_id")
	if !ok {
		return
	}

	limit := parseLimit(r, 50, 100)
	afterSeq := parseAfterSequence(r)

	history, err := s.deps.QueryService.GetSettlementHistory(r.Context(), eventID, limit, afterSeq)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"settlements": history})
}

// --- Ingest handlers (admin/manual injection) ---

type createEventBody struct {
	Signer         string `json:"signer"`
	Payer          uint64 `json:"payer"`
	EventID        uint64 `json:"event_id"`
	CommissionRate uint64 `json:"commission_rate"`
	MaxPrice       uint64 `json:"max_price"`
}

func (s *APIServer) handleInjectCreateEvent(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	var body createEventBody
	if !decodeBody(w, r, &body) {
		return
	}

	err := s.deps.IngestService.InjectCreateEvent(r.Context(),
		body.Signer, body.Payer, body.EventID, body.CommissionRate, body.MaxPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

type resolveEventBody struct {
	Signer  string `json:"signer"`
	Outcome string `json:"outcome"`
}

func (s *APIServer) handleInjectResolveEvent(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	eventID, ok := parseUint(w, pathParams["event_id"], "event_id")
	if !ok {
		return
	}

	var body resolveEventBody
	if !decodeBody(w, r, &body) {
		return
	}

	if err := s.deps.IngestService.InjectResolveEvent(r.Context(), body.Signer, eventID, body.Outcome); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

type closeEventBody struct {
	Signer string `json:"signer"`
	Payer  uint64 `json:"payer"`
}

func (s *APIServer) handleInjectCloseEvent(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	eventID, ok := parseUint(w, pathParams["event_id"], "event_id")
	if !ok {
		return
	}

	var body closeEventBody
	if !decodeBody(w, r, &body) {
		return
	}

	if err := s.deps.IngestService.InjectCloseEvent(r.Context(), body.Signer, body.Payer, eventID); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

type fundsBody struct {
	UserID uint64 `json:"user_id"`
	Amount uint64 `json:"amount"`
}

func (s *APIServer) handleInjectDeposit(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	var body fundsBody
	if !decodeBody(w, r, &body) {
		return
	}

	if err := s.deps.IngestService.InjectDeposit(r.Context(), body.UserID, body.Amount); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (s *APIServer) handleInjectWithdraw(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	var body fundsBody
	if !decodeBody(w, r, &body) {
		return
	}

	if err := s.deps.IngestService.InjectWithdraw(r.Context(), body.UserID, body.Amount); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

type grantPromoBody struct {
	Signer string `json:"signer"`
	UserID uint64 `json:"user_id"`
	Amount uint64 `json:"amount"`
}

func (s *APIServer) handleInjectGrantPromo(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	var body grantPromoBody
	if !decodeBody(w, r, &body) {
		return
	}

	if err := s.deps.IngestService.InjectGrantPromo(r.Context(), body.Signer, body.UserID, body.Amount); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

// --- Admin handlers ---

func (s *APIServer) handleRebuildProjections(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	if err := projection.RebuildProjections(r.Context(), s.deps.DB); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"rebuilt": true})
}

func (s *APIServer) handleVerifyIntegrity(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	report, err := s.deps.QueryService.VerifyIntegrity(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *APIServer) handleLogInfo(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	latestSeq, err := s.deps.SnapshotMgr.GetLatestSequence(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"last_sequence": latestSeq,
		"uptime":        time.Since(s.deps.StartTime).String(),
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("WARN: write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func parseUint(w http.ResponseWriter, raw, name string) (uint64, bool) {
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid %s: %q", name, raw))
		return 0, false
	}
	return v, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return false
	}
	return true
}

func parseLimit(r *http.Request, def, max int) int {
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

func parseAfterSequence(r *http.Request) *int64 {
	raw := r.URL.Query().Get("from_sequence")
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return nil
	}
	return &v
}
