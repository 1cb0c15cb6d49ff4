// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	service "github.com/okian/keyprint/internal/app"
	"github.com/okian/keyprint/internal/domain/baseline"
	"github.com/okian/keyprint/internal/domain/model"
	"github.com/okian/keyprint/internal/domain/types"
)

const maxBodyBytes = 4 << 20

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to the service implementation.
type Dependencies interface {
	StartSession(ctx context.Context, identity string, purpose types.Purpose) (string, error)
	RecordEvents(ctx context.Context, sessionID, batchID string, events []model.Event) (service.RecordSummary, error)
	Assess(ctx context.Context, sessionID string, device model.DeviceSignal) (service.AssessResult, error)
	Enroll(ctx context.Context, sessionID string, device model.DeviceSignal, reset bool) (service.EnrollResult, error)
	Baseline(ctx context.Context, identity string) (baseline.Baseline, error)
	DeleteBaseline(ctx context.Context, identity string) error
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler    *HealthHandler
	statsHandler     *StatsHandler
	sessionsHandler  *SessionsHandler
	baselinesHandler *BaselinesHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:    NewHealthHandler(),
		statsHandler:     NewStatsHandler(statsProvider),
		sessionsHandler:  NewSessionsHandler(deps),
		baselinesHandler: NewBaselinesHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /metrics", MetricsMiddleware(s.healthHandler.HandleHealth, "metrics"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("POST /sessions", MetricsMiddleware(s.sessionsHandler.HandleStart, "sessions"))
	mux.HandleFunc("POST /sessions/{id}/events", MetricsMiddleware(s.sessionsHandler.HandleEvents, "session_events"))
	mux.HandleFunc("POST /sessions/{id}/assess", MetricsMiddleware(s.sessionsHandler.HandleAssess, "session_assess"))
	mux.HandleFunc("POST /sessions/{id}/enroll", MetricsMiddleware(s.sessionsHandler.HandleEnroll, "session_enroll"))

	mux.HandleFunc("GET /baselines/{identity}", MetricsMiddleware(s.baselinesHandler.HandleGet, "baselines"))
	mux.HandleFunc("DELETE /baselines/{identity}", MetricsMiddleware(s.baselinesHandler.HandleDelete, "baselines"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeServiceError maps err to its status and code.
func writeServiceError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	writeError(w, status, code, err)
}

// decodeBody reads a JSON body into v. An empty body leaves v untouched
// when optional is true.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}
