// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	service "github.com/okian/presence/internal/app"
	"github.com/okian/presence/internal/domain/audit"
	"github.com/okian/presence/internal/domain/imaging"
	"github.com/okian/presence/internal/domain/model"
	"github.com/okian/presence/internal/domain/pipeline"
	"github.com/okian/presence/internal/domain/types"
	"github.com/okian/presence/pkg/logger"
)

// UserHeader carries the caller identity set by the upstream gateway.
const UserHeader = "X-User-ID"

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	Ready(ctx context.Context) error

	CreateSession(ctx context.Context, userID string) (service.SessionInfo, error)
	EndSession(ctx context.Context, userID, sessionID string) error
	Probe(ctx context.Context, in service.ProbeInput) (types.LivenessResult, error)
	ValidatePose(ctx context.Context, frame imaging.Source) (service.PoseReport, error)

	CheckIn(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
	Enroll(ctx context.Context, userID string, frames []imaging.Source) (service.EnrollmentResult, error)

	LivenessLogs(ctx context.Context, userID string, limit int) ([]model.LivenessLogEntry, error)
	CaptureLogs(ctx context.Context, userID string, limit int) ([]model.CaptureLogEntry, error)
	GPSLogs(ctx context.Context, studentID string, limit int) ([]model.GPSAuditEntry, error)
	Suspicious(ctx context.Context, userID string, threshold int) (audit.Report, error)

	ServeInstructor(w http.ResponseWriter, r *http.Request, instructorID string) error
}

// Server wires HTTP routes for the verification API.
type Server struct {
	deps     Dependencies
	validate *validator.Validate
	limiter  *RateLimiter
	timeout  time.Duration
	logger   logger.Logger

	healthHandler *HealthHandler
	statsHandler  *StatsHandler
}

// Option configures a Server.
type Option func(*Server)

// WithRateLimiter throttles the /v1 routes per caller.
func WithRateLimiter(l *RateLimiter) Option {
	return func(s *Server) {
		s.limiter = l
	}
}

// WithRequestTimeout bounds the context of every /v1 request except the
// instructor socket.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.timeout = d
	}
}

// WithLogger sets the handler logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...Option) *Server {
	s := &Server{
		deps:          deps,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		healthHandler: NewHealthHandler(deps),
		statsHandler:  NewStatsHandler(statsProvider),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Named("api")
	}
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	if mux == nil {
		panic("mux is nil")
	}
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /metrics", s.healthHandler.HandleMetrics)
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	s.route(mux, "POST /v1/liveness/sessions", "liveness_session_create", s.handleCreateSession)
	s.route(mux, "DELETE /v1/liveness/sessions/{id}", "liveness_session_delete", s.handleEndSession)
	s.route(mux, "POST /v1/liveness", "liveness", s.handleProbe)
	s.route(mux, "POST /v1/pose/validate", "pose_validate", s.handleValidatePose)
	s.route(mux, "POST /v1/checkin", "checkin", s.handleCheckIn)
	s.route(mux, "POST /v1/enrollment", "enrollment", s.handleEnroll)
	s.route(mux, "GET /v1/audit/{user_id}/liveness", "audit_liveness", s.handleLivenessLogs)
	s.route(mux, "GET /v1/audit/{user_id}/captures", "audit_captures", s.handleCaptureLogs)
	s.route(mux, "GET /v1/audit/{user_id}/gps", "audit_gps", s.handleGPSLogs)
	s.route(mux, "GET /v1/audit/{user_id}/suspicious", "audit_suspicious", s.handleSuspicious)
	mux.HandleFunc("GET /v1/ws/instructors/{instructor_id}", MetricsMiddleware(s.handleInstructorSocket, "ws_instructors"))
}

func (s *Server) route(mux *http.ServeMux, pattern, endpoint string, h http.HandlerFunc) {
	if s.timeout > 0 {
		h = withTimeout(h, s.timeout)
	}
	if s.limiter != nil {
		h = s.limiter.Middleware(h, endpoint)
	}
	mux.HandleFunc(pattern, MetricsMiddleware(h, endpoint))
}

type errorResponse struct {
	Status    string `json:"status"`
	ErrorType string `json:"error_type"`
	Message   string `json:"message"`
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
	writeJSON(w, status, errorResponse{Status: statusFailed, ErrorType: code, Message: msg})
}

func withTimeout(next http.HandlerFunc, d time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), d)
		defer cancel()
		next(w, r.WithContext(ctx))
	}
}
