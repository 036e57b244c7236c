// Package health exports liveness and the foreground-busy signal. The gRPC
// health service reports assistant.Foreground as NOT_SERVING while a
// foreground task holds the session, so an external loop can poll it before
// invoking the agent.
package health

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/AltairaLabs/assistant-server/internal/orchestrator"
)

// ForegroundService is the health service name carrying the busy signal
const ForegroundService = "assistant.Foreground"

// Server is the gRPC health service. It implements orchestrator.BusyListener.
type Server struct {
	hs     *grpchealth.Server
	logger *slog.Logger
}

// NewServer creates a health service reporting SERVING overall and for an
// idle foreground
func NewServer(logger *slog.Logger) *Server {
	hs := grpchealth.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ForegroundService, healthpb.HealthCheckResponse_SERVING)
	return &Server{hs: hs, logger: logger}
}

// Register adds the health service to gs
func (s *Server) Register(gs *grpc.Server) {
	healthpb.RegisterHealthServer(gs, s.hs)
}

// Checker returns the underlying health server
func (s *Server) Checker() healthpb.HealthServer {
	return s.hs
}

// SetForegroundBusy implements orchestrator.BusyListener
func (s *Server) SetForegroundBusy(busy bool) {
	status := healthpb.HealthCheckResponse_SERVING
	if busy {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.hs.SetServingStatus(ForegroundService, status)
	s.logger.Debug("Foreground health updated", "busy", busy)
}

// Shutdown marks every service NOT_SERVING
func (s *Server) Shutdown() {
	s.hs.Shutdown()
}

// Report is the JSON body of GET /health
type Report struct {
	Status  string                    `json:"status"`
	App     string                    `json:"app"`
	Version string                    `json:"version"`
	Session orchestrator.SessionState `json:"session"`
}

// HTTPHandler serves GET /health with the current session snapshot
func HTTPHandler(app, version string, snapshot func() orchestrator.SessionState) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Report{
			Status:  "healthy",
			App:     app,
			Version: version,
			Session: snapshot(),
		})
	}
}
