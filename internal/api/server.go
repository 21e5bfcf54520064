package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"callcenter/internal/config"
	"callcenter/internal/logging"
	"callcenter/internal/report"
	"callcenter/internal/service"

	"github.com/rs/zerolog"
)

// Services bundles what the HTTP surface delegates to.
type Services struct {
	Auth     *service.AuthService
	Users    *service.UserService
	Roles    *service.RoleService
	Trackers *service.TrackerService
	Uploads  *service.UploadService
	Calls    *service.CallService
	Tokens   *service.TokenService
	// Realtime serves /ws. It authenticates the upgrade itself.
	Realtime http.Handler
}

// Server exposes the REST API, the Twilio webhooks and the WebSocket endpoint.
type Server struct {
	cfg     *config.Config
	svc     Services
	limiter *rateLimiter
	server  *http.Server
	logger  *zerolog.Logger
}

func NewServer(cfg *config.Config, svc Services, logger *zerolog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		svc:     svc,
		limiter: newRateLimiter(cfg.API.RateLimit),
		logger:  logging.Component(logger, "http"),
	}

	handler := s.logRequests(s.cors(s.rateLimit(s.routes())))

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return s
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	authed := s.requireAuth

	mux.HandleFunc("GET /_ping", s.handlePing)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.svc.Realtime != nil {
		mux.Handle("GET /ws", s.svc.Realtime)
	}

	mux.HandleFunc("POST /auth/signup", s.handleSignup)
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.Handle("GET /auth/me", authed(s.handleMe))
	mux.Handle("GET /agents/available", authed(s.handleAvailableAgents))

	mux.Handle("POST /users", authed(s.handleCreateUser))
	mux.Handle("GET /users", authed(s.handleListUsers))
	mux.Handle("GET /users/{id}", authed(s.handleGetUser))
	mux.Handle("PUT /users/{id}", authed(s.handleUpdateUser))
	mux.Handle("DELETE /users/{id}", authed(s.handleDeleteUser))
	mux.Handle("POST /users/bulk-delete", authed(s.handleBulkDeleteUsers))
	mux.Handle("GET /clients", authed(s.handleClients))
	mux.Handle("GET /user/permissions", authed(s.handleUserPermissions))

	mux.Handle("GET /roles", authed(s.handleListRoles))
	mux.Handle("GET /roles/{id}", authed(s.handleGetRole))
	mux.Handle("POST /roles", authed(s.handleCreateRole))
	mux.Handle("PUT /roles/{id}", authed(s.handleUpdateRole))
	mux.Handle("DELETE /roles/{id}", authed(s.handleDeleteRole))
	mux.Handle("POST /roles/bulk-delete", authed(s.handleBulkDeleteRoles))
	mux.Handle("GET /permissions/grouped", authed(s.handleGroupedPermissions))

	mux.Handle("POST /tracker", authed(s.handleCreateTracker))
	mux.Handle("POST /tracker/upload", authed(s.handleTrackerUpload))
	mux.Handle("DELETE /tracker/{id}", authed(s.handleDeleteTracker))
	mux.Handle("POST /report/tracker/uploaded-data", authed(s.handleTrackerRows))
	mux.Handle("GET /report/tracker-data", authed(s.handleTrackerData))
	mux.Handle("POST /report/tracker-data", authed(s.handleTrackerData))
	mux.Handle("GET /report/tracker-download", authed(s.handleTrackerDownload))
	mux.Handle("POST /upload", authed(s.handleUpload))
	mux.HandleFunc("GET /upload/sample", s.handleUploadSample)
	mux.Handle("GET /report/uploaded-data", authed(s.handleUploadedData))

	mux.Handle("POST /contacts-number", authed(s.chart(report.Contacts)))
	mux.Handle("POST /dials-number", authed(s.chart(report.Dials)))
	mux.Handle("POST /uploads-report", authed(s.chart(report.Uploads)))
	mux.Handle("POST /conversion-percentage", authed(s.chart(report.Conversion)))

	mux.Handle("POST /calls/initiate", authed(s.handleInitiateCall))
	mux.Handle("POST /calls/end", authed(s.handleEndCall))
	mux.Handle("GET /calls/conferences", authed(s.handleConferences))
	mux.Handle("GET /twilio/token", authed(s.handleTwilioToken))

	mux.HandleFunc("GET /voice/join", s.handleVoiceJoin)
	mux.HandleFunc("POST /voice/join", s.handleVoiceJoin)
	mux.HandleFunc("POST /voice/status", s.handleVoiceStatus)

	return mux
}

func (s *Server) Start() error {
	if s.server == nil {
		return errors.New("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"pong": true, "ts": time.Now().UnixMilli()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
