package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/metrics/export/prometheus"
	"github.com/MrEthical07/authgate/middleware"
)

const maxBodyBytes = 1 << 20

// Options configures the HTTP surface.
type Options struct {
	// TrustProxy honours X-Forwarded-For and X-Real-IP.
	TrustProxy bool
	// TrustedProxyCount is the number of proxies in front of the server.
	TrustedProxyCount int
	// DisableMetrics removes the /metrics route.
	DisableMetrics bool
	Logger         *slog.Logger
}

// Server routes HTTP requests to an Engine.
type Server struct {
	engine *authgate.Engine
	opts   Options
	logger *slog.Logger
	router *mux.Router
}

// New builds the router for engine.
func New(engine *authgate.Engine, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = engine.Logger()
	}
	s := &Server{
		engine: engine,
		opts:   opts,
		logger: opts.Logger,
		router: mux.NewRouter(),
	}
	s.routes()
	return s
}

// Handler returns the root handler with access logging applied.
func (s *Server) Handler() http.Handler {
	return s.accessLog(s.router)
}

func (s *Server) routes() {
	r := s.router
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteJSON(w, http.StatusNotFound, middleware.ErrorBody{Error: middleware.ErrorDetail{Code: "not_found", Message: "not found"}})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteJSON(w, http.StatusMethodNotAllowed, middleware.ErrorBody{Error: middleware.ErrorDetail{Code: "method_not_allowed", Message: "method not allowed"}})
	})

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if !s.opts.DisableMetrics {
		r.Handle("/metrics", prometheus.NewExporter(s.engine).Handler()).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.Use(
		middleware.ClientIP(s.opts.TrustProxy, s.opts.TrustedProxyCount),
		middleware.SourceGuard(s.engine),
		middleware.Sessions(s.engine),
		middleware.CSRF(s.engine),
	)

	guard := middleware.Guard(s.engine)

	auth := api.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/csrf", s.handleCSRF).Methods(http.MethodGet)
	auth.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	auth.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	auth.HandleFunc("/password/forgot", s.handleForgotPassword).Methods(http.MethodPost)
	auth.HandleFunc("/password/reset", s.handleResetPassword).Methods(http.MethodPost)
	auth.Handle("/logout", guard(http.HandlerFunc(s.handleLogout))).Methods(http.MethodPost)
	auth.Handle("/password", guard(http.HandlerFunc(s.handleChangePassword))).Methods(http.MethodPost)
	auth.Handle("/me", middleware.Chain(http.HandlerFunc(s.handleMe),
		guard,
		middleware.RequirePermission(s.engine, authgate.PermProfileRead),
	)).Methods(http.MethodGet)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(guard, middleware.RateLimit(s.engine, authgate.ActionAdmin, nil))

	blocklist := middleware.RequirePermission(s.engine, authgate.PermBlocklistManage)
	admin.Handle("/blocklist", blocklist(http.HandlerFunc(s.handleListBlocked))).Methods(http.MethodGet)
	admin.Handle("/blocklist", blocklist(http.HandlerFunc(s.handleBlock))).Methods(http.MethodPost)
	admin.Handle("/blocklist/sweep", blocklist(http.HandlerFunc(s.handleSweep))).Methods(http.MethodPost)
	admin.Handle("/blocklist/{source}", blocklist(http.HandlerFunc(s.handleUnblock))).Methods(http.MethodDelete)
	admin.Handle("/audit", middleware.RequirePermission(s.engine, authgate.PermAuditRead)(http.HandlerFunc(s.handleAudit))).Methods(http.MethodGet)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Ping(r.Context()); err != nil {
		s.logger.Warn("authgate: health check failed", "error", err)
		middleware.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
