package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"chatbridge/internal/auth"
	"chatbridge/internal/errors"
	"chatbridge/internal/httputil"
	"chatbridge/internal/logging"
	"chatbridge/internal/middleware"
	"chatbridge/internal/models"
	"chatbridge/internal/security"
	"chatbridge/internal/service"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const (
	healthMessage      = "API is running successfully"
	devRootMessage     = "API is running in development mode"
	chatClearedMessage = "Chat cleared successfully"
)

type Server struct {
	router   *mux.Router
	handler  http.Handler
	logger   *logrus.Logger
	cfg      *models.Config
	tokens   service.TokenServiceInterface
	admin    service.AdminServiceInterface
	sessions *auth.Verifier
	limiter  *RateLimiter
	server   *http.Server
}

func NewServer(cfg *models.Config, tokens service.TokenServiceInterface, admin service.AdminServiceInterface, sessions *auth.Verifier, logger *logrus.Logger) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		logger:   logger,
		cfg:      cfg,
		tokens:   tokens,
		admin:    admin,
		sessions: sessions,
		limiter:  NewRateLimiter(cfg.Server.RateLimitPerMinute, time.Minute, cfg.Server.RateLimitBurst),
	}

	s.setupRoutes()
	s.handler = s.wrap(s.router)
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.handler,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSec) * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.ObservabilityMiddleware(s.logger))
	s.router.Use(securityHeaders)
	if s.logger.IsLevelEnabled(logrus.DebugLevel) {
		s.router.Use(middleware.DetailedLoggingMiddleware(s.logger, middleware.DefaultDetailedLoggingConfig()))
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	api.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	chat := api.PathPrefix("/chat").Subrouter()
	chat.Use(s.limiter.Middleware(s.logger))
	chat.Use(limitBody(s.cfg.Server.MaxBodyBytes))
	chat.Use(s.sessions.RequireUser)
	chat.HandleFunc("/token", s.handleToken()).Methods(http.MethodGet)
	chat.HandleFunc("/clear", s.handleClearChat()).Methods(http.MethodPost)

	if s.cfg.IsProduction() {
		s.router.PathPrefix("/").Handler(spaHandler{dir: s.cfg.Server.StaticDir}).Methods(http.MethodGet, http.MethodHead)
	} else {
		s.router.HandleFunc("/", s.handleDevRoot()).Methods(http.MethodGet)
	}
}

// wrap applies the outermost handlers: panic recovery and credentialed CORS
// for the configured client origin
func (s *Server) wrap(h http.Handler) http.Handler {
	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{s.cfg.Server.ClientURL}),
		handlers.AllowCredentials(),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", middleware.RequestIDHeader}),
	)
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(s.logger),
		handlers.PrintRecoveryStack(false),
	)
	return recovery(cors(h))
}

// Handler returns the fully wrapped HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start blocks serving HTTP until Shutdown is called
func (s *Server) Start() error {
	s.logger.WithFields(logrus.Fields{
		"port":        s.cfg.Server.Port,
		"environment": s.cfg.Environment,
	}).Info("Starting server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(healthMessage))
	}
}

func (s *Server) handleDevRoot() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(devRootMessage))
	}
}

func (s *Server) handleToken() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.UserFromContext(r.Context())
		if !ok {
			httputil.WriteError(w, errors.NewAuthError("no authenticated user"), false)
			return
		}

		token, err := s.tokens.CreateToken(r.Context(), user.ID)
		if err != nil {
			errors.WrapLogger(s.logger).LogError(err, "Error generating chat token", logrus.Fields{
				logging.LogFieldUserID:   service.SanitizeUserID(r.Context(), user.ID),
				logging.LogFieldEndpoint: "/api/chat/token",
			})
			_ = httputil.WriteJSON(w, http.StatusInternalServerError, errors.ErrorResponse{Message: "Internal Server Error"})
			return
		}

		_ = httputil.WriteJSON(w, http.StatusOK, models.TokenResponse{Token: token})
	}
}

func (s *Server) handleClearChat() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.UserFromContext(r.Context())
		if !ok {
			httputil.WriteError(w, errors.NewAuthError("no authenticated user"), false)
			return
		}

		var req models.ClearChatRequest
		if err := httputil.DecodeJSON(w, r, s.cfg.Server.MaxBodyBytes, &req); err != nil {
			httputil.WriteError(w, err, false)
			return
		}

		if err := s.admin.ClearChannel(r.Context(), user.ID, req.ChannelID); err != nil {
			// Provider failures surface their cause to the caller
			exposeCause := errors.HTTPStatusCode(err) == http.StatusInternalServerError
			status := httputil.WriteError(w, err, exposeCause)
			s.logger.WithFields(logrus.Fields{
				logging.LogFieldUserID:     service.SanitizeUserID(r.Context(), user.ID),
				logging.LogFieldChannelID:  service.SanitizeChannelID(r.Context(), req.ChannelID),
				logging.LogFieldStatusCode: status,
				logging.LogFieldErrorCode:  string(errors.GetCode(err)),
			}).Warn("Clear chat request failed")
			return
		}

		_ = httputil.WriteJSON(w, http.StatusOK, models.MessageResponse{Message: chatClearedMessage})
	}
}

// spaHandler serves the built frontend, falling back to index.html for
// client-side routes
type spaHandler struct {
	dir string
}

func (h spaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	index := filepath.Join(h.dir, "index.html")
	rel := strings.TrimPrefix(filepath.Clean("/"+r.URL.Path), "/")
	if rel == "" || security.ValidateFilePathWithBase(rel, h.dir) != nil {
		http.ServeFile(w, r, index)
		return
	}

	info, err := os.Stat(filepath.Join(h.dir, filepath.FromSlash(rel)))
	if err != nil || info.IsDir() {
		http.ServeFile(w, r, index)
		return
	}
	http.FileServer(http.Dir(h.dir)).ServeHTTP(w, r)
}
