package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/org/credvault/internal/access"
	"github.com/org/credvault/internal/audit"
	"github.com/org/credvault/internal/auth"
	"github.com/org/credvault/internal/rotation"
	"github.com/org/credvault/internal/storage"
	"github.com/org/credvault/internal/vault"
	"github.com/org/credvault/pkg/models"
	"github.com/rs/zerolog/log"
)

// Config holds server configuration.
type Config struct {
	ListenAddr    string
	TLSCertFile   string
	TLSKeyFile    string
	DBUrl         string
	MigrationsDir string
}

// AuditRecorder is the interface the server needs from an audit logger.
type AuditRecorder interface {
	Record(ctx context.Context, entry *models.AuditEntry)
	Query(ctx context.Context, filter storage.AuditFilter) ([]*models.AuditEntry, error)
}

// Server is the API server.
type Server struct {
	store    storage.Backend
	tokens   *auth.TokenService
	acl      *access.Service
	vaults   *vault.Store
	rotation *rotation.Service
	auditor  AuditRecorder
	cfg      Config
	httpSrv  *http.Server
}

// NewServer creates a fully wired Server around a storage backend and the
// engine master key.
func NewServer(store storage.Backend, masterKey []byte, cfg Config) *Server {
	auditor := audit.NewLogger(store)
	acl := access.NewService(store, auditor)
	vaults := vault.NewStore(store, acl, masterKey)
	rot := rotation.NewService(store, acl, masterKey)
	tokens := auth.NewTokenService(store)

	return &Server{
		store:    store,
		tokens:   tokens,
		acl:      acl,
		vaults:   vaults,
		rotation: rot,
		auditor:  auditor,
		cfg:      cfg,
	}
}

// BuildRouter wires up all routes and returns a chi router.
func (s *Server) BuildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(metricsMiddleware)
	r.Use(newRateLimiter(100, 200).middleware)
	r.Use(auditMiddleware(s.auditor))

	// Prometheus metrics (unauthenticated)
	r.Handle("/metrics", MetricsHandler())

	// Public routes (no auth required)
	r.Group(func(r chi.Router) {
		r.Get("/v1/sys/health", s.HealthHandler)
	})

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(s.tokens))

		// Vaults and secrets
		r.Post("/v1/vaults", s.VaultCreateHandler)
		r.Get("/v1/vaults/{vaultID}", s.VaultGetHandler)
		r.Get("/v1/vaults/{vaultID}/secrets", s.SecretListHandler)
		r.Post("/v1/vaults/{vaultID}/secrets", s.SecretAddHandler)
		r.Get("/v1/vaults/{vaultID}/history", s.VaultHistoryHandler)
		r.Get("/v1/vaults/{vaultID}/export", s.VaultExportHandler)
		r.Get("/v1/secrets/{secretID}/value", s.SecretDecryptHandler)
		r.Put("/v1/secrets/{secretID}", s.SecretUpdateHandler)
		r.Delete("/v1/secrets/{secretID}", s.SecretDeleteHandler)

		// Password analysis
		r.Post("/v1/passwords/generate", s.PasswordGenerateHandler)
		r.Post("/v1/passwords/score", s.PasswordScoreHandler)
		r.Post("/v1/passwords/check-reuse", s.PasswordCheckReuseScopedHandler)
		r.Post("/v1/secrets/{secretID}/check-reuse", s.PasswordCheckReuseHandler)

		// Rotation
		r.Post("/v1/secrets/{secretID}/rotate", s.RotateHandler)
		r.Post("/v1/rotation/batch", s.RotateBatchHandler)
		r.Get("/v1/rotation/alerts", s.RotationAlertsHandler)
		r.Get("/v1/rotation/compliance", s.ComplianceHandler)
		r.Put("/v1/vaults/{vaultID}/schedule", s.ScheduleSetHandler)
		r.Get("/v1/vaults/{vaultID}/schedule", s.ScheduleGetHandler)

		// Access control
		r.Post("/v1/vaults/{vaultID}/permissions", s.GrantHandler)
		r.Delete("/v1/vaults/{vaultID}/permissions", s.RevokeHandler)
		r.Get("/v1/vaults/{vaultID}/permissions", s.PermissionListHandler)
		r.Get("/v1/vaults/{vaultID}/access", s.AccessCheckHandler)
		r.Post("/v1/vaults/{vaultID}/requests", s.RequestCreateHandler)
		r.Get("/v1/vaults/{vaultID}/requests", s.RequestListHandler)
		r.Post("/v1/requests/{requestID}/approve", s.RequestApproveHandler)
		r.Post("/v1/requests/{requestID}/deny", s.RequestDenyHandler)

		// Token auth
		r.Post("/v1/auth/token/create", s.TokenCreateHandler)
		r.Post("/v1/auth/token/revoke", s.TokenRevokeHandler)
		r.Get("/v1/auth/token/lookup-self", s.TokenLookupSelfHandler)

		// Sys
		r.Get("/v1/sys/audit-log", s.AuditLogHandler)
	})

	return r
}

// HealthHandler handles GET /v1/sys/health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"initialized": true,
		"version":     "1.0.0",
	})
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	handler := s.BuildRouter()

	s.httpSrv = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		tlsCfg := &tls.Config{
			MinVersion: tls.VersionTLS12,
			CurvePreferences: []tls.CurveID{
				tls.CurveP256,
				tls.X25519,
			},
		}
		s.httpSrv.TLSConfig = tlsCfg
		log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTPS server")
		return s.httpSrv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}

	log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// ExpireStaleRequests sweeps pending permission requests past their TTL.
// Called periodically from the server main loop.
func (s *Server) ExpireStaleRequests(ctx context.Context) {
	n, err := s.acl.ExpireStale(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("expiring stale permission requests")
		return
	}
	if n > 0 {
		log.Info().Int("expired", n).Msg("expired stale permission requests")
	}
}

// BootstrapAdminToken mints the initial admin token. Intended for first
// start; the plaintext is returned once.
func (s *Server) BootstrapAdminToken(ctx context.Context, userID int64) (string, error) {
	_, plaintext, err := s.tokens.CreateToken(ctx, userID, models.RoleAdmin, "bootstrap-admin", 0)
	if err != nil {
		return "", err
	}
	return plaintext, nil
}
