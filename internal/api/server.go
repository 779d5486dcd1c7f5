// ABOUTME: HTTP server struct, constructor, and handler wiring for the gestor API.
// ABOUTME: Holds the store, actor resolver, argon2 semaphore and login rate limiter used by handlers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"

	"github.com/gestaopublica/gestor/internal/access"
	"github.com/gestaopublica/gestor/internal/cache"
	"github.com/gestaopublica/gestor/internal/config"
	"github.com/gestaopublica/gestor/internal/notify"
	"github.com/gestaopublica/gestor/internal/policy"
	"github.com/gestaopublica/gestor/internal/store"
	"github.com/gestaopublica/gestor/internal/telemetry"
)

// Server holds the dependencies for the HTTP layer.
type Server struct {
	store       *store.Store
	cfg         *config.Config
	resolver    *access.Resolver
	argon2Sem   chan struct{}
	rateLimiter *ipRateLimiter
	enqueue     notify.EnqueueFunc // nil when there is no store
}

// NewServer creates a Server. s may be nil only in tests that never reach a
// handler touching the database.
func NewServer(s *store.Store, cfg *config.Config) (*Server, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("api: JWT secret is required")
	}
	var loader access.SnapshotLoader
	if s != nil {
		loader = s
	}
	cacheTTL := cfg.ActorCacheTTL
	if cacheTTL == 0 {
		cacheTTL = 30 * time.Second
	}
	cacheMax := cfg.ActorCacheMaxEntries
	if cacheMax == 0 {
		cacheMax = 1000
	}
	actors := cache.NewTTL[uuid.UUID, policy.ActorContext](cacheTTL, cacheMax)
	srv := newServer(cfg, access.NewResolver(loader, actors))
	srv.store = s
	if s != nil {
		srv.enqueue = func(ctx context.Context, queue string, priority int32, payload json.RawMessage, maxAttempts int32, runAfter *time.Time) error {
			_, err := s.EnqueueJob(ctx, queue, priority, payload, maxAttempts, runAfter)
			return err
		}
	}
	return srv, nil
}

// newServer builds a Server around an existing resolver.
func newServer(cfg *config.Config, resolver *access.Resolver) *Server {
	argon2Max := cfg.Argon2MaxConcurrent
	if argon2Max <= 0 {
		argon2Max = 5
	}
	evictTTL := cfg.RateLimitEvictTTL
	if evictTTL == 0 {
		evictTTL = 15 * time.Minute
	}
	return &Server{
		cfg:       cfg,
		resolver:  resolver,
		argon2Sem: make(chan struct{}, argon2Max),
		// 10 requests per minute, burst of 10.
		rateLimiter: newIPRateLimiter(rate.Limit(10.0/60), 10, evictTTL),
	}
}

// Close stops background goroutines owned by the server.
func (srv *Server) Close() {
	srv.rateLimiter.Close()
}

// Handler builds and returns the http.Handler.
func (srv *Server) Handler() http.Handler {
	var db *pgxpool.Pool
	if srv.store != nil {
		db = srv.store.Pool()
	}
	r := chi.NewRouter()

	// Security headers first so they appear on every response including errors.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			next.ServeHTTP(w, r)
		})
	})

	if len(srv.cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   srv.cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-By"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(telemetry.Middleware(otel.GetTracerProvider()))
	// 1 MB global body limit.
	r.Use(middleware.RequestSize(1 << 20))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", healthzHandler(db))
	r.Handle("/metrics", promhttp.Handler())

	// ── API v1 sub-router with huma (OpenAPI 3.1) ────────────────────────────
	apiRouter := chi.NewRouter()
	apiRouter.Use(csrfProtect)
	humaConfig := huma.DefaultConfig("Gestor API", "0.1.0")
	humaConfig.Info.Description = "Organization membership and access control API"
	api := humachi.New(apiRouter, humaConfig)
	registerAuthRoutes(api, srv)

	// ── Authenticated chi routes (per-group RBAC middleware) ─────────────────
	apiRouter.Group(func(r chi.Router) {
		r.Use(srv.RequireAuthenticated())

		r.Get("/permissions", srv.permissionsHandler)

		r.Route("/org-session", func(r chi.Router) {
			r.Get("/", srv.getOrgSessionHandler)
			r.Post("/", srv.switchOrgSessionHandler)
		})

		r.With(srv.RequireSuperAdmin()).Get("/admin/audit-logs", srv.listAuditLogsHandler)

		// Member routes for the session's active organization. The aggregate
		// view demotes everyone but super admins to viewer.
		r.Route("/members", func(r chi.Router) {
			r.With(srv.RequireActiveRole(policy.RoleViewer), requireActiveOrg).Get("/", srv.listMembersHandler)
			r.With(srv.RequireActiveRole(policy.RoleGestor), requireActiveOrg).Post("/", srv.addMemberHandler)
		})

		r.Route("/orgs", func(r chi.Router) {
			r.With(srv.RequireSuperAdmin()).Post("/", srv.createOrgHandler)

			r.Route("/{org_id}", func(r chi.Router) {
				r.Use(srv.RequireOrgRole(policy.RoleViewer))
				r.Get("/", srv.getOrgHandler)
				r.With(srv.RequireOrgRole(policy.RoleSecretario)).Patch("/", srv.updateOrgHandler)

				r.Route("/members", func(r chi.Router) {
					r.Get("/", srv.listMembersHandler)
					r.With(srv.RequireOrgRole(policy.RoleGestor)).Post("/", srv.addMemberHandler)
					r.With(srv.RequireOrgRole(policy.RoleGestor)).Patch("/{user_id}", srv.updateMemberRoleHandler)
					r.With(srv.RequireOrgRole(policy.RoleGestor)).Delete("/{user_id}", srv.removeMemberHandler)
				})

				r.Route("/invitations", func(r chi.Router) {
					r.Use(srv.RequireOrgRole(policy.RoleGestor))
					r.Post("/{id}/resend", srv.resendInvitationHandler)
					r.Delete("/{id}", srv.cancelInvitationHandler)
				})
			})
		})
	})

	r.Mount("/api/v1", apiRouter)

	return r
}

// acquireArgon2 tries to acquire the argon2 semaphore. Returns false if all
// slots are in use; the caller should return 503 immediately (do NOT block).
func (srv *Server) acquireArgon2() bool {
	select {
	case srv.argon2Sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (srv *Server) releaseArgon2() { <-srv.argon2Sem }

// audit records a membership or invitation change. Failures are logged and
// never fail the request.
func (srv *Server) audit(ctx context.Context, actorID, orgID uuid.UUID, action, resource, resourceID string, metadata map[string]any) {
	if err := srv.store.InsertAuditLog(ctx, actorID, &orgID, action, resource, resourceID, metadata); err != nil {
		slog.WarnContext(ctx, "audit log insert failed",
			"error", err, "action", action, "resource", resource, "resource_id", resourceID)
	}
}

// sendEmail queues job for the worker. Failures are logged; the triggering
// change has already been committed.
func (srv *Server) sendEmail(ctx context.Context, job notify.EmailJob) {
	if srv.enqueue == nil {
		return
	}
	if err := notify.EnqueueEmail(ctx, srv.enqueue, job); err != nil {
		slog.WarnContext(ctx, "queue email failed", "error", err, "kind", job.Kind)
	}
}

// healthResponse is the JSON body for /healthz.
type healthResponse struct {
	Status string `json:"status"`
	DB     string `json:"db,omitempty"`
}

// healthzHandler returns 200 {"status":"ok"} when the DB is reachable,
// or 503 {"status":"degraded","db":"unavailable"} when it is not.
func healthzHandler(db *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		statusCode := http.StatusOK

		if db == nil {
			resp.Status = "degraded"
			resp.DB = "unavailable"
			statusCode = http.StatusServiceUnavailable
		} else if err := db.Ping(r.Context()); err != nil {
			slog.WarnContext(r.Context(), "healthz: db ping failed", "error", err)
			resp.Status = "degraded"
			resp.DB = "unavailable"
			statusCode = http.StatusServiceUnavailable
		}

		writeJSON(w, statusCode, resp)
	}
}

// writeJSON writes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writeJSON: encode failed", "error", err)
	}
}

// decodeJSON decodes the request body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
