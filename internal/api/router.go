package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/nikhilbhutani/agroplatform/internal/api/handlers"
	"github.com/nikhilbhutani/agroplatform/internal/api/middleware"
	"github.com/nikhilbhutani/agroplatform/internal/audit"
	"github.com/nikhilbhutani/agroplatform/internal/auth"
	"github.com/nikhilbhutani/agroplatform/internal/obs"
	"github.com/nikhilbhutani/agroplatform/internal/rbac"
)

// AuthService is the auth orchestrator as seen by the HTTP layer.
type AuthService interface {
	handlers.AuthService
	auth.Authenticator
}

type Deps struct {
	Auth        AuthService
	Authorizer  auth.Authorizer
	Permissions handlers.PermissionResolver
	Roles       handlers.RoleManager
	Users       handlers.UserService
	Tenants     handlers.TenantService
	Audit       audit.Recorder
	Health      *handlers.HealthHandler
	Metrics     http.Handler
	Limiter     *middleware.RateLimiter
	CORSOrigins []string
}

type Router struct {
	mux  *chi.Mux
	deps Deps
}

func NewRouter(d Deps) *Router {
	return &Router{mux: chi.NewRouter(), deps: d}
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux
	d := rt.deps

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(obs.Instrument)
	r.Use(middleware.CORS(d.CORSOrigins))
	if d.Limiter != nil {
		r.Use(d.Limiter.Limit)
	}

	// Health endpoints (no auth)
	if d.Health != nil {
		r.Get("/healthz", d.Health.Healthz)
		r.Get("/readyz", d.Health.Readyz)
	}
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics)
	}

	mw := auth.NewMiddleware(d.Auth, d.Authorizer)
	can := func(m rbac.Module, a rbac.Action) func(http.Handler) http.Handler {
		return mw.RequirePermission(rbac.NewPermission(m, a))
	}

	r.Route("/api/v1", func(r chi.Router) {
		authH := handlers.NewAuthHandler(d.Auth)
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", authH.Login)
			r.Post("/refresh", authH.Refresh)
			r.Post("/logout", authH.Logout)
			r.Post("/password/forgot", authH.ForgotPassword)
			r.Post("/password/reset", authH.ResetPassword)
			r.Post("/invite/accept", authH.AcceptInvite)
			r.Get("/oauth/google", authH.GoogleStart)
			r.Get("/oauth/google/callback", authH.GoogleCallback)
			r.Post("/oauth/exchange", authH.Exchange)
		})

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(mw.Authenticate)

			permH := handlers.NewPermissionHandler(d.Permissions)
			r.Get("/me/permissions", permH.Mine)

			roleH := handlers.NewRoleHandler(d.Roles, d.Audit)
			r.Route("/roles", func(r chi.Router) {
				r.With(can(rbac.ModuleRoles, rbac.ActionRead)).Get("/", roleH.List)
				r.With(can(rbac.ModuleRoles, rbac.ActionCreate)).Post("/", roleH.Create)
				r.With(can(rbac.ModuleRoles, rbac.ActionRead)).Get("/{id}", roleH.Get)
				r.With(can(rbac.ModuleRoles, rbac.ActionUpdate)).Patch("/{id}", roleH.Update)
				r.With(can(rbac.ModuleRoles, rbac.ActionDelete)).Delete("/{id}", roleH.Delete)
			})

			userH := handlers.NewUserHandler(d.Users)
			r.Route("/users", func(r chi.Router) {
				r.With(can(rbac.ModuleUsers, rbac.ActionRead)).Get("/", userH.List)
				r.With(can(rbac.ModuleUsers, rbac.ActionCreate)).Post("/", userH.Invite)
				r.With(can(rbac.ModuleUsers, rbac.ActionRead)).Get("/{id}", userH.Get)
				r.With(can(rbac.ModuleUsers, rbac.ActionUpdate)).Put("/{id}/role", userH.ChangeRole)
				r.With(can(rbac.ModuleUsers, rbac.ActionUpdate)).Put("/{id}/status", userH.SetStatus)
				r.With(can(rbac.ModuleUsers, rbac.ActionUpdate)).Put("/{id}/custom-role", userH.AssignCustomRole)
			})

			tenantH := handlers.NewTenantHandler(d.Tenants, d.Audit)
			r.Route("/platform/tenants", func(r chi.Router) {
				r.Use(mw.RequireTopRole)
				r.Post("/", tenantH.Create)
				r.Get("/{id}", tenantH.Get)
				r.Put("/{id}/status", tenantH.SetStatus)
			})
		})
	})

	return r
}
