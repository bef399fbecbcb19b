// Package httpapi exposes the authentication service over HTTP: the auth
// endpoints, the JWKS document, the admin catalog and health probes.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"shopfront.io/internal/auth"
	"shopfront.io/internal/keys"
	"shopfront.io/internal/obs"
	"shopfront.io/internal/token"
)

const serviceName = "shopfront-auth"

// ReadyProbe reports whether dependencies are reachable.
type ReadyProbe interface {
	Check(ctx context.Context) error
}

// ReadyFunc adapts a function to ReadyProbe.
type ReadyFunc func(ctx context.Context) error

func (f ReadyFunc) Check(ctx context.Context) error {
	if f == nil {
		return nil
	}
	return f(ctx)
}

// Deps are the services the API routes to.
type Deps struct {
	Auth     *auth.Service
	Catalog  *auth.Catalog
	Registry *keys.Registry
	Ready    ReadyProbe
}

// Options tunes transport behaviour.
type Options struct {
	Version           string
	Production        bool
	RefreshCookieName string
	RefreshCookiePath string
	AccessCookieName  string
	LoginRatePerSec   float64
	LoginBurst        int
	TrustedProxies    []netip.Prefix // peers whose X-Forwarded-For is honoured
	Logger            *zap.Logger
}

// API is the HTTP layer.
type API struct {
	mux      *http.ServeMux
	auth     *auth.Service
	catalog  *auth.Catalog
	registry *keys.Registry
	resolver *auth.Resolver
	tokens   *token.Service
	ready    ReadyProbe
	version  string
	cookies  cookieSettings
	logger   *zap.Logger

	ratePerSec float64
	rateBurst  int
	trusted    []netip.Prefix
}

// New wires routes. Auth, Catalog and Registry are required.
func New(deps Deps, opts Options) (*API, error) {
	if deps.Auth == nil || deps.Catalog == nil || deps.Registry == nil {
		return nil, errors.New("httpapi: auth, catalog and registry are required")
	}
	a := &API{
		mux:        http.NewServeMux(),
		auth:       deps.Auth,
		catalog:    deps.Catalog,
		registry:   deps.Registry,
		resolver:   deps.Auth.Resolver(),
		tokens:     deps.Auth.Tokens(),
		ready:      deps.Ready,
		version:    opts.Version,
		logger:     opts.Logger,
		ratePerSec: opts.LoginRatePerSec,
		rateBurst:  opts.LoginBurst,
		trusted:    opts.TrustedProxies,
	}
	if a.ready == nil {
		a.ready = ReadyFunc(nil)
	}
	if a.logger == nil {
		a.logger = obs.Logger()
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 5
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 10
	}
	a.cookies = newCookieSettings(opts, a.tokens)
	a.routes()
	return a, nil
}

func (a *API) routes() {
	limited := func(h http.HandlerFunc) http.Handler {
		return RateLimit(h, a.rateBurst, a.ratePerSec)
	}

	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.Handle("GET /metrics", obs.Handler())
	a.mux.HandleFunc("GET /.well-known/jwks.json", a.handleJWKS)

	a.mux.Handle("POST /auth/register", limited(a.handleRegister))
	a.mux.Handle("POST /auth/login", limited(a.handleLogin))
	a.mux.HandleFunc("POST /auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("POST /auth/logout", a.handleLogout)
	a.mux.Handle("GET /auth/me", a.Authenticate(http.HandlerFunc(a.handleMe)))

	rolesRead := a.withPermission(auth.PermRolesRead)
	permsRead := a.withPermission(auth.PermPermissionsRead)
	usersRead := a.withPermission(auth.PermUsersRead)
	super := a.withRole(auth.RoleSuperAdmin)

	a.mux.Handle("GET /admin/roles", rolesRead(a.handleListRoles))
	a.mux.Handle("GET /admin/roles/{name}", rolesRead(a.handleGetRole))
	a.mux.Handle("POST /admin/roles", super(a.handleCreateRole))
	a.mux.Handle("PUT /admin/roles/{name}", super(a.handleUpdateRole))
	a.mux.Handle("DELETE /admin/roles/{name}", super(a.handleDeleteRole))

	a.mux.Handle("GET /admin/permissions", permsRead(a.handleListPermissions))
	a.mux.Handle("POST /admin/permissions", super(a.handleCreatePermission))
	a.mux.Handle("PUT /admin/permissions/{key}", super(a.handleUpdatePermission))
	a.mux.Handle("DELETE /admin/permissions/{key}", super(a.handleDeletePermission))

	a.mux.Handle("GET /admin/keys", super(a.handleListKeys))
	a.mux.Handle("POST /admin/keys", super(a.handleAddKey))
	a.mux.Handle("POST /admin/keys/{kid}/activate", super(a.handleSetKeyActive(true)))
	a.mux.Handle("POST /admin/keys/{kid}/deactivate", super(a.handleSetKeyActive(false)))

	a.mux.Handle("PUT /admin/users/{id}/access", super(a.handleSetUserAccess))
	a.mux.Handle("GET /admin/users/{id}/permissions", usersRead(a.handleUserPermissions))
	a.mux.Handle("DELETE /admin/users/{id}/sessions", super(a.handleRevokeSessions))
}

// Handler returns the routed handler wrapped in the standard middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, maxBodyBytes)
	h = SecurityHeaders(h)
	h = obs.Instrument(h)
	h = LoggingJSON(a.logger)(h)
	h = RequestID(h)
	h = ClientIP(a.trusted)(h)
	return h
}

// --- Health ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.ready.Check(ctx); err != nil {
		obs.SetReady(false)
		a.logger.Warn("readiness check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) handleJWKS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, a.registry.JWKS())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
