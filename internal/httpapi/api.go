// Package httpapi is the auth service's HTTP surface: the AAA endpoints
// plus the middleware toolkit shared with the gateway daemon.
package httpapi

import (
	"errors"
	"net/http"

	"campusgrid.org/internal/audit"
	"campusgrid.org/internal/auth"
	"campusgrid.org/internal/obs"
)

// API wires the auth flows, the authorizer and the audit trail into an
// http.Handler.
type API struct {
	mux     *http.ServeMux
	svc     *auth.Service
	authz   *auth.Authorizer
	trail   *audit.Trail
	version string
}

// New builds the route table.
func New(svc *auth.Service, authz *auth.Authorizer, trail *audit.Trail, version string) *API {
	a := &API{
		mux:     http.NewServeMux(),
		svc:     svc,
		authz:   authz,
		trail:   trail,
		version: version,
	}

	a.mux.HandleFunc("/health", a.handleHealth)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/api/auth/register", a.handleRegister)
	a.mux.HandleFunc("/api/auth/login", a.handleLogin)
	a.mux.HandleFunc("/api/auth/refresh", a.handleRefresh)

	a.mux.HandleFunc("/api/auth/users", a.handleUsersCollection)
	a.mux.HandleFunc("/api/auth/users/", a.handleUserResource)

	a.mux.HandleFunc("/api/auth/audit-logs", a.handleAuditLogs)
	a.mux.HandleFunc("/api/auth/audit-logs/", a.handleUserActivity)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	return a
}

// Handler returns the full middleware chain around the mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = WithClientIP(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"service": "auth-service",
		"version": a.version,
	})
}

// authorize enforces a requirement at the top of a handler. On failure the
// response has already been written; the access-denied audit record is
// produced inside the authorizer before the 403 goes out.
func (a *API) authorize(w http.ResponseWriter, r *http.Request, req auth.Requirement) (auth.Claims, bool) {
	token, err := BearerToken(r.Header.Get("Authorization"))
	if err != nil {
		unauthorized(w, r, err.Error())
		return auth.Claims{}, false
	}
	claims, err := a.authz.Authorize(r.Context(), token, req)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrForbidden):
			writeError(w, r, http.StatusForbidden, "forbidden")
		case errors.Is(err, auth.ErrTokenExpired):
			unauthorized(w, r, "token expired")
		case errors.Is(err, auth.ErrInvalidToken):
			unauthorized(w, r, "invalid token")
		default:
			writeError(w, r, http.StatusInternalServerError, "authentication error")
		}
		return auth.Claims{}, false
	}
	return claims, true
}
