// Package gateway is the single network-facing entry point: it
// authenticates and authorizes external traffic, proxies it to the
// registered backend services, and aggregates their health.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"campusgrid.org/internal/auth"
	"campusgrid.org/internal/httpapi"
	"campusgrid.org/internal/obs"
	"campusgrid.org/internal/registry"
)

const (
	defaultProbeTimeout = 5 * time.Second
	defaultProxyTimeout = 15 * time.Second
)

// backend is one registered service with its pooled client and breaker.
// Clients are built once at startup; per-request client construction would
// pay connection setup on every proxied call.
type backend struct {
	route     registry.Route
	base      *url.URL
	healthURL string
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker[*http.Response]
}

// Gateway routes external requests to backends.
type Gateway struct {
	registry     *registry.Registry
	authz        *auth.Authorizer
	backends     map[string]*backend
	order        []*backend
	probeTimeout time.Duration
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithProbeTimeout overrides the per-service health probe timeout.
func WithProbeTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.probeTimeout = d
		}
	}
}

// Paths proxied without authentication: the auth service has to be
// reachable before the caller has a token.
var publicPaths = []string{
	"/api/auth/register",
	"/api/auth/login",
	"/api/auth/refresh",
}

// New builds one pooled client and one circuit breaker per registered
// service.
func New(reg *registry.Registry, authz *auth.Authorizer, opts ...Option) (*Gateway, error) {
	if reg == nil {
		return nil, errors.New("gateway: registry is required")
	}
	if authz == nil {
		return nil, errors.New("gateway: authorizer is required")
	}
	g := &Gateway{
		registry:     reg,
		authz:        authz,
		backends:     make(map[string]*backend),
		probeTimeout: defaultProbeTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	for _, route := range reg.Routes() {
		base, err := url.Parse(route.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("gateway: route %q: %w", route.Name, err)
		}
		b := &backend{
			route:     route,
			base:      base,
			healthURL: base.Scheme + "://" + base.Host + route.HealthPath,
			client: &http.Client{
				Timeout: defaultProxyTimeout,
				Transport: &http.Transport{
					MaxIdleConns:        64,
					MaxIdleConnsPerHost: 16,
					IdleConnTimeout:     90 * time.Second,
				},
			},
			breaker: newBreaker(route.Name),
		}
		g.backends[route.Name] = b
		g.order = append(g.order, b)
	}
	return g, nil
}

// Opens after a 60% failure rate over at least 10 calls; probes recovery
// with up to 3 requests after 30 seconds. Only transport failures count:
// a backend that answers, even with a 5xx, is reachable.
func newBreaker(name string) *gobreaker.CircuitBreaker[*http.Response] {
	return gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
	})
}

// Handler returns the gateway mux. Callers wrap it with the shared
// middleware chain.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", g.handleHealth)
	mux.Handle("/metrics", obs.Handler())
	mux.HandleFunc("/", g.handleProxy)
	return mux
}

func (g *Gateway) handleProxy(w http.ResponseWriter, r *http.Request) {
	route, remainder, ok := g.registry.Match(r.URL.Path)
	if !ok {
		writeError(w, r, http.StatusNotFound, "unknown service")
		return
	}

	ctx := auth.ContextWithClientIP(r.Context(), httpapi.ClientIP(r))
	var claims auth.Claims
	if !isPublicPath(r.URL.Path) {
		token, err := httpapi.BearerToken(r.Header.Get("Authorization"))
		if err != nil {
			unauthorized(w, r, err.Error())
			return
		}
		claims, err = g.authz.Authorize(ctx, token, auth.Requirement{
			Permission: route.RequiredPermission,
			Resource:   route.Name,
		})
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
			return
		}
		ctx = auth.ContextWithUser(ctx, claims.Subject, auth.Role(claims.Role))
	}

	g.forward(w, r.WithContext(ctx), route, remainder, claims)
}

// forward relays the request unchanged: method, remaining path, query and
// body pass through; the backend's status code is preserved.
func (g *Gateway) forward(w http.ResponseWriter, r *http.Request, route registry.Route, remainder string, claims auth.Claims) {
	b := g.backends[route.Name]

	target := *b.base
	target.Path = strings.TrimSuffix(b.base.Path, "/") + remainder
	target.RawQuery = r.URL.RawQuery

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "malformed request")
		return
	}
	copyHeaders(req.Header, r.Header)
	if claims.Subject != "" {
		req.Header.Set("X-User-Id", claims.Subject)
		req.Header.Set("X-User-Role", claims.Role)
	}
	req.Header.Set("X-Forwarded-For", httpapi.ClientIP(r))

	start := time.Now()
	resp, err := b.breaker.Execute(func() (*http.Response, error) {
		return b.client.Do(req)
	})
	elapsed := time.Since(start)

	if err != nil {
		outcome, code, reason := classifyUpstreamError(err)
		obs.ObserveUpstream(route.Name, outcome, elapsed)
		writeError(w, r, code, fmt.Sprintf("%s: %s", route.Name, reason))
		return
	}
	defer resp.Body.Close()
	obs.ObserveUpstream(route.Name, "ok", elapsed)

	if resp.StatusCode >= http.StatusBadRequest {
		// Preserve the backend's status, attribute the failure.
		snippet := readSnippet(resp.Body)
		writeJSON(w, resp.StatusCode, map[string]any{
			"error":  fmt.Sprintf("%s returned %d %s", route.Name, resp.StatusCode, http.StatusText(resp.StatusCode)),
			"detail": snippet,
		})
		return
	}

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func classifyUpstreamError(err error) (outcome string, code int, reason string) {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "open", http.StatusBadGateway, "temporarily unavailable"
	case isTimeout(err):
		return "timeout", http.StatusGatewayTimeout, "request timed out"
	default:
		return "error", http.StatusBadGateway, "unreachable"
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// hop-by-hop headers are connection-scoped and must not be relayed.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		if isHopByHop(key) {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func isHopByHop(key string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(key, h) {
			return true
		}
	}
	return false
}

func readSnippet(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(data))
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// Local response helpers; the gateway attaches request ids the same way
// the auth service does.

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := httpapi.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="campusgrid"`)
	writeError(w, r, http.StatusUnauthorized, msg)
}
