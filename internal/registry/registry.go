// Package registry holds the static mapping from logical service names to
// backend addresses. It is built once at startup and read-only afterwards,
// so request-time lookups need no locking.
package registry

import (
	"fmt"
	"net/url"
	"strings"
)

// Route describes one registered backend service.
type Route struct {
	// Name is the logical service name; it doubles as the /api/<name>/
	// path prefix on the gateway.
	Name string
	// BaseURL is the backend's address, e.g. http://localhost:8005. It may
	// carry a path prefix that proxied subpaths are appended to.
	BaseURL string
	// HealthPath is probed by health aggregation. It is resolved against
	// the backend host, ignoring any BaseURL path prefix. Defaults to
	// /health.
	HealthPath string
	// RequiredPermission gates proxied requests; empty means any
	// authenticated caller.
	RequiredPermission string
}

// Registry resolves logical service names and request paths to routes.
type Registry struct {
	routes []Route
	byName map[string]Route
}

// New validates the routes and builds the lookup tables.
func New(routes []Route) (*Registry, error) {
	r := &Registry{byName: make(map[string]Route, len(routes))}
	for _, route := range routes {
		route.Name = strings.Trim(strings.TrimSpace(route.Name), "/")
		if route.Name == "" {
			return nil, fmt.Errorf("registry: route name is required")
		}
		if _, dup := r.byName[route.Name]; dup {
			return nil, fmt.Errorf("registry: duplicate route %q", route.Name)
		}
		u, err := url.Parse(route.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("registry: route %q has invalid base url %q", route.Name, route.BaseURL)
		}
		route.BaseURL = strings.TrimSuffix(route.BaseURL, "/")
		if route.HealthPath == "" {
			route.HealthPath = "/health"
		}
		if !strings.HasPrefix(route.HealthPath, "/") {
			route.HealthPath = "/" + route.HealthPath
		}
		r.routes = append(r.routes, route)
		r.byName[route.Name] = route
	}
	if len(r.routes) == 0 {
		return nil, fmt.Errorf("registry: at least one route is required")
	}
	return r, nil
}

// Lookup returns the route registered under name.
func (r *Registry) Lookup(name string) (Route, bool) {
	route, ok := r.byName[name]
	return route, ok
}

// Routes returns all routes in registration order.
func (r *Registry) Routes() []Route {
	out := make([]Route, len(r.routes))
	copy(out, r.routes)
	return out
}

// Match resolves a gateway path of the form /api/<name>[/rest...] to its
// route and the remaining subpath (always starting with "/", possibly just
// "/").
func (r *Registry) Match(path string) (Route, string, bool) {
	trimmed := strings.TrimPrefix(path, "/api/")
	if trimmed == path {
		return Route{}, "", false
	}
	name := trimmed
	remainder := "/"
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		name = trimmed[:i]
		remainder = trimmed[i:]
	}
	route, ok := r.byName[name]
	if !ok {
		return Route{}, "", false
	}
	return route, remainder, true
}
