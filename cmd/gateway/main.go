package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"campusgrid.org/internal/audit"
	"campusgrid.org/internal/auth"
	"campusgrid.org/internal/config"
	"campusgrid.org/internal/gateway"
	"campusgrid.org/internal/httpapi"
	"campusgrid.org/internal/obs"
	"campusgrid.org/internal/registry"
)

var version = "1.0.0"

func main() {
	obs.Init()
	obs.InitBuildInfo("gateway", version)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Auth.Secret == "" {
		log.Fatal("auth secret is required (CAMPUSGRID_AUTH__SECRET)")
	}

	routes := make([]registry.Route, 0, len(cfg.Gateway.Services))
	for _, s := range cfg.Gateway.Services {
		routes = append(routes, registry.Route{
			Name:               s.Name,
			BaseURL:            s.BaseURL,
			HealthPath:         s.HealthPath,
			RequiredPermission: s.Permission,
		})
	}
	reg, err := registry.New(routes)
	if err != nil {
		log.Fatalf("service registry: %v", err)
	}

	// The gateway verifies tokens locally; its denial records are forwarded
	// to the auth service so they land in the same queryable trail. Without
	// an auth route the trail degrades to process-local memory.
	var store audit.Store = audit.NewMemoryStore()
	for _, s := range cfg.Gateway.Services {
		if s.Name == "auth" {
			store = audit.NewRemoteStore(strings.TrimSuffix(s.BaseURL, "/") + "/audit-logs")
			break
		}
	}
	trail := audit.NewTrail(store)
	tokens, err := auth.NewTokenService([]byte(cfg.Auth.Secret))
	if err != nil {
		log.Fatalf("token service: %v", err)
	}
	authz, err := auth.NewAuthorizer(tokens, trail)
	if err != nil {
		log.Fatalf("authorizer: %v", err)
	}

	gw, err := gateway.New(reg, authz, gateway.WithProbeTimeout(cfg.Gateway.ProbeTimeout))
	if err != nil {
		log.Fatalf("gateway: %v", err)
	}

	handler := gw.Handler()
	handler = httpapi.RateLimit(handler, cfg.Gateway.RateBurst, cfg.Gateway.RatePerSecond)
	handler = httpapi.SecurityHeaders(httpapi.CORS(handler))
	handler = obs.Instrument(httpapi.RequestID(httpapi.LoggingJSON(handler)))

	srv := &http.Server{
		Addr:              cfg.Gateway.Listen,
		Handler:           handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting gateway %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
