package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"campusgrid.org/internal/audit"
	"campusgrid.org/internal/auth"
	"campusgrid.org/internal/config"
	"campusgrid.org/internal/httpapi"
	"campusgrid.org/internal/obs"
)

var version = "1.0.0"

func main() {
	obs.Init()
	obs.InitBuildInfo("auth-service", version)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Auth.Secret == "" {
		log.Fatal("auth secret is required (CAMPUSGRID_AUTH__SECRET)")
	}

	// Postgres when a DSN is configured, in-memory otherwise.
	var (
		users      auth.UserStore
		refresh    auth.RefreshTokenStore
		auditStore audit.Store
	)
	if dsn := cfg.Auth.PostgresDSN; dsn != "" {
		db, err := auth.OpenDB(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer db.Close()
		users = auth.NewPGUserStore(db)
		refresh = auth.NewPGRefreshTokenStore(db)
		auditStore = audit.NewPGStore(db)
	} else {
		users = auth.NewMemoryUserStore()
		refresh = auth.NewMemoryRefreshTokenStore()
		auditStore = audit.NewMemoryStore()
	}

	trail := audit.NewTrail(auditStore)
	denylist := auth.NewDenylist()
	tokens, err := auth.NewTokenService([]byte(cfg.Auth.Secret), auth.WithDenylist(denylist))
	if err != nil {
		log.Fatalf("token service: %v", err)
	}
	authz, err := auth.NewAuthorizer(tokens, trail)
	if err != nil {
		log.Fatalf("authorizer: %v", err)
	}
	svc, err := auth.NewService(users, refresh, tokens, trail, auth.WithServiceDenylist(denylist))
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	api := httpapi.New(svc, authz, trail, version)

	srv := &http.Server{
		Addr:              cfg.Auth.Listen,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting auth-service %s on %s", version, srv.Addr)

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
