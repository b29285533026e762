package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/xtrntr/p2pmarket/internal/api"
	"github.com/xtrntr/p2pmarket/internal/auth"
	"github.com/xtrntr/p2pmarket/internal/config"
	"github.com/xtrntr/p2pmarket/internal/db"
	"github.com/xtrntr/p2pmarket/internal/engine"
	"github.com/xtrntr/p2pmarket/internal/logging"
)

// Main entry point: sets up storage, the lifecycle engine, and the HTTP server.
func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logging.New(cfg.Logging.Level, cfg.Logging.File)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Use Postgres when a URL is configured, otherwise fall back to the
	// in-memory store so the server can run without infrastructure.
	var store db.Store
	if cfg.Database.URL != "" {
		pg, err := db.NewDB(ctx, cfg.Database.URL)
		if err != nil {
			log.Error("failed to connect to database", "err", err)
			os.Exit(1)
		}
		store = pg
		log.Info("using postgres store")
	} else {
		store = db.NewMemoryStore()
		log.Warn("DATABASE_URL not set, using in-memory store")
	}
	defer store.Close()

	eng := engine.New(store, engine.Config{
		AutoRejectSiblings: cfg.Engine.AutoRejectSiblings,
	}, log)
	authService := auth.NewAuthService(store, cfg.Server.JWTSecret)
	handler := api.NewHandler(eng, authService, log)

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Mount("/", handler.Routes())

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", "addr", cfg.Server.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "err", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown failed", "err", err)
		}
	}
}
