package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/handlers"
	"github.com/thebowwman/fleetcast/internals/api"
	"github.com/thebowwman/fleetcast/internals/auth"
	"github.com/thebowwman/fleetcast/internals/config"
	"github.com/thebowwman/fleetcast/internals/logger"
	"github.com/thebowwman/fleetcast/internals/tracking"
)

func main() {
	cfgPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	src := config.NewSource(*cfgPath)
	cfg, err := src.Load()
	if err != nil {
		log.Fatalln("failed to load config:", err)
	}

	lg, level := logger.New("fleetcast", cfg.Log.Level, cfg.Log.Format, os.Stdout)
	if src.Watch(func(c *config.Config) {
		level.Set(logger.ParseLevel(c.Log.Level))
		lg.Info("config reloaded", "action", "config_reloaded", "log_level", c.Log.Level)
	}) {
		lg.Info("watching config file", "action", "config_watch")
	}
	if cfg.Auth.Secret == config.DevSecret {
		lg.Warn("using the development signing secret; set FLEETCAST_AUTH_SECRET", "action", "insecure_secret")
	}

	svc := tracking.New(tracking.Options{
		Store:         cfg.Store.Options(),
		Sim:           cfg.Sim.Options(),
		Hub:           cfg.Hub.Options(),
		SweepInterval: cfg.Store.SweepInterval,
	}, lg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	trackingDone := make(chan struct{})
	go func() {
		defer close(trackingDone)
		if err := svc.Run(ctx); err != nil {
			lg.Error("tracking stopped with error", "action", "tracking_failed", "error", err)
		}
	}()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), api.RequestLogger(lg))
	api.RegisterRoutes(r, svc, auth.NewIssuer(cfg.Auth.Secret, cfg.Auth.TokenTTL), lg)

	cors := handlers.CORS(
		handlers.AllowedOrigins(cfg.Server.CORSOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)
	srv := &http.Server{Addr: cfg.Server.Addr, Handler: cors(r)}

	go func() {
		lg.Info("listening", "action", "server_started", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error("server failed", "action", "server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	lg.Info("shutting down", "action", "server_stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error("graceful shutdown failed", "action", "server_stopping", "error", err)
	}
	<-trackingDone
	lg.Info("bye", "action", "server_stopped")
}
