package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voice-console/internal/audit"
	"voice-console/internal/auth"
	"voice-console/internal/backend"
	"voice-console/internal/calls"
	"voice-console/internal/config"
	"voice-console/internal/history"
	"voice-console/internal/httpapi"
	"voice-console/internal/numbers"
	"voice-console/internal/phone"
	"voice-console/internal/reporting"
	"voice-console/internal/telephony"
	"voice-console/pkg/logger"
	"voice-console/pkg/utils"

	"github.com/gin-gonic/gin"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := utils.ApplySchema(rootCtx, db, audit.Schema...); err != nil {
		log.Error("audit schema failed", "err", err)
		os.Exit(1)
	}

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	policy := phone.Policy{DefaultCountryCode: cfg.Voice.DefaultCountryCode, Strict: cfg.Voice.StrictNumbers}
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))
	client := backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.Timeout, auth.ContextCredentials{})

	guard, err := calls.NewRedisGuard(rdb, cfg.Voice.ActiveCallTTL)
	if err != nil {
		log.Error("call guard init failed", "err", err)
		os.Exit(1)
	}
	bridge := &telephony.Bridge{Logger: log.With("component", "device_bridge")}
	controller, err := calls.NewController(calls.Options{
		Factory:      bridge,
		Tokens:       client,
		Credentials:  auth.ContextCredentials{},
		Policy:       policy,
		Guard:        guard,
		Audit:        auditSvc,
		Logger:       log,
		TickInterval: cfg.Voice.TickInterval,
	})
	if err != nil {
		log.Error("call controller init failed", "err", err)
		os.Exit(1)
	}

	historySync, err := history.NewSynchronizer(history.Options{
		Source: client,
		Policy: policy,
		Audit:  auditSvc,
		Logger: log,
	})
	if err != nil {
		log.Error("history init failed", "err", err)
		os.Exit(1)
	}

	numbersCache, err := numbers.NewRedisCache(rdb, "", cfg.Voice.NumbersCacheTTL)
	if err != nil {
		log.Error("numbers cache init failed", "err", err)
		os.Exit(1)
	}
	inventory, err := numbers.NewInventory(numbers.Options{
		Provisioner: client,
		Policy:      policy,
		Purger:      historySync,
		InUse:       controller,
		Cache:       numbersCache,
		Audit:       auditSvc,
		Logger:      log,
	})
	if err != nil {
		log.Error("inventory init failed", "err", err)
		os.Exit(1)
	}
	if inventory.Warm(rootCtx) {
		log.Info("owned numbers loaded from cache", "count", len(inventory.Owned()))
	}

	h := httpapi.Handlers{
		Auth:    authManager,
		Calls:   controller,
		Numbers: inventory,
		History: historySync,
		Reports: reporting.NewService(reporting.NewHistoryRepo(historySync)),
		Bridge:  bridge,
	}
	webhook := telephony.VoiceWebhookHandler{Router: telephony.VoiceRouter{
		Policy:        policy,
		Owns:          inventory.Owns,
		AgentIdentity: cfg.Voice.AgentIdentity,
	}}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerPublicRoutes(r, db, webhook)
	if !cfg.IsProduction() {
		registerAuthRoutes(r, h)
	}
	registerProtectedRoutes(r, auth.RequireAccessToken(authManager), h)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Call commands wait on the device widget; the websocket routes hijack
		// the connection and are not bound by this.
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	// Hang up and release the active-call slot before the listener goes away.
	controller.Dispose()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
