package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/sigaire/pushalerts/internal/app"
	"github.com/sigaire/pushalerts/internal/config"
	"github.com/sigaire/pushalerts/internal/httpapi"
	"github.com/sigaire/pushalerts/internal/logging"
	"github.com/sigaire/pushalerts/internal/scheduler"
)

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()
	logger, err := logging.NewLogger(cfg.LogDir, cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := app.OpenBackend(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("store_open_failed", zap.String("backend", cfg.Backend()), zap.Error(err))
	}
	defer backend.Close()
	logger.Info("store_ready", zap.String("backend", cfg.Backend()))

	var dispatcher httpapi.Dispatcher
	d, err := app.Dispatcher(cfg, logger, backend, app.Weather(cfg, logger))
	if err != nil {
		logger.Warn("push_disabled", zap.Error(err))
	} else {
		dispatcher = d
		if cfg.DispatchInterval > 0 {
			go (&scheduler.Ticker{Logger: logger, Dispatcher: d, Interval: cfg.DispatchInterval}).Run(ctx)
		}
	}
	if cfg.CronSecret == "" {
		logger.Warn("cron_secret_missing", zap.String("note", "dispatch and broadcast routes are open"))
	}

	api := httpapi.NewServer(logger, backend, dispatcher, app.Mailers(ctx, cfg, logger), httpapi.Options{
		CronSecret:     cfg.CronSecret,
		AllowedOrigins: cfg.AllowedOrigins,
		PublicRPM:      cfg.PublicRPM,
		PublicBurst:    cfg.PublicBurst,
		FromEmail:      cfg.FromEmail,
		FromName:       cfg.FromName,
		VAPIDPublicKey: cfg.VAPIDPublicKey,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("api_listen", zap.String("addr", cfg.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("api_listen_failed", zap.Error(err))
	}
	logger.Info("api_stopped")
}
