package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"github.com/hranicka/ha-jablotron/config"
	"github.com/hranicka/ha-jablotron/internal/api"
	"github.com/hranicka/ha-jablotron/internal/db"
	"github.com/hranicka/ha-jablotron/internal/jablonet"
	"github.com/hranicka/ha-jablotron/internal/notification"
	"github.com/hranicka/ha-jablotron/internal/poller"
	"github.com/hranicka/ha-jablotron/internal/store"
)

func newLogger(level string) zerolog.Logger {
	console := zerolog.ConsoleWriter{Out: os.Stdout}
	console.NoColor = !isatty.IsTerminal(os.Stdout.Fd())
	console.TimeFormat = "15:04:05.000"

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(console).Level(lvl).With().Timestamp().Logger()
}

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration from %s: %v\n", configPath, err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log.Level)
	logger.Info().Str("path", configPath).Msg("configuration loaded")

	var webpushOptions *webpush.Options
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
	} else {
		logger.Warn().Msg("VAPID keys are not configured, push notifications are disabled")
	}

	gormDB, err := db.Init(&cfg.Database, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize database")
	}
	logger.Info().Msg("database initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)

	client := jablonet.New(jablonet.Config{
		BaseURL:    cfg.Jablonet.BaseURL,
		Username:   cfg.Jablonet.Username,
		Password:   cfg.Jablonet.Password,
		ServiceID:  cfg.Jablonet.ServiceID,
		PGMCode:    cfg.Jablonet.PGMCode,
		Timeout:    cfg.Jablonet.Timeout,
		RetryDelay: cfg.Jablonet.RetryDelay,
	}, logger)
	defer client.Close()

	// The API's control path needs both of these running even when the
	// poller is disabled, so they start here rather than in Run.
	pool := notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, webpushOptions, logger)
	pool.Start(ctx)
	reconciler := poller.NewReconciler()
	reconciler.Start(ctx)

	pollerSvc := poller.NewService(cfg, client, appStore, pool, reconciler, logger)
	go pollerSvc.Run(ctx)

	router := api.NewRouter(&cfg.Server, appStore, client, pollerSvc, reconciler, webpushOptions)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info().Int("port", cfg.Server.Port).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info().Msg("shutdown signal received, stopping services")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("HTTP server shutdown failed")
	}

	logger.Info().Msg("server gracefully stopped")
}
