package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.io/infrasutra/tempmail/internal/api"
	"github.io/infrasutra/tempmail/internal/config"
	"github.io/infrasutra/tempmail/internal/dashboard"
	"github.io/infrasutra/tempmail/internal/grants"
	"github.io/infrasutra/tempmail/internal/ingest"
	"github.io/infrasutra/tempmail/internal/render"
	"github.io/infrasutra/tempmail/internal/smtpserver"
	"github.io/infrasutra/tempmail/internal/sse"
	"github.io/infrasutra/tempmail/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	ctx := context.Background()
	db, err := store.Open(ctx, store.Options{
		URL:      cfg.StoreURL,
		Database: cfg.StoreDatabase,
		Messages: cfg.MessagesCollection,
		Grants:   cfg.SavedCollection,
	})
	if err != nil {
		logger.Error("open store", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx); err != nil {
		logger.Error("ensure schema", "error", err)
		os.Exit(1)
	}
	if cfg.StoreURL == "" {
		logger.Warn("STORE_URL not set; messages are kept in memory and lost on restart")
	}

	hub := sse.NewHub()
	hook := ingest.New(db, hub, logger)
	stats := dashboard.New(db, time.Duration(cfg.ReportUTCOffsetHours)*time.Hour)
	apiServer := api.NewServer(db, render.New(logger), grants.NewService(db), stats, hub, logger)

	if cfg.SMTPAuthEnabled {
		logger.Info("smtp auth enabled", "username", cfg.SMTPUsername)
	} else {
		logger.Warn("smtp auth disabled; server accepts unauthenticated connections")
	}

	smtpAddr := fmt.Sprintf(":%d", cfg.SMTPPort)
	smtpSrv := smtpserver.New(hook, logger, smtpserver.Config{
		Addr:            smtpAddr,
		Domain:          cfg.SMTPDomain,
		MaxMessageBytes: cfg.SMTPMaxMessageBytes,
		AuthEnabled:     cfg.SMTPAuthEnabled,
		Username:        cfg.SMTPUsername,
		Password:        cfg.SMTPPassword,
	})

	httpAddr := fmt.Sprintf(":%d", cfg.HTTPPort)
	httpSrv := &http.Server{
		Addr:              httpAddr,
		Handler:           apiServer,
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpSrv.RegisterOnShutdown(apiServer.CloseStreams)

	go func() {
		if err := smtpSrv.ListenAndServe(); err != nil {
			logger.Error("smtp server stopped", "error", err)
		}
	}()

	go func() {
		logger.Info("http server listening", "addr", httpAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("shutdown http", "error", err)
	}
	if err := smtpSrv.Close(); err != nil {
		logger.Error("shutdown smtp", "error", err)
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelDrain()
	if err := hook.Wait(drainCtx); err != nil {
		logger.Warn("pending messages not stored before shutdown", "error", err)
	}
}
