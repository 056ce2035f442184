package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dan9191/finance-ledger/internal/config"
	"github.com/Dan9191/finance-ledger/internal/handler"
	"github.com/Dan9191/finance-ledger/internal/integrations/cbr"
	"github.com/Dan9191/finance-ledger/internal/ledger"
	"github.com/Dan9191/finance-ledger/internal/rates"
	"github.com/Dan9191/finance-ledger/internal/repository"
	"github.com/Dan9191/finance-ledger/internal/scheduler"
	"github.com/Dan9191/finance-ledger/internal/service"
	"github.com/Dan9191/finance-ledger/internal/utils/email"
	"github.com/sirupsen/logrus"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	logLevel, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Initialize store
	store, err := repository.Open(cfg.StoreDriver, cfg.DBConn, cfg.BoltPath)
	if err != nil {
		logger.Fatalf("Failed to open %s store: %v", cfg.StoreDriver, err)
	}
	defer store.Close()

	// Initialize layers
	engine := ledger.NewEngine(logger)
	converter := rates.NewConverter(cbr.NewClient(cfg, logger), logger)
	svc := service.NewService(store, engine, converter, logger, cfg)
	h := handler.NewHandler(svc, logger)

	// Reconcile job
	var alerter scheduler.Alerter
	if cfg.AlertsEnabled() {
		alerter = email.NewSender(cfg, logger)
	}
	jobs, err := scheduler.New(cfg.ReconcileSchedule, engine, store, alerter, logger)
	if err != nil {
		logger.Fatalf("Failed to schedule reconciliation: %v", err)
	}
	jobs.Start()

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler.NewRouter(h, cfg, logger),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		logger.Infof("Starting server on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	}
	jobs.Stop(ctx)
}
