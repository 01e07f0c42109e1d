package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fastgas/payment-reconciliation/internal"
	"github.com/fastgas/payment-reconciliation/internal/core/events"
	"github.com/fastgas/payment-reconciliation/internal/notification"
	"github.com/fastgas/payment-reconciliation/internal/order"
	orderpostgres "github.com/fastgas/payment-reconciliation/internal/order/postgres"
	"github.com/fastgas/payment-reconciliation/internal/payment"
	paymentpostgres "github.com/fastgas/payment-reconciliation/internal/payment/postgres"
	"github.com/fastgas/payment-reconciliation/internal/paymentgateway"
	"github.com/fastgas/payment-reconciliation/internal/transport"
	"github.com/fastgas/payment-reconciliation/internal/transport/rest"
	"github.com/fastgas/payment-reconciliation/pkg/logger"

	"github.com/go-chi/chi"
	"github.com/spf13/cobra"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server handling payment initiation, status polling and gateway callbacks`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config     *internal.Config
	DB         *gorm.DB
	Router     *chi.Mux
	Reconciler payment.ReconcilerAPI
	Logger     *slog.Logger
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	slog.Info("Starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:         addr,
		Handler:      deps.Router,
		ReadTimeout:  deps.Config.Server.ReadTimeout,
		WriteTimeout: deps.Config.Server.WriteTimeout,
		IdleTimeout:  deps.Config.Server.IdleTimeout,
	}

	// Background sweep so attempts whose callbacks were lost still settle.
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go runSweepLoop(sweepCtx, deps.Reconciler, deps.Config.Reconciler.SweepInterval, deps.Logger)

	// Signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down...", "signal", sig)
		stopSweep()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
		if sqlDB, err := deps.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				slog.Error("Database close error", "error", err)
			}
		}
	case err := <-serverErrChan:
		stopSweep()
		if err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}

	slog.Info("Server stopped")
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(os.Getenv("APP_ENV"))
	appLogger := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	txRepo := paymentpostgres.NewTransactionRepository(db)
	orderRepo := orderpostgres.NewOrderRepository(db)
	orderService := order.NewService(orderRepo, appLogger)

	gatewayClient := paymentgateway.NewClient(config.Gateway, appLogger)

	eventBus := events.NewEventBus(appLogger)
	notifier := notification.NewService(&notification.LogSender{Logger: appLogger}, appLogger)
	notifier.RegisterHandlers(eventBus)

	reconciler := payment.NewReconciler(txRepo, orderService, gatewayClient, eventBus, config.Reconciler, appLogger)
	paymentService := payment.NewService(txRepo, gatewayClient, orderService, reconciler, config.Reconciler.FreshnessWindow, appLogger)

	baseHandler := transport.NewBaseHandler(appLogger)
	paymentHandler := payment.NewHandler(baseHandler, paymentService, appLogger)
	webhookHandler := payment.NewWebhookHandler(baseHandler, reconciler, appLogger)

	router := chi.NewRouter()
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap sql db: %w", err)
	}
	rest.RegisterAllRoutes(router, sqlDB, paymentHandler, webhookHandler, appLogger)

	return &Dependencies{
		Config:     config,
		Logger:     appLogger,
		DB:         db,
		Router:     router,
		Reconciler: reconciler,
	}, nil
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(gormpostgres.Open(cfg.Source), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap sql db: %w", err)
	}

	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// verify connection; close on failure
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
