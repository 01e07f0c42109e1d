package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fastgas/payment-reconciliation/internal/core/events"
	"github.com/fastgas/payment-reconciliation/internal/notification"
	"github.com/fastgas/payment-reconciliation/internal/order"
	orderpostgres "github.com/fastgas/payment-reconciliation/internal/order/postgres"
	"github.com/fastgas/payment-reconciliation/internal/payment"
	paymentpostgres "github.com/fastgas/payment-reconciliation/internal/payment/postgres"
	"github.com/fastgas/payment-reconciliation/internal/paymentgateway"
	"github.com/fastgas/payment-reconciliation/pkg/logger"
	"github.com/spf13/cobra"
)

var sweepOnce bool

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Settle stale payment attempts",
	Long:  `Query the gateway for attempts that outlived the freshness window and settle them, timing out the rest. Runs on an interval unless --once is set.`,
	Run: func(cmd *cobra.Command, args []string) {
		runSweep()
	},
}

func init() {
	sweepCmd.Flags().BoolVar(&sweepOnce, "once", false, "Run a single sweep pass and exit")

	rootCmd.AddCommand(sweepCmd)
}

func runSweep() {
	config, err := loadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(os.Getenv("APP_ENV"))
	appLogger := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize database: %v\n", err)
		os.Exit(1)
	}

	txRepo := paymentpostgres.NewTransactionRepository(db)
	orderService := order.NewService(orderpostgres.NewOrderRepository(db), appLogger)
	gatewayClient := paymentgateway.NewClient(config.Gateway, appLogger)

	eventBus := events.NewEventBus(appLogger)
	notifier := notification.NewService(&notification.LogSender{Logger: appLogger}, appLogger)
	notifier.RegisterHandlers(eventBus)

	reconciler := payment.NewReconciler(txRepo, orderService, gatewayClient, eventBus, config.Reconciler, appLogger)

	if sweepOnce {
		settled, err := reconciler.SweepStale(context.Background())
		if err != nil {
			appLogger.Error("sweep failed", "error", err)
			os.Exit(1)
		}
		appLogger.Info("sweep complete", "settled", settled)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go runSweepLoop(ctx, reconciler, config.Reconciler.SweepInterval, appLogger)

	appLogger.Info("sweep worker is running. Press Ctrl+C to stop.")

	sig := <-sigChan
	appLogger.Info("received signal, shutting down sweep worker", "signal", sig)
	cancel()
}

// runSweepLoop runs SweepStale on a fixed interval until ctx is cancelled.
func runSweepLoop(ctx context.Context, reconciler payment.ReconcilerAPI, interval time.Duration, log *slog.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			settled, err := reconciler.SweepStale(ctx)
			if err != nil {
				log.Error("stale sweep failed", "error", err)
				continue
			}
			if settled > 0 {
				log.Info("stale sweep settled attempts", "settled", settled)
			}
		}
	}
}
