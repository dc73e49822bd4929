// Package main is the entry point for the FieldNotes billing API server.
//
// It loads configuration, connects the Postgres pool, wires the Stripe and
// AWS clients, builds the HTTP server with the core chassis (middleware,
// routing, health checks), and runs the server alongside the event marker
// pruner until a shutdown signal arrives.
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

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"fieldnotes/internal/api/handlers"
	"fieldnotes/internal/billing"
	"fieldnotes/internal/config"
	"fieldnotes/internal/core"
	"fieldnotes/internal/db"
	"fieldnotes/internal/external"
	"fieldnotes/internal/notify"
	"fieldnotes/internal/queue"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("fieldnotes billing API starting",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database pool. The pool doubles as the health probe and the
	// transaction beginner for the event processor.
	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer pool.Close()

	accountRepo := db.NewAccountRepo(pool, logger)
	eventRepo := db.NewProcessedEventRepo(pool, logger)

	// Stripe. Checkout session creation can be slow, hence the generous
	// client timeout.
	prices := external.NewPriceMap(cfg.Billing)
	stripeClient := external.NewStripeClient(
		&http.Client{Timeout: 20 * time.Second},
		prices,
		external.StripeClientConfig{
			SecretKey: cfg.Billing.StripeSecretKey.Unmask(),
			Logger:    logger,
		},
	)
	verifier := &external.StripeVerifier{}

	// Notifications. The sidecar is best-effort: when the queue is not
	// configured the service runs with dispatch logging only.
	metrics, publisher := buildAWSClients(ctx, cfg, logger)
	var enqueuer notify.EmailEnqueuer
	if publisher != nil {
		enqueuer = publisher
	}
	sidecar := notify.NewSidecar(enqueuer, metrics, logger)

	processor := billing.NewEventProcessor(pool, accountRepo, eventRepo, cfg.Ledger, logger)
	pruner := billing.NewPruner(eventRepo, cfg.Ledger, logger)

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.HealthProbes = append(srv.HealthProbes, &core.PingProbe{
		ProbeName: "database",
		Pinger:    pool,
	})

	webhookHandler := handlers.NewStripeWebhookHandler(
		verifier,
		processor,
		prices,
		sidecar,
		metrics,
		cfg.Billing.StripeWebhookSecret.Unmask(),
		logger,
	)
	srv.RootRouteRegistrars = append(srv.RootRouteRegistrars, webhookHandler.RegisterRoutes)

	validator := core.NewValidator(logger)
	billingHandler := handlers.NewBillingHandler(stripeClient, accountRepo, validator, cfg.Server.AppBaseURL, logger)
	accountHandler := handlers.NewAccountHandler(accountRepo, validator, logger)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		func(r chi.Router) { billingHandler.RegisterRoutes(r) },
		func(r chi.Router) { accountHandler.RegisterRoutes(r) },
	)

	srv.MountRoutes()

	return serve(ctx, srv, pruner, cfg, logger)
}

// buildAWSClients wires the CloudWatch metrics recorder and the SQS email
// publisher. Either can be absent: metrics fall back to a no-op recorder and
// a nil publisher disables email dispatch (the sidecar logs instead).
func buildAWSClients(ctx context.Context, cfg *config.Config, logger *slog.Logger) (notify.BillingMetrics, *queue.EmailPublisher) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		logger.Warn("AWS config unavailable, notifications and metrics disabled", "error", err)
		return notify.NopMetrics{}, nil
	}

	endpoint := cfg.AWS.EndpointURL

	cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	metrics := notify.NewCloudWatchBillingMetrics(cwClient, cfg.AWS.MetricNamespace, logger)

	if cfg.AWS.NotificationQueue == "" {
		logger.Info("notification queue not configured, email dispatch disabled")
		return metrics, nil
	}

	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	publisher := queue.NewEmailPublisher(sqsClient, cfg.AWS.NotificationQueue, logger)

	return metrics, publisher
}

// serve runs the HTTP server and the marker pruner until the context is
// canceled or either fails, then shuts down gracefully.
func serve(ctx context.Context, srv *core.Server, pruner *billing.Pruner, cfg *config.Config, logger *slog.Logger) error {
	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return pruner.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "error", err)
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}
