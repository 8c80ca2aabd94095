package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/marketcore/internal/cron"
	"github.com/angelmondragon/marketcore/internal/escrow"
	"github.com/angelmondragon/marketcore/internal/inventory"
	"github.com/angelmondragon/marketcore/internal/notify"
	"github.com/angelmondragon/marketcore/internal/orders"
	"github.com/angelmondragon/marketcore/internal/payments"
	"github.com/angelmondragon/marketcore/internal/returns"
	"github.com/angelmondragon/marketcore/internal/settlement"
	"github.com/angelmondragon/marketcore/pkg/config"
	"github.com/angelmondragon/marketcore/pkg/db"
	"github.com/angelmondragon/marketcore/pkg/logger"
	"github.com/angelmondragon/marketcore/pkg/metrics"
	"github.com/angelmondragon/marketcore/pkg/migrate"
	"github.com/angelmondragon/marketcore/pkg/outbox"
	"github.com/angelmondragon/marketcore/pkg/redis"
	pkgstripe "github.com/angelmondragon/marketcore/pkg/stripe"
)

const shutdownTimeout = 5 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stripeClient, err := pkgstripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe", err)
		os.Exit(1)
	}
	gateway, err := payments.NewStripeGateway(stripeClient)
	if err != nil {
		logg.Error(context.Background(), "failed to build payment gateway", err)
		os.Exit(1)
	}

	registerer := prometheus.DefaultRegisterer
	domainMetrics := metrics.NewDomainMetrics(registerer)
	cronMetrics := metrics.NewCronJobMetrics(registerer)
	policy := payments.PolicyFromConfig(cfg.Gateway)

	dispatcher, err := notify.NewDispatcher(dbClient, outbox.NewService(outbox.NewRepository(dbClient.DB()), logg), logg)
	if err != nil {
		logg.Error(context.Background(), "failed to build notification dispatcher", err)
		os.Exit(1)
	}

	ledger := inventory.NewLedger(dbClient.DB(), domainMetrics)
	ordersRepo := orders.NewRepository(dbClient.DB())
	escrowSvc, err := escrow.NewService(escrow.NewRepository(dbClient.DB()), cfg.Escrow.HoldingPeriod)
	if err != nil {
		logg.Error(context.Background(), "failed to create escrow service", err)
		os.Exit(1)
	}
	ordersSvc, err := orders.NewService(ordersRepo, dbClient, ledger, escrowSvc, dispatcher, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}
	paymentsSvc, err := payments.NewService(payments.ServiceParams{
		Repo:    ordersRepo,
		Orders:  ordersSvc,
		Gateway: gateway,
		Policy:  policy,
		Logger:  logg,
		Metrics: domainMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}
	refunds, err := settlement.NewRefundProcessor(settlement.RefundProcessorParams{
		Tx:         dbClient,
		Requests:   returns.NewRepository(dbClient.DB()),
		OrdersRepo: ordersRepo,
		Orders:     ordersSvc,
		Escrow:     escrowSvc,
		Ledger:     ledger,
		Gateway:    gateway,
		Policy:     policy,
		Events:     dispatcher,
		Logger:     logg,
		Metrics:    domainMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create refund processor", err)
		os.Exit(1)
	}

	jobs, err := buildJobs(cfg, logg, escrowSvc, ordersRepo, paymentsSvc, refunds)
	if err != nil {
		logg.Error(context.Background(), "failed to build cron jobs", err)
		os.Exit(1)
	}
	registry, err := cron.NewRegistry(jobs...)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, lockKey(redisClient, cfg.App.Env), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  cronMetrics,
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": "cron-worker",
		"stripeEnv":   stripeClient.Environment(),
	})

	opsServer := &http.Server{
		Addr: ":" + cfg.App.OpsPort,
		Handler: newOpsRouter(logg, prometheus.DefaultGatherer, map[string]pinger{
			"db":    dbClient,
			"redis": redisClient,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "ops server stopped unexpectedly", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := opsServer.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "error stopping ops server", err)
		}
	}()

	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildJobs(
	cfg *config.Config,
	logg *logger.Logger,
	escrowSvc escrow.Service,
	ordersRepo orders.Repository,
	paymentsSvc payments.Service,
	refunds settlement.RefundProcessor,
) ([]cron.Job, error) {
	release, err := cron.NewEscrowReleaseJob(logg, escrowSvc)
	if err != nil {
		return nil, err
	}
	expiry, err := cron.NewPaymentExpiryJob(cron.PaymentExpiryJobParams{
		Logger:   logg,
		Orders:   ordersRepo,
		Payments: paymentsSvc,
		TTL:      cfg.Cron.PaymentExpiryTTL,
	})
	if err != nil {
		return nil, err
	}
	reconcile, err := cron.NewRefundReconcileJob(logg, refunds, cfg.Cron.RefundReconcileAfter)
	if err != nil {
		return nil, err
	}
	return []cron.Job{release, expiry, reconcile}, nil
}

func lockKey(client *redis.Client, env string) string {
	if env == "" {
		env = "local"
	}
	return client.LockKey("cron-worker", env)
}
