package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"

	"github.com/Checker-Finance/compute-market/internal/api"
	"github.com/Checker-Finance/compute-market/internal/audit"
	"github.com/Checker-Finance/compute-market/internal/commands"
	"github.com/Checker-Finance/compute-market/internal/httpclient"
	"github.com/Checker-Finance/compute-market/internal/inventory"
	"github.com/Checker-Finance/compute-market/internal/jobs"
	"github.com/Checker-Finance/compute-market/internal/negotiation"
	"github.com/Checker-Finance/compute-market/internal/oracle"
	"github.com/Checker-Finance/compute-market/internal/payments"
	"github.com/Checker-Finance/compute-market/internal/pricing"
	"github.com/Checker-Finance/compute-market/internal/publisher"
	"github.com/Checker-Finance/compute-market/internal/rate"
	internalsecrets "github.com/Checker-Finance/compute-market/internal/secrets"
	"github.com/Checker-Finance/compute-market/internal/store"
	"github.com/Checker-Finance/compute-market/pkg/config"
	"github.com/Checker-Finance/compute-market/pkg/logger"
	"github.com/Checker-Finance/compute-market/pkg/secrets"
	"github.com/Checker-Finance/compute-market/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg := config.Load()

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	logg := logger.S()
	logg.Info("starting [market-negotiator]...")
	logg.Info("connection to DSN: ", utils.MaskDSN(cfg.DatabaseURL))

	// --- Secrets (oracle and payment provider API keys) ---
	credsCache := secrets.NewCache[secrets.APICredentials](cfg.CacheTTL)
	stopCleaner := make(chan struct{})
	go credsCache.StartCleaner(cfg.CleanupFreq, stopCleaner)

	var (
		oracleCreds oracle.CredentialResolver
		payCreds    payments.CredentialResolver
	)
	awsProvider, err := secrets.NewAWSProvider(ctx, cfg.AWSRegion)
	if err != nil {
		logg.Warnw("AWS Secrets Manager unavailable; outbound integrations run unauthenticated", "error", err)
	} else {
		creds := internalsecrets.NewCredentialsResolver(logger.Named("secrets"), cfg.SecretsEnv, awsProvider, credsCache)
		oracleCreds, payCreds = creds, creds

		if integrations, err := creds.Discover(ctx); err != nil {
			logg.Warnw("failed to discover integrations from secrets", "error", err)
		} else {
			logg.Infow("discovered integrations", "count", len(integrations), "integrations", integrations)
		}
	}

	// --- Connect to NATS ---
	nc, err := nats.Connect(cfg.NATSURL, nats.Name(cfg.ServiceName))
	if err != nil {
		logg.Fatalw("failed to connect to NATS", "error", err)
	}
	if err := publisher.EnsureStream(nc, cfg.EventStream); err != nil {
		logg.Warnw("failed to ensure JetStream stream", "stream", cfg.EventStream, "error", err)
	}

	// --- Publisher + audit sinks ---
	pub, err := publisher.New(nc, cfg.EventSubject, cfg.ServiceName)
	if err != nil {
		logg.Fatalw("failed to init publisher", "error", err)
	}
	sinks := audit.Multi{audit.NewNATSSink(pub)}

	var amqpSink *audit.AMQPSink
	if cfg.RabbitMQURL != "" {
		amqpSink, err = audit.NewAMQPSink(cfg.RabbitMQURL, cfg.AuditExchange, cfg.AuditRoutingBase, logger.Named("audit"))
		if err != nil {
			logg.Warnw("RabbitMQ audit sink disabled", "error", err)
		} else {
			sinks = append(sinks, amqpSink)
		}
	}

	// --- Store (Redis + Postgres hybrid) ---
	st, err := store.NewHybrid(cfg.RedisAddr, cfg.RedisDB, cfg.RedisPass, cfg.DatabaseURL, store.PGPoolConfig{
		MaxConns:          int32(cfg.PGMaxConns),
		MinConns:          int32(cfg.PGMinConns),
		MaxConnLifetime:   cfg.PGMaxConnLifetime,
		MaxConnIdleTime:   cfg.PGMaxConnIdleTime,
		HealthCheckPeriod: cfg.PGHealthCheckPeriod,
	}, logger.Named("store"))
	if err != nil {
		logg.Fatalw("failed to init store", "error", err)
	}
	st.QuoteTTL = cfg.QuoteTTL

	// --- Rate limiter (shared by the oracle and payment gateways) ---
	rateMgr := rate.NewManager(rate.Config{
		RequestsPerSecond: cfg.OracleRatePerS,
		Burst:             cfg.OracleBurst,
	})
	go rateMgr.StartPruner(ctx, 10*time.Minute)

	// --- Inventory (scarcity source for seller pricing) ---
	inv := inventory.New(st, inventory.DefaultCatalog(), cfg.Pricing.HourlyRates, cfg.AWSRegion)

	seed := cfg.Pricing.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	sellerPricing := pricing.NewSellerPricing(
		pricing.ParamsFromConfig(cfg.Pricing),
		inv,
		rand.New(rand.NewSource(seed)),
		logger.Named("pricing"),
	)

	// --- Pricing oracle (advisory; nil runs the deterministic policies only) ---
	var priceOracle oracle.Oracle
	if cfg.OracleURL != "" {
		oracleExec := httpclient.New(logger.Named("oracle"), nil, &http.Client{Timeout: cfg.OracleTimeout}, 0, "oracle", nil)
		priceOracle = oracle.NewGuard(
			oracle.NewHTTPOracle(cfg.OracleURL, oracleExec, oracleCreds, cfg.OracleSecretKey),
			rateMgr,
			oracle.GuardConfig{Attempts: cfg.OracleAttempts, Timeout: cfg.OracleTimeout},
			logger.Named("oracle"),
		)
	} else {
		logg.Warn("ORACLE_URL not configured; negotiating with deterministic policies only")
	}

	// --- Negotiation engine ---
	engine := negotiation.NewEngine(st, sellerPricing, priceOracle, cfg.Negotiation, sinks, logger.Named("negotiation"))

	// --- Payments ---
	var gateways []payments.Gateway
	payExec := httpclient.New(logger.Named("payments"), rateMgr, nil, cfg.PaymentRetryMax, "payments", nil)
	for _, name := range cfg.PaymentProviders {
		if cfg.PaymentGatewayURL == "" {
			gateways = append(gateways, payments.SandboxGateway{Provider: name})
			continue
		}
		gateways = append(gateways, payments.NewHTTPGateway(name, cfg.PaymentGatewayURL, payExec, payCreds))
	}
	if cfg.PaymentGatewayURL == "" {
		logg.Warnw("PAYMENT_GATEWAY_URL not configured; using sandbox gateways", "providers", cfg.PaymentProviders)
	}
	paySvc := payments.NewService(st, gateways, sinks, logger.Named("payments"))

	// --- Reservation sweeper ---
	sweeper := jobs.NewReservationSweeper(logger.Named("jobs"), st, sinks, cfg.ReservationSweepInterval)
	go sweeper.Start(ctx)

	// --- NATS command server ---
	var cmdServer *commands.Server
	if cfg.CommandsEnabled {
		cmdServer = commands.NewServer(ctx, logger.Named("commands"), nc, engine, cfg.HTTPWriteTimeout)
		if err := cmdServer.Start(); err != nil {
			logg.Fatalw("failed to start command server", "error", err)
		}
	}

	// --- Fiber HTTP Server ---
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
		BodyLimit:    cfg.HTTPBodyLimit,
	})
	handler := api.NewMarketHandler(logger.Named("api"), engine, st, paySvc, inv)
	api.RegisterRoutes(app, nc, st, handler)

	go func() {
		logg.Infof("HTTP API listening on :%d", cfg.Port)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logg.Fatalw("fiber.listen_failed", "error", err)
		}
	}()

	// --- Main process stays alive until interrupted ---
	logg.Infow("[market-negotiator] running",
		"nats", cfg.NATSURL,
		"env", cfg.Env,
		"oracle", cfg.OracleURL != "",
		"commands", cfg.CommandsEnabled,
		"payment_providers", paySvc.Providers())

	<-ctx.Done()
	logg.Info("shutting down [market-negotiator]...")

	close(stopCleaner)
	sweeper.Stop()
	if cmdServer != nil {
		cmdServer.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logg.Warnw("fiber.shutdown_failed", "error", err)
	}
	if err := nc.Drain(); err != nil {
		logg.Warnw("nats.drain_failed", "error", err)
	}
	if amqpSink != nil {
		if err := amqpSink.Close(); err != nil {
			logg.Warnw("amqp.close_failed", "error", err)
		}
	}
	if err := st.Close(); err != nil {
		logg.Warnw("store.close_failed", "error", err)
	}
	logger.Sync()
}
