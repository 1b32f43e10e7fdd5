/**
 * @description
 * This is the main entry point for the ledger-service. It is responsible for
 * initializing all components of the service: configuration, database
 * connection, Stripe client, message broker, repository, the core application
 * services, the cron scheduler, and the HTTP server. It wires everything
 * together and starts the service.
 *
 * @dependencies
 * - log, log/slog, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/joho/godotenv: For loading .env files during local development.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages.
 * - pkg/rabbitmq, pkg/stripeclient: External service clients.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/circlepay/ledger-service/internal/api"
	"github.com/circlepay/ledger-service/internal/app"
	"github.com/circlepay/ledger-service/internal/config"
	"github.com/circlepay/ledger-service/internal/store"
	"github.com/circlepay/ledger-service/pkg/rabbitmq"
	"github.com/circlepay/ledger-service/pkg/stripeclient"
)

func main() {
	// Load .env file for local development. Errors are ignored; in production
	// everything comes from real environment variables.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api key must be configured\" env=INTERNAL_API_KEY")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	log.Printf("level=info component=bootstrap msg=\"starting ledger-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer used as the notification sink. A broker
	// outage at startup degrades to a no-op publisher instead of failing boot.
	var producer rabbitmq.Publisher
	if eventProducer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rabbitmq.EventProducerFallback{}
	} else {
		defer eventProducer.Close()
		producer = eventProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the Stripe client for off-session guarantee charges.
	stripeClient := stripeclient.NewClient(cfg.StripeAPIBaseURL, cfg.StripeSecretKey)

	// Optional Redis-backed withdrawal rate limiter.
	var rateLimiter app.RateLimiter
	if cfg.WithdrawalLimitPerMinute > 0 && strings.TrimSpace(cfg.RedisURL) != "" {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; withdrawal rate limiting disabled\" err=%v", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; withdrawal rate limiting disabled\" err=%v", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				rateLimiter = app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
			cancelPing()
		}
	}

	// Initialize the data access layer and the application components.
	repository := store.NewPostgresRepository(dbpool, cfg.LedgerTxMaxAttempts)

	normalizer := app.NewNormalizer(cfg.StripeWebhookSecret, cfg.MomoWebhookSecret)
	applier := app.NewApplier(repository, logger)
	ledgerService := app.NewService(
		repository,
		stripeClient,
		producer,
		rateLimiter,
		logger,
		cfg.DefaultCurrency,
		cfg.WithdrawalLimitPerMinute,
	)

	// Set up the scheduled passes.
	sweep := app.NewGuaranteeSweep(repository, producer, logger, cfg.DefaultGracePeriodDays)
	aggregator := app.NewHonorScoreAggregator(repository, logger)
	scheduler := app.NewScheduler(sweep, aggregator, logger, cfg.GuaranteeSweepSchedule, cfg.HonorScoreSchedule)
	scheduler.Start()
	log.Println("level=info component=bootstrap msg=\"scheduler started\"")

	// Set up the HTTP router.
	handlers := api.NewLedgerHandlers(normalizer, applier, ledgerService)
	router := api.LedgerRoutes(handlers, cfg.JWKSURL, cfg.InternalAPIKey)

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	stopCtx := scheduler.Stop()
	<-stopCtx.Done()

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
