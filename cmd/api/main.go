package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"connectrpc.com/connect"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/floroz/marketalloc/internal/adapters/api"
	"github.com/floroz/marketalloc/internal/adapters/cache"
	"github.com/floroz/marketalloc/internal/adapters/database"
	"github.com/floroz/marketalloc/internal/config"
	"github.com/floroz/marketalloc/internal/domain/auctions"
	"github.com/floroz/marketalloc/internal/domain/borrows"
	"github.com/floroz/marketalloc/internal/domain/waitlist"
	"github.com/floroz/marketalloc/internal/metrics"
	"github.com/floroz/marketalloc/internal/sweeper"
	"github.com/floroz/marketalloc/pkg/auth"
	"github.com/floroz/marketalloc/pkg/clock"
	pkgdb "github.com/floroz/marketalloc/pkg/database"
	pkgevents "github.com/floroz/marketalloc/pkg/events"
)

func main() {
	// Load environment variables (local overrides .env)
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("API stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("API stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// 1. Postgres
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("unable to create connection pool: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("unable to ping database: %w", err)
	}
	logger.Info("Postgres Connected")

	// 2. Token verification
	if cfg.Auth.PublicKeyPath == "" {
		return errors.New("auth.public_key_path is required")
	}
	pubPEM, err := os.ReadFile(cfg.Auth.PublicKeyPath)
	if err != nil {
		return fmt.Errorf("failed to read public key: %w", err)
	}
	verifier, err := auth.NewVerifier(pubPEM, cfg.Auth.Issuer)
	if err != nil {
		return err
	}

	// 3. Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.New(reg)

	// 4. Repositories
	txManager := pkgdb.NewPostgresTransactionManager(pool, cfg.Database.LockTimeout)
	auctionRepo := database.NewPostgresAuctionRepository(pool)
	bidRepo := database.NewPostgresBidRepository(pool)
	borrowableRepo := database.NewPostgresBorrowableRepository(pool)
	waitlistRepo := database.NewPostgresWaitlistRepository(pool)
	outboxRepo := database.NewPostgresOutboxRepository(pool)

	// 5. Auctions, with the snapshot cache when Redis is reachable
	realClock := clock.Real{}
	auctionOpts := []auctions.Option{
		auctions.WithLogger(logger),
		auctions.WithMetrics(recorder),
		auctions.WithClock(realClock),
		auctions.WithSnipeWindow(cfg.Auction.SnipeWindow),
		auctions.WithSellerBidPolicy(cfg.Auction.RejectSellerBids),
	}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis connection failed, snapshot cache disabled", "error", err)
		} else {
			logger.Info("Redis Connected")
			auctionOpts = append(auctionOpts, auctions.WithCache(cache.NewRedisSnapshotCache(rdb, cfg.Redis.SnapshotTTL)))
		}
	}
	auctionService := auctions.NewService(txManager, auctionRepo, bidRepo, outboxRepo, auctionOpts...)

	scheduler := auctions.NewScheduler(auctionService, realClock, cfg.Auction.TickInterval, nil, logger)
	auctionService.UseTracker(scheduler)
	defer scheduler.Close()
	tracked, err := auctionService.TrackActive(ctx, cfg.Auction.TrackLimit)
	if err != nil {
		return err
	}
	logger.Info("Auction countdowns started", "count", tracked)

	// 6. Borrows
	borrowOpts := []borrows.Option{
		borrows.WithLogger(logger),
		borrows.WithMetrics(recorder),
		borrows.WithClock(realClock),
		borrows.WithBorrowDays(cfg.Borrow.Days),
	}
	queue := waitlist.NewQueue(waitlistRepo, realClock)
	allocator := borrows.NewAllocator(txManager, borrowableRepo, queue, outboxRepo, borrowOpts...)
	borrowService := borrows.NewService(txManager, borrowableRepo, queue, allocator, outboxRepo, borrowOpts...)

	sweep := sweeper.New(auctionService, borrowService, recorder, cfg.Sweeper.Interval, cfg.Sweeper.BatchSize, logger)

	// 7. ConnectRPC handler
	handler := api.NewHandler(auctionService, borrowService, queue, realClock, cfg.Borrow.Days, logger)
	path, routes := handler.Routes(connect.WithInterceptors(auth.NewAuthInterceptor(verifier, api.PublicProcedures...)))

	mux := http.NewServeMux()
	mux.Handle(path, routes)
	mux.Handle("/metrics", metrics.Handler(reg))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Use h2c for HTTP/2 without TLS (common for internal services / local dev)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	// 8. Outbox relay runs in-process when RabbitMQ is configured,
	// otherwise cmd/worker is expected to drain the outbox.
	var relay *pkgevents.OutboxRelay
	if cfg.RabbitMQ.URL != "" {
		amqpConn, err := amqp.Dial(cfg.RabbitMQ.URL)
		if err != nil {
			return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
		}
		defer amqpConn.Close()
		logger.Info("RabbitMQ Connected")

		publisher, err := pkgevents.NewRabbitMQPublisher(amqpConn, cfg.RabbitMQ.Exchange)
		if err != nil {
			return err
		}
		defer publisher.Close()

		relay = pkgevents.NewOutboxRelay(
			outboxRepo,
			publisher,
			txManager,
			cfg.Outbox.BatchSize,
			cfg.Outbox.Interval,
			cfg.RabbitMQ.Exchange,
			logger,
		)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting API", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return scheduler.Run(gctx) })
	g.Go(func() error { return sweep.Run(gctx) })
	if relay != nil {
		g.Go(func() error {
			logger.Info("Starting Outbox Relay...")
			return relay.Run(gctx)
		})
	}

	return g.Wait()
}
