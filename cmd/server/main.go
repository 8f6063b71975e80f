package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"gitea.jw6.us/james/washcal/internal/api"
	"gitea.jw6.us/james/washcal/internal/auth"
	"gitea.jw6.us/james/washcal/internal/config"
	httpserver "gitea.jw6.us/james/washcal/internal/http"
	"gitea.jw6.us/james/washcal/internal/http/ratelimit"
	"gitea.jw6.us/james/washcal/internal/ics"
	"gitea.jw6.us/james/washcal/internal/lock"
	"gitea.jw6.us/james/washcal/internal/logging"
	"gitea.jw6.us/james/washcal/internal/notify"
	"gitea.jw6.us/james/washcal/internal/schedule"
	"gitea.jw6.us/james/washcal/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting washcal", zap.String("store", cfg.Store), zap.String("lock", cfg.Lock.Backend))

	if len(cfg.TrustedProxies) == 0 {
		logger.Warn("no APP_TRUSTED_PROXIES configured; forwarding headers are trusted from every peer")
	}

	norm, err := schedule.NewNormalizer(cfg.Schedule.Timezone)
	if err != nil {
		return err
	}
	policy, err := buildPolicy(cfg)
	if err != nil {
		return err
	}

	var stor *store.Store
	switch cfg.Store {
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.DB.DSN)
		if err != nil {
			return fmt.Errorf("create db pool: %w", err)
		}
		defer pool.Close()
		if err := store.ApplyMigrations(ctx, pool, logger); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		stor = store.New(pool)
	default:
		logger.Warn("using in-memory store; events are lost on restart")
		stor = store.NewMemory(time.Now)
	}

	opts := []schedule.Option{
		schedule.WithLogger(logger.Named("schedule")),
		schedule.WithCalendar(cfg.Schedule.Calendar),
	}
	if cfg.Lock.Backend == config.LockRedis {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		opts = append(opts, schedule.WithLocker(lock.NewRedisLocker(rdb, lock.Config{
			Prefix: "washcal:",
			TTL:    cfg.Lock.TTL,
		}, logger.Named("lock"))))
	}

	mgr := schedule.NewManager(stor.Events, auth.Context{}, norm, policy, opts...)

	if len(cfg.Kafka.Brokers) > 0 {
		pub, err := notify.NewKafkaPublisher(notify.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		}, logger.Named("notify"))
		if err != nil {
			return err
		}
		cancel := mgr.Subscribe(pub)
		defer func() {
			cancel()
			flushCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			if err := pub.Close(flushCtx); err != nil {
				logger.Warn("flush kafka publisher", zap.Error(err))
			}
		}()
	}

	feed := ics.Options{Name: cfg.Feed.Name, IncludeAvailability: cfg.Feed.IncludeAvailability}
	handler := api.NewHandler(mgr, ics.NewExporter(cfg.BaseURL, logger.Named("ics")), feed, logger.Named("api"))

	limiter := ratelimit.New(ratelimit.Config{
		Rate:           rate.Limit(10),
		Burst:          20,
		TrustedProxies: cfg.TrustedProxies,
	})
	go limiter.Run(ctx)

	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: httpserver.NewRouter(httpserver.Deps{
			API:     handler,
			Health:  stor,
			Logger:  logger,
			Limiter: limiter,
			Metrics: cfg.PrometheusEnabled,
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
	return nil
}

func buildPolicy(cfg *config.Config) (schedule.Policy, error) {
	open, err := schedule.ParseClock(cfg.Schedule.OpenAt)
	if err != nil {
		return schedule.Policy{}, fmt.Errorf("APP_BUSINESS_OPEN: %w", err)
	}
	closeAt, err := schedule.ParseClock(cfg.Schedule.CloseAt)
	if err != nil {
		return schedule.Policy{}, fmt.Errorf("APP_BUSINESS_CLOSE: %w", err)
	}
	p := schedule.Policy{
		OpenAt:      open,
		CloseAt:     closeAt,
		Horizon:     cfg.Schedule.Horizon,
		SlotQuantum: cfg.Schedule.SlotQuantum,
	}
	if err := p.Check(); err != nil {
		return schedule.Policy{}, err
	}
	return p, nil
}
