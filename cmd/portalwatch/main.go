// Package main wires together the portal watcher service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"

	"github.com/unishark/portalwatch/internal/api"
	"github.com/unishark/portalwatch/internal/breaker"
	"github.com/unishark/portalwatch/internal/captcha"
	"github.com/unishark/portalwatch/internal/clock/system"
	"github.com/unishark/portalwatch/internal/config"
	"github.com/unishark/portalwatch/internal/dedup"
	"github.com/unishark/portalwatch/internal/executor"
	"github.com/unishark/portalwatch/internal/hash/sha256"
	"github.com/unishark/portalwatch/internal/id/uuid"
	"github.com/unishark/portalwatch/internal/logging"
	"github.com/unishark/portalwatch/internal/metrics"
	"github.com/unishark/portalwatch/internal/notify"
	queuemem "github.com/unishark/portalwatch/internal/queue/memory"
	queueredis "github.com/unishark/portalwatch/internal/queue/redis"
	"github.com/unishark/portalwatch/internal/reminder"
	"github.com/unishark/portalwatch/internal/sched"
	"github.com/unishark/portalwatch/internal/session"
	storagemem "github.com/unishark/portalwatch/internal/storage/memory"
	"github.com/unishark/portalwatch/internal/storage/postgres"
	storageredis "github.com/unishark/portalwatch/internal/storage/redis"
	"github.com/unishark/portalwatch/internal/watch"
	"github.com/unishark/portalwatch/internal/worker"
)

// stores groups the persistence interfaces the service depends on, so the
// postgres and in-memory backends can be swapped as a unit.
type stores struct {
	tenants   watch.TenantStore
	jobs      watch.JobStore
	snapshots watch.SnapshotStore
	failures  watch.FailureLog
	dedup     watch.DedupStore
	reminders watch.ReminderStore
	close     func()
}

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, stop); err != nil {
		logger.Fatal("service failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger, stop func()) error {
	clock := system.New()
	hasher := sha256.New()
	idGen := uuid.New()

	st, err := buildStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	queue, dedupStore, closeRedis, err := buildQueue(ctx, cfg, st, logger)
	if err != nil {
		return err
	}
	defer closeRedis()

	solver := captcha.NewChain(logger.Named("captcha"),
		captcha.NewTaskAPISolver(
			cfg.Captcha.TaskAPIEndpoint,
			cfg.Captcha.TaskAPIKey,
			time.Duration(cfg.Captcha.BudgetSec)*time.Second,
			logger.Named("captcha.task_api")),
		captcha.NewRecognitionSolver(
			cfg.Captcha.RecognitionEndpoint,
			cfg.Captcha.RecognitionKey,
			time.Duration(cfg.Captcha.JoinTimeoutSec)*time.Second,
			cfg.Captcha.Attempts,
			logger.Named("captcha.recognition")),
	)

	engine, err := session.NewEngine(session.Config{
		BaseURL:       cfg.Portal.BaseURL,
		UserAgent:     cfg.Portal.UserAgent,
		MaxParallel:   cfg.Scrape.Workers + cfg.Scrape.ManualWorkers,
		LoginAttempts: cfg.Scrape.LoginAttempts,
		NavRetries:    cfg.Scrape.NavRetries,
		PageTimeout:   cfg.PageTimeout(),
		NavQPS:        cfg.Scrape.NavQPS,
	}, solver, logger.Named("session"))
	if err != nil {
		return fmt.Errorf("session engine init: %w", err)
	}
	defer engine.Close()

	dispatcher := buildDispatcher(ctx, cfg, clock, logger)
	deduper := dedup.New(dedupStore, hasher, clock, cfg.DedupWindow(), logger.Named("dedup"))
	brk := breaker.New(st.failures, st.tenants, clock,
		cfg.Breaker.Threshold, cfg.Breaker.MinMessageLen, logger.Named("breaker"))

	exec := executor.New(st.tenants, st.jobs, st.snapshots, engine, brk, deduper,
		dispatcher, logger.Named("executor"))
	pool := worker.New(queue, idGen, st.jobs, clock, exec, worker.Config{
		Workers:    cfg.Scrape.Workers + cfg.Scrape.ManualWorkers,
		MaxRetries: cfg.Scrape.MaxRetries,
		RetryDelay: cfg.RetryDelay(),
	}, logger.Named("worker"))

	sweeper := reminder.NewSweeper(st.tenants, st.snapshots, st.reminders,
		dispatcher, clock, logger.Named("reminder"))
	scheduler, err := sched.New(sched.Config{
		SweepSpec:    cfg.Scrape.SweepSpec,
		ReminderSpec: cfg.Scrape.ReminderSpec,
	}, st.tenants, st.jobs, queue, idGen, clock, sweeper, logger.Named("sched"))
	if err != nil {
		return fmt.Errorf("scheduler init: %w", err)
	}

	apiServer := api.NewServer(st.tenants, st.jobs, st.snapshots, queue, brk,
		idGen, clock, api.Config{APIKey: cfg.Server.APIKey}, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("worker pool started",
			zap.Int("workers", cfg.Scrape.Workers+cfg.Scrape.ManualWorkers))
		pool.Run(ctx)
	}()
	scheduler.Start()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	scheduler.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}

// buildStores selects the postgres backend when a DSN is configured and
// the in-memory backend otherwise.
func buildStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (stores, error) {
	if cfg.DB.DSN != "" {
		store, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.DB.DSN,
			MaxConns:        int32(cfg.DB.MaxConns),
			MinConns:        int32(cfg.DB.MinConns),
			MaxConnLifetime: time.Duration(cfg.DB.LifetimeMins) * time.Minute,
		})
		if err != nil {
			return stores{}, fmt.Errorf("postgres init: %w", err)
		}
		logger.Info("using postgres stores")
		return stores{
			tenants:   store,
			jobs:      store,
			snapshots: store,
			failures:  store,
			dedup:     store,
			reminders: store,
			close:     store.Close,
		}, nil
	}

	logger.Info("using in-memory stores")
	jobs := storagemem.NewJobStore()
	return stores{
		tenants:   storagemem.NewTenantStore(),
		jobs:      jobs,
		snapshots: jobs,
		failures:  storagemem.NewFailureLog(),
		dedup:     storagemem.NewDedupStore(),
		reminders: storagemem.NewReminderStore(),
		close:     func() {},
	}, nil
}

// buildQueue selects the Redis queue and dedup window store when an address
// is configured; the dedup store otherwise stays on the primary backend.
func buildQueue(ctx context.Context, cfg config.Config, st stores, logger *zap.Logger) (watch.Queue, watch.DedupStore, func(), error) {
	if cfg.Redis.Addr == "" {
		logger.Info("using in-memory queue")
		return queuemem.NewQueue(cfg.Scrape.QueueDepth), st.dedup, func() {}, nil
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	logger.Info("using redis queue", zap.String("addr", cfg.Redis.Addr))
	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Warn("redis close failed", zap.Error(err))
		}
	}
	return queueredis.NewQueue(client), storageredis.NewDedupStore(client), closeFn, nil
}

// buildDispatcher assembles the delivery channels the deployment has
// credentials for. Missing credentials disable a channel globally.
func buildDispatcher(ctx context.Context, cfg config.Config, clock watch.Clock, logger *zap.Logger) *notify.Dispatcher {
	var email, telegram watch.Channel

	if cfg.Channels.SESFrom != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Channels.SESRegion))
		if err != nil {
			logger.Warn("ses disabled, aws config load failed", zap.Error(err))
		} else {
			email = notify.NewSESChannel(ses.NewFromConfig(awsCfg), cfg.Channels.SESFrom)
		}
	}

	if cfg.Channels.TelegramToken != "" {
		bot, err := tele.NewBot(tele.Settings{Token: cfg.Channels.TelegramToken})
		if err != nil {
			logger.Warn("telegram disabled, bot init failed", zap.Error(err))
		} else {
			telegram = notify.NewTelegramChannel(bot)
		}
	}

	return notify.NewDispatcher(notify.NewRenderer(clock), email, telegram,
		notify.NewDiscordChannel(), logger.Named("notify"))
}
