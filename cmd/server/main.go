package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/vedran77/courier/internal/auth"
	"github.com/vedran77/courier/internal/config"
	"github.com/vedran77/courier/internal/database"
	"github.com/vedran77/courier/internal/logger"
	"github.com/vedran77/courier/internal/presence"
	"github.com/vedran77/courier/internal/repository"
	"github.com/vedran77/courier/internal/repository/memory"
	postgresrepo "github.com/vedran77/courier/internal/repository/postgres"
	"github.com/vedran77/courier/internal/scheduler"
	"github.com/vedran77/courier/internal/service"
	"github.com/vedran77/courier/internal/translate"
	"github.com/vedran77/courier/internal/transport/http/handlers"
	"github.com/vedran77/courier/internal/transport/http/middleware"
	"github.com/vedran77/courier/internal/transport/ws"
	"github.com/vedran77/courier/internal/upload"
)

type repositories struct {
	users     repository.UserRepository
	convs     repository.ConversationRepository
	messages  repository.MessageRepository
	scheduled repository.ScheduledMessageRepository
}

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage
	repos, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	// Scheduler lock
	locker, closeLocker, err := openLocker(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLocker()

	// Core
	registry := presence.NewRegistry()
	hub := ws.NewHub(registry)

	relay := service.NewRelayService(repos.users, repos.convs, repos.messages, registry)
	relay.SetNotifier(ws.NewHubNotifier(hub))
	schedules := service.NewScheduleService(repos.scheduled, repos.users)

	sched, err := scheduler.New(repos.scheduled, relay, locker, scheduler.Config{
		Interval:        cfg.Scheduler.Interval.Std(),
		Cron:            cfg.Scheduler.Cron,
		DeliveryTimeout: cfg.Scheduler.DeliveryTimeout.Std(),
		BatchSize:       cfg.Scheduler.BatchSize,
	})
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}

	// Collaborators
	presigner, err := upload.NewPresigner(ctx, cfg.S3)
	if err != nil {
		return fmt.Errorf("creating presigner: %w", err)
	}
	translator := translate.NewTranslator(cfg.OpenAI)
	slog.Info("collaborators configured", "uploads", presigner.Enabled(), "translation", translator.Enabled())

	// Handlers
	resolver := auth.NewJWTResolver(cfg.JWTSecret, repos.users)
	scheduleHandler := handlers.NewScheduleHandler(schedules)
	uploadHandler := handlers.NewUploadHandler(presigner)
	translateHandler := handlers.NewTranslateHandler(translator)

	// Auth middleware
	authed := middleware.Auth(resolver)

	// Routes
	mux := http.NewServeMux()

	// Public
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status": "ok"}`))
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	// WebSocket
	var origins []string
	if cfg.CORSOrigin != "" && cfg.CORSOrigin != "*" {
		origins = []string{strings.TrimPrefix(strings.TrimPrefix(cfg.CORSOrigin, "https://"), "http://")}
	}
	mux.HandleFunc("GET /ws", ws.ServeWS(hub, resolver, ws.Services{
		Relay:     relay,
		Schedules: schedules,
	}, ws.Options{
		EventsPerSecond: cfg.WS.EventsPerSecond,
		EventBurst:      cfg.WS.EventBurst,
		OriginPatterns:  origins,
	}))

	// Protected - Scheduled messages
	mux.Handle("POST /api/v1/scheduled-messages", authed(http.HandlerFunc(scheduleHandler.Create)))
	mux.Handle("GET /api/v1/scheduled-messages", authed(http.HandlerFunc(scheduleHandler.List)))

	// Protected - Collaborators
	mux.Handle("POST /api/v1/uploads", authed(http.HandlerFunc(uploadHandler.Create)))
	mux.Handle("POST /api/v1/translate", authed(http.HandlerFunc(translateHandler.Translate)))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           middleware.Logging(middleware.CORS(cfg.CORSOrigin)(mux)),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	schedCtx, stopScheduler := context.WithCancel(ctx)
	schedDone := make(chan error, 1)
	go func() { schedDone <- sched.Run(schedCtx) }()

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", srv.Addr, "store", cfg.StoreDriver, "lock", cfg.Scheduler.LockDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-serveErr:
		stopScheduler()
		<-schedDone
		hub.Close()
		return fmt.Errorf("http server: %w", err)
	}

	stopScheduler()
	if err := <-schedDone; err != nil {
		slog.Error("scheduler stopped with error", "error", err)
	}

	hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	slog.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (*repositories, func(), error) {
	if cfg.StoreDriver == "memory" {
		store := memory.NewStore()
		slog.Warn("using in-memory store, data is lost on restart")
		return &repositories{
			users:     store.Users(),
			convs:     store.Conversations(),
			messages:  store.Messages(),
			scheduled: store.ScheduledMessages(),
		}, func() {}, nil
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL())
	if err != nil {
		return nil, nil, err
	}
	slog.Info("connected to database")

	if err := database.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}

	return postgresRepositories(pool), pool.Close, nil
}

func postgresRepositories(pool *pgxpool.Pool) *repositories {
	return &repositories{
		users:     postgresrepo.NewUserRepo(pool),
		convs:     postgresrepo.NewConversationRepo(pool),
		messages:  postgresrepo.NewMessageRepo(pool),
		scheduled: postgresrepo.NewScheduledMessageRepo(pool),
	}
}

func openLocker(ctx context.Context, cfg *config.Config) (scheduler.Locker, func(), error) {
	if cfg.Scheduler.LockDriver != "redis" {
		return scheduler.NewLocalLocker(), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("connecting to redis: %w", err)
	}
	slog.Info("connected to redis", "addr", opts.Addr)

	closeFn := func() {
		if err := client.Close(); err != nil {
			slog.Warn("closing redis client", "error", err)
		}
	}
	locker, err := scheduler.NewRedisLocker(client, cfg.Scheduler.LockTTL.Std())
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return locker, closeFn, nil
}
