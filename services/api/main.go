package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connectly/internal/auth"
	"github.com/connectly/internal/config"
	"github.com/connectly/internal/handler"
	"github.com/connectly/internal/logger"
	"github.com/connectly/internal/middleware"
	"github.com/connectly/internal/presence"
	"github.com/connectly/internal/push"
	"github.com/connectly/internal/repository"
	"github.com/connectly/internal/service"
	"github.com/connectly/internal/startup"
	"github.com/connectly/internal/storage"
	"github.com/connectly/internal/storage/memory"
	"github.com/connectly/internal/upload"
	"github.com/connectly/internal/ws"
	"github.com/connectly/migrations"
)

func main() {
	if err := run(); err != nil {
		logger.Errorf("%v", err)
		logger.Flush(2 * time.Second)
		os.Exit(1)
	}
	logger.Flush(2 * time.Second)
}

func run() error {
	logger.SetPrefix("api")
	migrateOnly := flag.Bool("migrate", false, "apply database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	resetPresence := flag.Bool("reset-presence", false, "clear shared presence counters on start (single redis-backed instance)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.SetLevel(cfg.LogLevel)
	logger.Info("starting API service")

	if *dev {
		db, err := startEmbeddedPostgres(cfg)
		if err != nil {
			return fmt.Errorf("embedded postgres: %w", err)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := db.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("parse db config: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConnections)
	poolCfg.MinConns = 2

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := startup.ConnectDB(rootCtx, poolCfg, 60*time.Second)
	if err != nil {
		return err
	}
	defer pool.Close()

	migrateCtx, migrateCancel := context.WithTimeout(rootCtx, 30*time.Second)
	err = startup.Migrate(migrateCtx, pool, migrations.Files)
	migrateCancel()
	if err != nil {
		return err
	}
	if *migrateOnly {
		return nil
	}

	presenceStore, err := openPresenceStore(rootCtx, cfg, *resetPresence)
	if err != nil {
		return err
	}
	defer presenceStore.Close()

	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL)
	userRepo := repository.NewUserRepository(pool)
	chatRepo := repository.NewChatRepository(pool)
	msgRepo := repository.NewMessageRepository(pool)
	pushRepo := repository.NewPushSubscriptionRepository(pool)

	registry := presence.NewRegistry(presenceStore)
	hub := ws.NewHub(registry, ws.Options{
		MaxConns:             cfg.MaxWSConnections,
		SendBuffer:           cfg.WSSendBufferSize,
		PongWait:             cfg.WSPongTimeout,
		MaxMessageSize:       cfg.WSMaxMessageSize,
		VerifyJoinMembership: cfg.WSVerifyJoinMembership,
	})

	vapid := loadVAPIDKeys(cfg)
	notifier := push.NewNotifier(pushRepo, registry, vapid, cfg.VAPIDSubject)

	lifecycle := service.NewMessageLifecycle(msgRepo, hub, notifier)
	chats := service.NewChatService(chatRepo, msgRepo, userRepo, hub)
	users := service.NewUserService(userRepo, issuer)
	hub.SetCommandHandlers(service.NewTypingCoordinator(hub), lifecycle, chats)

	hubCtx, hubCancel := context.WithCancel(context.Background())
	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	router := handler.NewRouter(handler.Handlers{
		Auth:     handler.NewAuthHandler(users),
		Users:    handler.NewUserHandler(users),
		Chats:    handler.NewChatHandler(chats, lifecycle),
		Messages: handler.NewMessageHandler(lifecycle),
		Uploads:  handler.NewUploadHandler(upload.New(cfg.UploadDir, cfg.MaxUploadSize)),
		Push:     handler.NewPushHandler(pushRepo, vapid),
		WS:       ws.NewGate(issuer, hub, handler.OriginChecker(cfg.CORSAllowedOrigins)),
	}, handler.RouterOptions{
		Verifier:    issuer,
		CORSOrigins: cfg.CORSAllowedOrigins,
		RateLimit: middleware.RateLimitConfig{
			PerIP:   cfg.RateLimitPerIP,
			PerUser: cfg.RateLimitPerUser,
			Window:  time.Minute,
		},
		AccessLog: cfg.AccessLog,
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			hubCancel()
			hubWg.Wait()
			return fmt.Errorf("server: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	// Сокеты захвачены (hijacked) и Shutdown их не ждёт: закрывает hub.
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	if err := lifecycle.Wait(shutdownCtx); err != nil {
		logger.Warnf("push: не дождались отправки уведомлений: %v", err)
	}
	return nil
}

// openPresenceStore выбирает бэкенд счётчиков присутствия.
func openPresenceStore(ctx context.Context, cfg *config.Config, reset bool) (storage.PresenceStore, error) {
	if cfg.PresenceBackend != config.PresenceRedis {
		logger.Info("presence: in-memory store (single instance)")
		return memory.New(), nil
	}
	client, err := startup.ConnectRedis(ctx, cfg.RedisURL, cfg.PresenceKeyPrefix, 30*time.Second)
	if err != nil {
		return nil, err
	}
	if reset {
		resetCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Reset(resetCtx); err != nil {
			logger.Errorf("presence reset: %v", err)
		} else {
			logger.Info("presence: counters reset")
		}
	}
	logger.Infof("presence: redis store %s", cfg.RedisURL)
	return client, nil
}

// loadVAPIDKeys возвращает nil, если пуши выключены или ключи не удалось получить.
func loadVAPIDKeys(cfg *config.Config) *push.VAPIDKeys {
	if cfg.VAPIDKeysFile == "" {
		logger.Info("push: disabled (no vapid_keys_file)")
		return nil
	}
	keys, err := push.LoadOrCreateVAPIDKeys(cfg.VAPIDKeysFile)
	if err != nil {
		logger.Errorf("push: disabled: %v", err)
		return nil
	}
	return keys
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "connectly"
		password = "connectly_secret"
		database = "connectly"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "connectly-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf("postgres://%s:%s@localhost:%d/%s?sslmode=disable", user, password, port, database)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
