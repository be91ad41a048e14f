// cmd/server/main.go

// 本服務提供使用者、支票帳戶、存提款與轉帳的 RESTful API。
// 此檔案負責讀取設定、選擇快照後端、載入上次的快照，
// 並啟動 HTTP 伺服器與 checkpoint 排程；結束前再保存一次快照。

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"ledger/internal/checkpoint"
	"ledger/internal/config"
	"ledger/internal/events"
	"ledger/internal/ledger"
	"ledger/internal/logging"
	"ledger/internal/server"
	"ledger/internal/storage"
)

func main() {
	// .env 不存在時直接使用環境變數。
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		os.Exit(exitCode(log, err))
	}
}

// exitCode 記錄致命錯誤並先 flush logger；os.Exit 不會執行 defer。
func exitCode(log *zap.Logger, err error) int {
	log.Error("ledger server stopped", zap.Error(err))
	_ = log.Sync()
	return 1
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, closeBackend, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeBackend()

	persistence := storage.New(backend, log)

	// 快照損毀時拒絕啟動，避免以空帳本覆蓋既有資料。
	snap, err := persistence.Load(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	store, err := ledger.FromSnapshot(snap)
	if err != nil {
		return fmt.Errorf("restore ledger: %w", err)
	}
	log.Info("ledger restored",
		zap.String("storage", backend.Name()),
		zap.Int("users", len(snap.Users)),
		zap.Int("checking_accounts", len(snap.Checking)),
	)

	publisher := newPublisher(cfg, log)
	defer publisher.Close()

	persist := func(ctx context.Context) error {
		return persistence.Save(ctx, store)
	}
	srv := server.NewServer(store,
		server.WithPersist(persist, cfg.PersistOnWrite),
		server.WithPublisher(publisher),
		server.WithLockTimeout(cfg.LockTimeout),
		server.WithLogger(log),
	)

	scheduler := checkpoint.NewScheduler(persistence, store, cfg.CheckpointSchedule, log)
	if err := scheduler.Start(); err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("ledger server running", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			scheduler.Stop()
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown incomplete", zap.Error(err))
	}
	scheduler.Stop()

	// 最後一次保存；所有請求都已結束。
	if err := persistence.Save(shutdownCtx, store); err != nil {
		return fmt.Errorf("final snapshot: %w", err)
	}
	log.Info("final snapshot saved")
	return nil
}

// openBackend 依 STORAGE_BACKEND 建立快照後端，並回傳對應的清理函式。
func openBackend(ctx context.Context, cfg config.Config, log *zap.Logger) (storage.Backend, func(), error) {
	switch cfg.StorageBackend {
	case config.BackendRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		log.Info("using redis snapshot backend", zap.String("key", cfg.RedisSnapshotKey))
		return storage.NewRedisBackend(client, cfg.RedisSnapshotKey), func() { _ = client.Close() }, nil

	case config.BackendPostgres:
		poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse DATABASE_URL: %w", err)
		}
		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		backend := storage.NewPostgresBackend(pool, cfg.SnapshotName)
		if err := backend.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("prepare snapshot table: %w", err)
		}
		log.Info("using postgres snapshot backend", zap.String("snapshot", cfg.SnapshotName))
		return backend, pool.Close, nil

	default:
		log.Info("using file snapshot backend", zap.String("path", cfg.DataFile))
		return storage.NewFileBackend(afero.NewOsFs(), cfg.DataFile), func() {}, nil
	}
}

// newPublisher 在 RABBITMQ_URL 有設定且可連線時發佈事件，否則退回只記錄日誌。
func newPublisher(cfg config.Config, log *zap.Logger) events.Publisher {
	if cfg.RabbitMQURL == "" {
		log.Info("RABBITMQ_URL not set; transfer events disabled")
		return &events.Fallback{Log: log}
	}
	p, err := events.NewEventProducer(cfg.RabbitMQURL, cfg.EventsExchange, log)
	if err != nil {
		log.Warn("rabbitmq unavailable; transfer events disabled", zap.Error(err))
		return &events.Fallback{Log: log}
	}
	return p
}
