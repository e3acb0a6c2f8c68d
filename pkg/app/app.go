// pkg/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"casvault/pkg/compression"
	"casvault/pkg/meta"
	"casvault/pkg/storage"
	"casvault/pkg/storage/cache"
	"casvault/pkg/storage/disk"
	"casvault/pkg/storage/indexed"
	"casvault/pkg/storage/memory"
	"casvault/pkg/storage/s3"

	"github.com/spf13/viper"
)

// App 是服务端的依赖容器
// Store 是按配置组装好的完整存储链：后端 -> (索引) -> (Redis 缓存)
type App struct {
	Store      storage.Store
	Repository *meta.Repository // 未配置索引时为 nil
	Logger     *slog.Logger

	closers []func() error
}

// NewApp 按 Viper 配置组装存储链，不关心具体的 CLI 命令
func NewApp(ctx context.Context, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Logger: logger}

	// 1. 后端存储
	store, err := a.initStore(ctx)
	if err != nil {
		return nil, err
	}

	// 2. Blob 索引 (可选)
	if driver := viper.GetString("index.driver"); driver != "" {
		db, err := meta.NewDB(ctx, meta.Config{Driver: driver, DSN: viper.GetString("index.dsn")})
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("failed to init blob index: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		a.Repository = meta.NewRepository(db)
		store = indexed.New(store, a.Repository, logger)
		a.logIndexStats(ctx, driver)
	}

	// 3. Redis 存在性缓存 (可选)，放在最外层，FindMissingBlobs 的命中不用穿透到后端
	if url := viper.GetString("cache.redis_url"); url != "" {
		cached, err := cache.NewCachedStore(store, cache.Config{
			RedisURL: url,
			TTL:      viper.GetDuration("cache.ttl"),
		}, logger)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("failed to init redis cache: %w", err)
		}
		a.closers = append(a.closers, cached.Close)
		store = cached
		logger.Info("redis existence cache enabled")
	}

	a.Store = store
	return a, nil
}

// initStore 根据 storage.type 创建后端
func (a *App) initStore(ctx context.Context) (storage.Store, error) {
	storeType := viper.GetString("storage.type")

	switch storeType {
	case "disk", "":
		path := viper.GetString("storage.path")
		if path == "" {
			return nil, fmt.Errorf("storage path not set")
		}
		comp, err := compression.NewCompressor(
			viper.GetInt("storage.compression.level"),
			viper.GetBool("storage.compression.enabled"),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to init compressor: %w", err)
		}
		a.closers = append(a.closers, comp.Close)

		store, err := disk.NewAdapter(path, disk.WithCompressor(comp))
		if err != nil {
			return nil, fmt.Errorf("failed to init disk storage: %w", err)
		}
		a.Logger.Info("using disk storage", slog.String("path", path))
		return store, nil

	case "memory":
		a.Logger.Warn("using in-memory storage, blobs are lost on restart")
		return memory.NewStore(), nil

	case "s3":
		store, err := s3.NewAdapter(ctx, s3.Config{
			Endpoint:        viper.GetString("s3.endpoint"),
			Region:          viper.GetString("s3.region"),
			Bucket:          viper.GetString("s3.bucket"),
			Prefix:          viper.GetString("s3.prefix"),
			AccessKeyID:     viper.GetString("s3.access_key"),
			SecretAccessKey: viper.GetString("s3.secret_key"),
		}, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to init s3 storage: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported storage type: %q", storeType)
	}
}

// Close 按创建的逆序释放资源
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// logIndexStats 启动时打印索引里已登记的 Blob 数量和总大小
func (a *App) logIndexStats(ctx context.Context, driver string) {
	stats, err := a.Repository.Stats(ctx)
	if err != nil {
		a.Logger.Warn("blob index enabled, stats unavailable", slog.String("driver", driver), slog.Any("err", err))
		return
	}
	a.Logger.Info("blob index enabled",
		slog.String("driver", driver),
		slog.Int64("indexed_blobs", stats.Count),
		slog.Int64("indexed_bytes", stats.TotalBytes))
}
