package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"casvault/pkg/storage"
	"casvault/pkg/types"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
)

// CachedStore 是一个装饰器，它为底层的 storage.Store 添加 Redis 存在性缓存
type CachedStore struct {
	backend storage.Store // 被装饰的底层存储 (如 S3)
	client  *redis.Client // Redis 客户端
	ttl     time.Duration // 缓存过期时间 (例如 24h)
	logger  *slog.Logger
}

type Config struct {
	RedisURL string        // 标准连接字符串: redis://<user>:<password>@<host>:<port>/<db>
	TTL      time.Duration // 过期时间
}

// cacheEntry 是写入 Redis 的值
// 使用 Canonical CBOR 编码，体积比 JSON 小，且字段顺序固定
type cacheEntry struct {
	SizeBytes int64 `cbor:"s"`
	StoredAt  int64 `cbor:"t"` // Unix 秒
}

var encMode, _ = cbor.EncOptions{
	Sort:        cbor.SortCanonical,
	IndefLength: cbor.IndefLengthForbidden,
}.EncMode()

var decMode, _ = cbor.DecOptions{
	// 值来自外部 Redis，限制嵌套和容器大小
	MaxNestedLevels:  4,
	MaxArrayElements: 16,
	MaxMapPairs:      16,
	IndefLength:      cbor.IndefLengthForbidden,
	DupMapKey:        cbor.DupMapKeyEnforcedAPF,
}.DecMode()

func encodeEntry(e cacheEntry) ([]byte, error) {
	return encMode.Marshal(e)
}

func decodeEntry(data []byte) (cacheEntry, error) {
	var e cacheEntry
	if err := decMode.Unmarshal(data, &e); err != nil {
		return cacheEntry{}, fmt.Errorf("invalid cache entry: %w", err)
	}
	return e, nil
}

// NewCachedStore 连接 Redis 并返回装饰后的 Store
func NewCachedStore(backend storage.Store, cfg Config, logger *slog.Logger) (*CachedStore, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	// Fail-fast 连接检查
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newWithClient(backend, client, cfg.TTL, logger), nil
}

func newWithClient(backend storage.Store, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedStore{
		backend: backend,
		client:  client,
		ttl:     ttl,
		logger:  logger,
	}
}

// cacheKey 生成 Redis Key，添加前缀防止冲突
func (s *CachedStore) cacheKey(d types.Digest) string {
	return "cas:blob:" + d.Key()
}

// Has 优先查 Redis，命中时顺便续期 (refresh)
func (s *CachedStore) Has(ctx context.Context, d types.Digest) (bool, error) {
	key := s.cacheKey(d)

	// 1. 查 Redis
	raw, err := s.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		if entry, decErr := decodeEntry(raw); decErr == nil && entry.SizeBytes == d.SizeBytes {
			// Cache Hit: 续期，失败不影响结果
			if expErr := s.client.Expire(ctx, key, s.ttl).Err(); expErr != nil {
				s.logger.Warn("redis expire failed", slog.String("digest", d.String()), slog.Any("err", expErr))
			}
			return true, nil
		}
		// 脏数据，当作未命中
	case errors.Is(err, redis.Nil):
		// 未命中
	default:
		// 缓存故障降级：Redis 挂了不影响主流程，退化为直接查底层存储
		s.logger.Warn("redis error, falling back to backend", slog.Any("err", err))
	}

	// 2. 缓存未命中 (Cache Miss)，查底层存储
	found, err := s.backend.Has(ctx, d)
	if err != nil {
		return false, err
	}

	// 3. 缓存回填 (Cache Fill)
	if found {
		s.fill(ctx, d)
	}
	return found, nil
}

// Put 总是写穿到底层存储，成功后再写 Redis
// 不能用缓存预检跳过写入：缓存条目可能比底层数据活得久 (例如底层被清空)，
// 那样会对客户端返回成功却没有真正落盘
func (s *CachedStore) Put(ctx context.Context, d types.Digest, data []byte) error {
	if err := s.backend.Put(ctx, d, data); err != nil {
		return err
	}
	s.fill(ctx, d)
	return nil
}

// Get 透传 - 我们不缓存 Blob 数据
// Redis 内存宝贵，只存元数据 (Existence) 性价比最高
func (s *CachedStore) Get(ctx context.Context, d types.Digest) (io.ReadCloser, error) {
	return s.backend.Get(ctx, d)
}

func (s *CachedStore) fill(ctx context.Context, d types.Digest) {
	val, err := encodeEntry(cacheEntry{SizeBytes: d.SizeBytes, StoredAt: time.Now().Unix()})
	if err != nil {
		s.logger.Warn("cache entry encode failed", slog.Any("err", err))
		return
	}
	// Set 失败可以忽略，下次 Has 会穿透到底层
	if err := s.client.Set(ctx, s.cacheKey(d), val, s.ttl).Err(); err != nil {
		s.logger.Warn("redis set failed", slog.String("digest", d.String()), slog.Any("err", err))
	}
}

func (s *CachedStore) Close() error {
	return s.client.Close()
}
