package cache

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"casvault/pkg/core"
	"casvault/pkg/storage"
	"casvault/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// 1. SpyStore (间谍存储)
// 用于统计底层方法被调用的次数，验证请求是否穿透了缓存
// -----------------------------------------------------------------------------
type SpyStore struct {
	hasCount int32
	putCount int32
	mu       sync.Mutex
	objects  map[types.Digest][]byte
}

func NewSpyStore() *SpyStore {
	return &SpyStore{
		objects: make(map[types.Digest][]byte),
	}
}

func (s *SpyStore) Has(ctx context.Context, d types.Digest) (bool, error) {
	atomic.AddInt32(&s.hasCount, 1) // 记录调用次数
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[d]
	return ok, nil
}

func (s *SpyStore) Put(ctx context.Context, d types.Digest, data []byte) error {
	atomic.AddInt32(&s.putCount, 1) // 记录调用次数
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[d] = data
	return nil
}

func (s *SpyStore) Get(ctx context.Context, d types.Digest) (io.ReadCloser, error) {
	return nil, storage.ErrNotFound
}

// -----------------------------------------------------------------------------
// 2. 编码测试 (不需要 Redis)
// -----------------------------------------------------------------------------

func TestCacheEntry_Codec(t *testing.T) {
	entry := cacheEntry{SizeBytes: 4096, StoredAt: 1700000000}

	raw, err := encodeEntry(entry)
	require.NoError(t, err)

	got, err := decodeEntry(raw)
	require.NoError(t, err)
	assert.Equal(t, entry, got)

	// 编码是确定性的
	raw2, err := encodeEntry(entry)
	require.NoError(t, err)
	assert.Equal(t, raw, raw2)
}

func TestCacheEntry_RejectsGarbage(t *testing.T) {
	_, err := decodeEntry([]byte("1"))
	assert.Error(t, err)
}

func TestCacheKey(t *testing.T) {
	s := newWithClient(NewSpyStore(), nil, time.Hour, nil)
	d := core.ComputeDigest([]byte("hello"))
	assert.Equal(t, "cas:blob:"+d.Hash+"-5", s.cacheKey(d))
}

// -----------------------------------------------------------------------------
// 3. 集成测试
// -----------------------------------------------------------------------------

func TestCachedStore_Integration(t *testing.T) {
	// A. 环境检查: 确保 Redis 在运行
	redisAddr := "localhost:6379"
	conn, err := net.DialTimeout("tcp", redisAddr, 1*time.Second)
	if err != nil {
		t.Skipf("Skipping Redis integration test: %v", err)
	}
	conn.Close()

	// B. 初始化
	ctx := context.Background()
	spy := NewSpyStore()
	cfg := Config{
		RedisURL: fmt.Sprintf("redis://%s/0", redisAddr),
		TTL:      1 * time.Hour,
	}
	cachedStore, err := NewCachedStore(spy, cfg, nil)
	require.NoError(t, err)
	defer cachedStore.Close()

	// 用随机内容，避免上次测试残留
	data := []byte(fmt.Sprintf("cached-%d", time.Now().UnixNano()))
	d := core.ComputeDigest(data)

	// --- Step 1: Cache Miss ---
	exists, err := cachedStore.Has(ctx, d)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, int32(1), atomic.LoadInt32(&spy.hasCount), "Backend Has() should be called on miss")

	// --- Step 2: Put (Write-Through) ---
	require.NoError(t, cachedStore.Put(ctx, d, data))
	assert.Equal(t, int32(1), atomic.LoadInt32(&spy.putCount), "Backend Put() should be called")

	redisVal, err := cachedStore.client.Exists(ctx, cachedStore.cacheKey(d)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), redisVal, "Redis key should be set after Put")

	hasBefore := atomic.LoadInt32(&spy.hasCount)

	// --- Step 3: Cache Hit ---
	exists, err = cachedStore.Has(ctx, d)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, hasBefore, atomic.LoadInt32(&spy.hasCount), "Backend Has() should NOT be called on hit")

	// --- Step 4: 再次 Put 依然写穿 (缓存可能比底层数据活得久) ---
	require.NoError(t, cachedStore.Put(ctx, d, data))
	assert.Equal(t, int32(2), atomic.LoadInt32(&spy.putCount))
}
