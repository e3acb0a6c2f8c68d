package disk

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"casvault/pkg/compression"
	"casvault/pkg/core"
	"casvault/pkg/storage"
	"casvault/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskAdapter(t *testing.T) {
	// 1. 创建临时测试目录
	tmpDir := t.TempDir()
	store, err := NewAdapter(tmpDir)
	require.NoError(t, err)

	ctx := context.Background()
	data := []byte("hello")
	d := core.ComputeDigest(data)

	// 2. 测试 Put
	require.NoError(t, store.Put(ctx, d, data))

	// 验证文件是否真的存在于物理磁盘
	// 路径应该是 tmpDir/2c/2cf24dba...-5
	expectedPath := filepath.Join(tmpDir, "2c", d.Hash+"-5")
	_, err = os.Stat(expectedPath)
	assert.NoError(t, err, "文件应该存在于 Sharding 目录中")

	// 3. 测试 Has
	exists, err := store.Has(ctx, d)
	assert.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.Has(ctx, core.ComputeDigest([]byte("missing")))
	assert.NoError(t, err)
	assert.False(t, exists)

	// 同样的 Hash，不同的 Size，视为不存在
	exists, err = store.Has(ctx, types.NewDigest(d.Hash, 6))
	assert.NoError(t, err)
	assert.False(t, exists)

	// 4. 测试 Get
	reader, err := store.Get(ctx, d)
	require.NoError(t, err)
	defer reader.Close()

	content, err := io.ReadAll(reader)
	assert.NoError(t, err)
	assert.Equal(t, data, content)
}

func TestDiskAdapter_GetMissing(t *testing.T) {
	store, err := NewAdapter(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), core.ComputeDigest([]byte("nope")))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDiskAdapter_RejectsMalformedDigest(t *testing.T) {
	tmpDir := t.TempDir()
	store, err := NewAdapter(tmpDir)
	require.NoError(t, err)
	ctx := context.Background()

	evil := types.NewDigest("../../etc/passwd", 1)

	err = store.Put(ctx, evil, []byte("x"))
	assert.ErrorIs(t, err, storage.ErrInvalidDigest)

	exists, err := store.Has(ctx, evil)
	assert.NoError(t, err)
	assert.False(t, exists)

	_, err = store.Get(ctx, evil)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDiskAdapter_HasRefreshesMtime(t *testing.T) {
	tmpDir := t.TempDir()
	store, err := NewAdapter(tmpDir)
	require.NoError(t, err)
	ctx := context.Background()

	data := []byte("refresh me")
	d := core.ComputeDigest(data)
	require.NoError(t, store.Put(ctx, d, data))

	// 把 mtime 拨回过去
	path := store.layout(d)
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	exists, err := store.Has(ctx, d)
	require.NoError(t, err)
	require.True(t, exists)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.ModTime().After(old.Add(time.Hour)), "Has 应该刷新 mtime")
}

func TestDiskAdapter_Compressed(t *testing.T) {
	c, err := compression.NewCompressor(2, true)
	require.NoError(t, err)
	defer c.Close()

	store, err := NewAdapter(t.TempDir(), WithCompressor(c))
	require.NoError(t, err)
	ctx := context.Background()

	data := bytes.Repeat([]byte("compressible "), 2000)
	d := core.ComputeDigest(data)
	require.NoError(t, store.Put(ctx, d, data))

	info, err := os.Stat(store.layout(d))
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(len(data)), "落盘数据应该被压缩")

	got, err := storage.ReadAll(ctx, store, d)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestDiskAdapter_CancelledContext(t *testing.T) {
	store, err := NewAdapter(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = store.Get(ctx, core.ComputeDigest([]byte("x")))
	assert.ErrorIs(t, err, context.Canceled)

	_, err = store.Has(ctx, core.ComputeDigest([]byte("x")))
	assert.ErrorIs(t, err, context.Canceled)
}
