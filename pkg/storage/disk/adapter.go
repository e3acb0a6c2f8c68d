package disk

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"casvault/pkg/compression"
	"casvault/pkg/storage"
	"casvault/pkg/types"
)

// Adapter 实现了 storage.Store 接口
type Adapter struct {
	rootPath   string // 比如: /var/lib/casvault/objects
	compressor *compression.Compressor
}

// Option 用于定制 Adapter
type Option func(*Adapter)

// WithCompressor 为落盘数据启用 zstd 压缩
func WithCompressor(c *compression.Compressor) Option {
	return func(a *Adapter) { a.compressor = c }
}

// NewAdapter 创建一个新的磁盘存储适配器
func NewAdapter(root string, opts ...Option) (*Adapter, error) {
	// 确保根目录存在
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root storage dir: %w", err)
	}

	a := &Adapter{rootPath: root}
	for _, opt := range opts {
		opt(a)
	}
	if a.compressor == nil {
		// 默认不压缩，但仍然写格式头，之后打开压缩也能读旧数据
		c, err := compression.NewCompressor(0, false)
		if err != nil {
			return nil, err
		}
		a.compressor = c
	}
	return a, nil
}

// layout 返回 Digest 对应的物理路径
// 策略：使用前 2 个字符作为子目录 (Sharding)
// Example: "aabbcc.../5" -> root/aa/aabbcc...-5
func (s *Adapter) layout(d types.Digest) string {
	return filepath.Join(s.rootPath, d.Hash[:2], d.Key())
}

func (s *Adapter) Put(ctx context.Context, d types.Digest, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// 非法 Digest 会被拼进文件路径，必须拒绝
	if !d.IsValid() {
		return fmt.Errorf("%w: %s", storage.ErrInvalidDigest, d)
	}
	targetPath := s.layout(d)

	// 1. 检查是否存在 (幂等性)
	if _, err := os.Stat(targetPath); err == nil {
		return nil // 已经存在，直接跳过 (CAS 的好处)
	}

	// 2. 准备目录
	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create shard dir: %w", err)
	}

	// 3. 原子写入 (Atomic Write)
	// 先写到临时文件，然后 Rename。要么文件不存在，要么文件是完整的。
	// 并发写同一个 Digest 时内容必然相同，谁的 Rename 最后生效都无所谓。
	tempFile, err := os.CreateTemp(dir, "temp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tempFile.Name())

	if _, err := tempFile.Write(s.compressor.Encode(data)); err != nil {
		tempFile.Close()
		return fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	// 4. 移动到最终位置
	if err := os.Rename(tempFile.Name(), targetPath); err != nil {
		return fmt.Errorf("failed to commit blob: %w", err)
	}
	return nil
}

func (s *Adapter) Get(ctx context.Context, d types.Digest) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !d.IsValid() {
		return nil, storage.ErrNotFound
	}

	raw, err := os.ReadFile(s.layout(d))
	if os.IsNotExist(err) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", d, err)
	}

	data, err := s.compressor.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode blob %s: %w", d, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Has 检查对象是否存在，存在时顺便刷新 mtime (refresh)
// mtime 是外部清理脚本判断冷热的唯一依据
func (s *Adapter) Has(ctx context.Context, d types.Digest) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !d.IsValid() {
		return false, nil
	}

	targetPath := s.layout(d)
	_, err := os.Stat(targetPath)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat blob %s: %w", d, err)
	}

	now := time.Now()
	if err := os.Chtimes(targetPath, now, now); err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to refresh blob %s: %w", d, err)
	}
	return true, nil
}
