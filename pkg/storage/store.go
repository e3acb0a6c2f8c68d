package storage

import (
	"context"
	"errors"
	"io"

	"casvault/pkg/types"
)

var (
	ErrNotFound      = errors.New("blob not found")
	ErrInvalidDigest = errors.New("invalid digest")
)

// Store defines the interface for a content-addressed blob backend.
// Implementations can be local disk, memory, or cloud storage, and must be
// safe for concurrent use.
type Store interface {
	// Has 检查 Blob 是否存在
	// 实现可以顺便刷新内部的“最近使用”标记 (例如 touch mtime)，必须是幂等的
	Has(ctx context.Context, digest types.Digest) (bool, error)

	// Get 根据 Digest 读取原始数据，不存在时返回 ErrNotFound
	// 返回 io.ReadCloser 以支持大对象的流式读取
	Get(ctx context.Context, digest types.Digest) (io.ReadCloser, error)

	// Put 持久化一个 Blob
	// 调用方负责保证 data 的 Digest 就是 digest (Store 不做校验)
	Put(ctx context.Context, digest types.Digest, data []byte) error
}

// ReadAll 是 Get + io.ReadAll 的便捷封装
func ReadAll(ctx context.Context, s Store, digest types.Digest) ([]byte, error) {
	rc, err := s.Get(ctx, digest)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	return data, nil
}
