package memory

import (
	"bytes"
	"context"
	"io"
	"sync"

	"casvault/pkg/storage"
	"casvault/pkg/types"
)

// Store 是纯内存的 storage.Store 实现
// 进程退出即丢失，适合测试和临时的构建缓存
type Store struct {
	mu    sync.RWMutex
	blobs map[types.Digest][]byte
}

func NewStore() *Store {
	return &Store{blobs: make(map[types.Digest][]byte)}
}

func (s *Store) Has(ctx context.Context, d types.Digest) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[d]
	return ok, nil
}

func (s *Store) Get(ctx context.Context, d types.Digest) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	data, ok := s.blobs[d]
	s.mu.RUnlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	// 存储的切片从不修改，可以直接共享给读者
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *Store) Put(ctx context.Context, d types.Digest, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// 拷贝一份，调用方之后修改 data 不会影响已存储的内容
	owned := bytes.Clone(data)
	if owned == nil {
		owned = []byte{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[d]; !ok {
		s.blobs[d] = owned
	}
	return nil
}

// Len 返回当前对象数量
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
