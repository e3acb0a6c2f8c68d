// Package indexed 把 Blob 的写入和访问记账到 SQL 索引 (pkg/meta)
package indexed

import (
	"context"
	"io"
	"log/slog"

	"casvault/pkg/meta"
	"casvault/pkg/storage"
	"casvault/pkg/types"
)

// Store 装饰底层 storage.Store
// 索引写入失败只记日志：索引是辅助数据，不能影响 CAS 本身的读写
type Store struct {
	backend storage.Store
	repo    *meta.Repository
	logger  *slog.Logger
}

func New(backend storage.Store, repo *meta.Repository, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{backend: backend, repo: repo, logger: logger}
}

// Has 命中时刷新索引里的访问时间
func (s *Store) Has(ctx context.Context, d types.Digest) (bool, error) {
	found, err := s.backend.Has(ctx, d)
	if err != nil || !found {
		return found, err
	}
	if err := s.repo.Touch(ctx, d); err != nil {
		s.logger.Warn("blob index touch failed", slog.String("digest", d.String()), slog.Any("err", err))
	}
	return true, nil
}

func (s *Store) Get(ctx context.Context, d types.Digest) (io.ReadCloser, error) {
	rc, err := s.backend.Get(ctx, d)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Touch(ctx, d); err != nil {
		s.logger.Warn("blob index touch failed", slog.String("digest", d.String()), slog.Any("err", err))
	}
	return rc, nil
}

func (s *Store) Put(ctx context.Context, d types.Digest, data []byte) error {
	if err := s.backend.Put(ctx, d, data); err != nil {
		return err
	}
	if err := s.repo.RecordPut(ctx, d); err != nil {
		s.logger.Warn("blob index record failed", slog.String("digest", d.String()), slog.Any("err", err))
	}
	return nil
}
