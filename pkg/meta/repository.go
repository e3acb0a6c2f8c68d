package meta

import (
	"context"
	"errors"
	"fmt"
	"time"

	"casvault/pkg/types"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrBlobNotIndexed = errors.New("blob not indexed")

// Repository 封装所有对 SQL 数据库的操作
type Repository struct {
	db  *DB
	now func() time.Time
}

func NewRepository(db *DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// RecordPut 登记一个新写入的 Blob (幂等写入)
// 如果记录已存在，只刷新访问时间
func (r *Repository) RecordPut(ctx context.Context, d types.Digest) error {
	now := r.now()
	record := BlobRecord{
		DigestKey:    d.Key(),
		Hash:         d.Hash,
		SizeBytes:    d.SizeBytes,
		LastAccessAt: now,
		CreatedAt:    now,
	}

	err := r.db.GetConn().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "digest_key"}},
			DoUpdates: clause.Assignments(map[string]any{"last_access_at": now}),
		}).
		Create(&record).Error
	if err != nil {
		return fmt.Errorf("failed to index blob %s: %w", d, err)
	}
	return nil
}

// Touch 刷新访问时间并累加命中次数
// 对未登记的 Blob (例如索引启用前写入的历史数据) 会补登记
func (r *Repository) Touch(ctx context.Context, d types.Digest) error {
	result := r.db.GetConn().WithContext(ctx).
		Model(&BlobRecord{}).
		Where("digest_key = ?", d.Key()).
		Updates(map[string]any{
			"last_access_at": r.now(),
			"access_count":   gorm.Expr("access_count + 1"),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to touch blob %s: %w", d, result.Error)
	}
	if result.RowsAffected == 0 {
		return r.RecordPut(ctx, d)
	}
	return nil
}

// Get 查询单个 Blob 的索引记录
func (r *Repository) Get(ctx context.Context, d types.Digest) (*BlobRecord, error) {
	var record BlobRecord
	err := r.db.GetConn().WithContext(ctx).
		Where("digest_key = ?", d.Key()).
		First(&record).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBlobNotIndexed
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Stats 是索引的汇总信息
type Stats struct {
	Count      int64
	TotalBytes int64
}

// Stats 统计已登记 Blob 的数量和总字节数
func (r *Repository) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := r.db.GetConn().WithContext(ctx).
		Model(&BlobRecord{}).
		Select("COUNT(*) AS count, COALESCE(SUM(size_bytes), 0) AS total_bytes").
		Scan(&s).Error
	if err != nil {
		return Stats{}, fmt.Errorf("failed to compute index stats: %w", err)
	}
	return s, nil
}
