package meta

import (
	"context"
	"fmt"
	"testing"

	"casvault/pkg/core"
	"casvault/pkg/types"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// -----------------------------------------------------------------------------
// 通用辅助函数 (Helpers)
// -----------------------------------------------------------------------------

// setupTestRepo 构建隔离的测试环境 (每个测试一个内存库)
func setupTestRepo(t *testing.T) *Repository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	metaDB := NewWithConn(db)
	require.NoError(t, metaDB.AutoMigrate(&BlobRecord{}))
	t.Cleanup(func() { _ = metaDB.Close() })

	return NewRepository(metaDB)
}

// mockDigest 生成合法的测试用 Digest
func mockDigest(input string) types.Digest {
	return core.ComputeDigest([]byte(input))
}

// mustRecordPut 登记 Blob，失败则终止
func mustRecordPut(t *testing.T, repo *Repository, d types.Digest, msgAndArgs ...any) {
	t.Helper()
	require.NoError(t, repo.RecordPut(context.Background(), d), msgAndArgs...)
}
