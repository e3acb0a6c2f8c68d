package meta

import "time"

// BlobRecord 是 CAS 中一个 Blob 在关系型数据库里的投影 (索引)
// Blob 内容本身只存在于 storage.Store，这里只记账
type BlobRecord struct {
	// DigestKey 是主键: "hash-size"
	DigestKey string `gorm:"primaryKey;column:digest_key;type:varchar(96)"`

	Hash      string `gorm:"index;type:char(64);not null"`
	SizeBytes int64  `gorm:"not null"`

	// 最近一次被 FindMissingBlobs / 读取 命中的时间
	// 外部的清理任务按它判断冷热
	LastAccessAt time.Time `gorm:"index"`
	AccessCount  int64     `gorm:"default:0"`

	CreatedAt time.Time
}

// TableName 强制指定表名
func (BlobRecord) TableName() string {
	return "blobs"
}
