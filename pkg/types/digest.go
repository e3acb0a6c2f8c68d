// pkg/types/digest.go
package types

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
)

// HashLength 是 SHA-256 十六进制字符串的长度
const HashLength = 64

// Digest 代表 Blob 的唯一标识符 (Hash + 字节长度)
// 这是一个“值对象”，可以直接作为 map 的 key 使用，比较按值进行。
type Digest struct {
	Hash      string
	SizeBytes int64
}

// NewDigest 直接构造 (不做校验)
func NewDigest(hash string, size int64) Digest {
	return Digest{Hash: hash, SizeBytes: size}
}

// FromProto 把 REAPI 的 Digest 转换为值类型
// nil 会被转换为零值，调用方可以用 IsZero 判断
func FromProto(d *remoteexecution.Digest) Digest {
	if d == nil {
		return Digest{}
	}
	return NewDigest(d.GetHash(), d.GetSizeBytes())
}

// ToProto 转换为 REAPI 的 Digest，每次都返回新对象，不共享可变状态
func (d Digest) ToProto() *remoteexecution.Digest {
	return &remoteexecution.Digest{Hash: d.Hash, SizeBytes: d.SizeBytes}
}

// String 使用 Bazel 习惯的 "hash/size" 格式
func (d Digest) String() string {
	return fmt.Sprintf("%s/%d", d.Hash, d.SizeBytes)
}

// Key 返回存储层使用的物理键: "hash-size"
// Size 也参与寻址，防止 Hash 相同但声明长度不同的请求命中同一个对象
func (d Digest) Key() string {
	return d.Hash + "-" + strconv.FormatInt(d.SizeBytes, 10)
}

func (d Digest) IsZero() bool { return d == Digest{} }

// IsValid 检查 Hash 是否是 64 位小写十六进制，且 Size 非负
func (d Digest) IsValid() bool {
	if d.SizeBytes < 0 || len(d.Hash) != HashLength {
		return false
	}
	if strings.ToLower(d.Hash) != d.Hash {
		return false
	}
	_, err := hex.DecodeString(d.Hash)
	return err == nil
}

// Short 返回便于日志打印的短哈希
func (d Digest) Short() string {
	if len(d.Hash) < 8 {
		return d.Hash
	}
	return d.Hash[:8]
}

// ParseDigest 解析命令行里的 "hash/size" 字符串
func ParseDigest(s string) (Digest, error) {
	hash, sizeStr, ok := strings.Cut(s, "/")
	if !ok {
		return Digest{}, fmt.Errorf("invalid digest %q: expected <hash>/<size>", s)
	}
	size, err := strconv.ParseInt(sizeStr, 10, 64)
	if err != nil {
		return Digest{}, fmt.Errorf("invalid digest size %q: %w", sizeStr, err)
	}
	d := NewDigest(hash, size)
	if !d.IsValid() {
		return Digest{}, fmt.Errorf("invalid digest %q", s)
	}
	return d, nil
}
