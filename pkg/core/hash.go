package core

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"

	"casvault/pkg/types"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
)

// DigestFunction 是本服务唯一支持的摘要算法
const DigestFunction = remoteexecution.DigestFunction_SHA256

// ComputeDigest 计算原始数据的 Digest (SHA-256 + 长度)
// 这是 CAS 的身份函数：同样的字节永远得到同样的 Digest
func ComputeDigest(data []byte) types.Digest {
	sum := sha256.Sum256(data)
	return types.Digest{
		Hash:      hex.EncodeToString(sum[:]),
		SizeBytes: int64(len(data)),
	}
}

// ComputeDigestReader 流式计算 Digest，用于客户端处理大文件
func ComputeDigestReader(r io.Reader) (types.Digest, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return types.Digest{}, err
	}
	return digestFromHasher(h, n), nil
}

func digestFromHasher(h hash.Hash, n int64) types.Digest {
	return types.Digest{
		Hash:      hex.EncodeToString(h.Sum(nil)),
		SizeBytes: n,
	}
}

// EmptyDigest 是空 Blob 的 Digest
var EmptyDigest = ComputeDigest(nil)
