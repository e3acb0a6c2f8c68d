package core

import (
	"fmt"

	"casvault/pkg/types"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"google.golang.org/protobuf/proto"
)

// 确定性序列化选项
// 同一个 Directory 必须永远得到同样的字节 (否则 Digest 不稳定)
var marshalOptions = proto.MarshalOptions{Deterministic: true}

// EncodeDirectory 把 Directory 序列化，并返回它作为 Blob 的 Digest
func EncodeDirectory(dir *remoteexecution.Directory) (types.Digest, []byte, error) {
	data, err := marshalOptions.Marshal(dir)
	if err != nil {
		return types.Digest{}, nil, fmt.Errorf("failed to marshal directory: %w", err)
	}
	return ComputeDigest(data), data, nil
}

// DecodeDirectory 解析存储中的 Directory 字节
func DecodeDirectory(data []byte) (*remoteexecution.Directory, error) {
	var dir remoteexecution.Directory
	if err := proto.Unmarshal(data, &dir); err != nil {
		return nil, fmt.Errorf("failed to parse directory: %w", err)
	}
	return &dir, nil
}

// ChildDigests 按列出顺序返回子目录引用
// 文件、符号链接等条目对遍历是透明的，不在这里处理
func ChildDigests(dir *remoteexecution.Directory) []types.Digest {
	children := make([]types.Digest, 0, len(dir.GetDirectories()))
	for _, node := range dir.GetDirectories() {
		children = append(children, types.FromProto(node.GetDigest()))
	}
	return children
}
