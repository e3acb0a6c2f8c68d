package core

import (
	"testing"

	"casvault/pkg/types"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// 辅助工具
// -----------------------------------------------------------------------------

// mustEncodeDirectory 编码 Directory，如果失败直接终止测试
func mustEncodeDirectory(t *testing.T, dir *remoteexecution.Directory) (types.Digest, []byte) {
	t.Helper()
	d, data, err := EncodeDirectory(dir)
	require.NoError(t, err)
	return d, data
}
