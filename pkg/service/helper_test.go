package service

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"casvault/pkg/core"
	"casvault/pkg/storage"
	"casvault/pkg/storage/memory"
	"casvault/pkg/types"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

// =============================================================================
// Mocks
// =============================================================================

// faultStore 包装内存存储，可以针对单个 Digest 注入错误
type faultStore struct {
	*memory.Store

	hasErr func(types.Digest) error
	getErr func(types.Digest) error
	putErr func(types.Digest) error

	puts int
}

func newFaultStore() *faultStore {
	return &faultStore{Store: memory.NewStore()}
}

func (f *faultStore) Has(ctx context.Context, d types.Digest) (bool, error) {
	if f.hasErr != nil {
		if err := f.hasErr(d); err != nil {
			return false, err
		}
	}
	return f.Store.Has(ctx, d)
}

func (f *faultStore) Get(ctx context.Context, d types.Digest) (io.ReadCloser, error) {
	if f.getErr != nil {
		if err := f.getErr(d); err != nil {
			return nil, err
		}
	}
	return f.Store.Get(ctx, d)
}

func (f *faultStore) Put(ctx context.Context, d types.Digest, data []byte) error {
	f.puts++
	if f.putErr != nil {
		if err := f.putErr(d); err != nil {
			return err
		}
	}
	return f.Store.Put(ctx, d, data)
}

var _ storage.Store = (*faultStore)(nil)

// MockTreeStream 模拟 GetTree 的服务端流，捕获所有发送的响应
type MockTreeStream struct {
	grpc.ServerStream
	Ctx       context.Context
	Responses []*remoteexecution.GetTreeResponse
}

func (m *MockTreeStream) Context() context.Context {
	if m.Ctx == nil {
		return context.Background()
	}
	return m.Ctx
}

func (m *MockTreeStream) Send(resp *remoteexecution.GetTreeResponse) error {
	m.Responses = append(m.Responses, resp)
	return nil
}

// =============================================================================
// 辅助函数
// =============================================================================

func setupTestService(t *testing.T) (*CASService, *faultStore) {
	t.Helper()
	store := newFaultStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewCASService(store, logger), store
}

// putBlob 直接写入存储 (绕过服务)，返回 Digest
func putBlob(t *testing.T, s storage.Store, data []byte) types.Digest {
	t.Helper()
	d := core.ComputeDigest(data)
	require.NoError(t, s.Put(context.Background(), d, data))
	return d
}

// putDirectory 编码并写入一个只包含子目录的 Directory
func putDirectory(t *testing.T, s storage.Store, children ...types.Digest) types.Digest {
	t.Helper()
	dir := &remoteexecution.Directory{}
	for i, c := range children {
		dir.Directories = append(dir.Directories, &remoteexecution.DirectoryNode{
			Name:   string(rune('a' + i)),
			Digest: c.ToProto(),
		})
	}
	d, data, err := core.EncodeDirectory(dir)
	require.NoError(t, err)
	require.NoError(t, s.Put(context.Background(), d, data))
	return d
}

// leafDirectory 写入一个只含单个文件的 Directory，name 让每个叶子的 Digest 不同
func leafDirectory(t *testing.T, s storage.Store, name string) types.Digest {
	t.Helper()
	dir := &remoteexecution.Directory{
		Files: []*remoteexecution.FileNode{{
			Name:   name,
			Digest: core.ComputeDigest([]byte(name)).ToProto(),
		}},
	}
	d, data, err := core.EncodeDirectory(dir)
	require.NoError(t, err)
	require.NoError(t, s.Put(context.Background(), d, data))
	return d
}

// treeDigests 把 GetTree 的结果还原成 Digest 列表，方便比较顺序
func treeDigests(t *testing.T, dirs []*remoteexecution.Directory) []types.Digest {
	t.Helper()
	out := make([]types.Digest, 0, len(dirs))
	for _, dir := range dirs {
		d, _, err := core.EncodeDirectory(dir)
		require.NoError(t, err)
		out = append(out, d)
	}
	return out
}
