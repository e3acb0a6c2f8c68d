package service

import (
	"context"
	"log/slog"

	"casvault/pkg/core"
	"casvault/pkg/storage"
	"casvault/pkg/types"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	spb "google.golang.org/genproto/googleapis/rpc/status"
)

// CASService 实现 REAPI 的 ContentAddressableStorage 服务
// 四个 handler 互相独立，只依赖 storage.Store；所有工作状态都在单次请求内
type CASService struct {
	remoteexecution.UnimplementedContentAddressableStorageServer
	store  storage.Store
	logger *slog.Logger
}

func NewCASService(store storage.Store, logger *slog.Logger) *CASService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CASService{
		store:  store,
		logger: logger.With(slog.String("service", "cas")),
	}
}

// checkDigestFunction 只接受 SHA256 (UNKNOWN 表示客户端没指定，按 SHA256 处理)
func checkDigestFunction(fn remoteexecution.DigestFunction_Value) error {
	if fn == remoteexecution.DigestFunction_UNKNOWN || fn == core.DigestFunction {
		return nil
	}
	return errInvalidArgument("digest_function", "unsupported digest function: "+fn.String())
}

// =============================================================================
// 1. FindMissingBlobs
// =============================================================================

// FindMissingBlobs 返回请求中不存在于存储的 Digest
// 保持原始顺序，重复项也原样保留；任何存储错误都让整个请求失败
func (s *CASService) FindMissingBlobs(ctx context.Context, req *remoteexecution.FindMissingBlobsRequest) (*remoteexecution.FindMissingBlobsResponse, error) {
	if err := checkDigestFunction(req.GetDigestFunction()); err != nil {
		return nil, err
	}

	resp := &remoteexecution.FindMissingBlobsResponse{}
	for _, pd := range req.GetBlobDigests() {
		d := types.FromProto(pd)

		exists, err := s.store.Has(ctx, d)
		if err != nil {
			casErr := classify(ctx, d, err)
			if casErr.Kind == KindNotFound {
				// Has 不应该返回 NotFound，当作存储故障处理
				casErr = errInternal(d, err)
			}
			s.logger.Warn("existence check failed", slog.String("digest", d.String()), slog.Any("err", err))
			return nil, casErr
		}
		if !exists {
			resp.MissingBlobDigests = append(resp.MissingBlobDigests, d.ToProto())
		}
	}
	return resp, nil
}

// =============================================================================
// 2. BatchUpdateBlobs
// =============================================================================

// BatchUpdateBlobs 校验并写入每个 Blob
// 每个条目独立处理：一个条目失败不会跳过后续条目，响应条目与请求一一对应
func (s *CASService) BatchUpdateBlobs(ctx context.Context, req *remoteexecution.BatchUpdateBlobsRequest) (*remoteexecution.BatchUpdateBlobsResponse, error) {
	if err := checkDigestFunction(req.GetDigestFunction()); err != nil {
		return nil, err
	}

	resp := &remoteexecution.BatchUpdateBlobsResponse{
		Responses: make([]*remoteexecution.BatchUpdateBlobsResponse_Response, 0, len(req.GetRequests())),
	}
	for _, r := range req.GetRequests() {
		claimed := types.FromProto(r.GetDigest())
		resp.Responses = append(resp.Responses, &remoteexecution.BatchUpdateBlobsResponse_Response{
			Digest: claimed.ToProto(),
			Status: s.updateBlob(ctx, claimed, r),
		})
	}
	return resp, nil
}

func (s *CASService) updateBlob(ctx context.Context, claimed types.Digest, r *remoteexecution.BatchUpdateBlobsRequest_Request) *spb.Status {
	if r.GetCompressor() != remoteexecution.Compressor_IDENTITY {
		return errInvalidArgument("compressor", "unsupported compressor: "+r.GetCompressor().String()).Proto()
	}

	// 1. 先校验身份，再写入：不合法的数据绝不落盘
	data := r.GetData()
	actual := core.ComputeDigest(data)
	if actual != claimed {
		s.logger.Info("rejected blob with mismatching digest",
			slog.String("claimed", claimed.String()), slog.String("actual", actual.String()))
		return errDigestMismatch(claimed, actual).Proto()
	}

	// 2. 写入存储
	if err := s.store.Put(ctx, actual, data); err != nil {
		casErr := classify(ctx, actual, err)
		if casErr.Kind != KindCanceled {
			casErr = errInternal(actual, err)
		}
		s.logger.Warn("blob write failed", slog.String("digest", actual.String()), slog.Any("err", err))
		return casErr.Proto()
	}
	return okStatus()
}

// =============================================================================
// 3. BatchReadBlobs
// =============================================================================

// BatchReadBlobs 读取每个 Blob
// NotFound 只影响单个条目；取消和其它意外错误让整个请求失败，不返回部分结果
func (s *CASService) BatchReadBlobs(ctx context.Context, req *remoteexecution.BatchReadBlobsRequest) (*remoteexecution.BatchReadBlobsResponse, error) {
	if err := checkDigestFunction(req.GetDigestFunction()); err != nil {
		return nil, err
	}

	resp := &remoteexecution.BatchReadBlobsResponse{
		Responses: make([]*remoteexecution.BatchReadBlobsResponse_Response, 0, len(req.GetDigests())),
	}
	for _, pd := range req.GetDigests() {
		d := types.FromProto(pd)
		item := &remoteexecution.BatchReadBlobsResponse_Response{Digest: d.ToProto()}

		data, err := storage.ReadAll(ctx, s.store, d)
		if err != nil {
			casErr := classify(ctx, d, err)
			if casErr.Kind == KindNotFound {
				item.Status = casErr.Proto()
				resp.Responses = append(resp.Responses, item)
				continue
			}
			s.logger.Warn("read request failed", slog.String("digest", d.String()), slog.Any("err", err))
			return nil, casErr
		}

		item.Data = data
		item.Status = okStatus()
		resp.Responses = append(resp.Responses, item)
	}
	return resp, nil
}

// =============================================================================
// 4. GetTree
// =============================================================================

// GetTree 返回根目录可达的所有 Directory (去重)
// 整棵树是一个完整性单元：任何节点失败都不发送任何响应
func (s *CASService) GetTree(req *remoteexecution.GetTreeRequest, stream remoteexecution.ContentAddressableStorage_GetTreeServer) error {
	if err := checkDigestFunction(req.GetDigestFunction()); err != nil {
		return err
	}
	root := types.FromProto(req.GetRootDigest())
	if root.IsZero() {
		return errInvalidArgument("root_digest", "root_digest is required")
	}

	ctx := stream.Context()

	dirs, err := s.resolveTree(ctx, root)
	if err != nil {
		s.logger.Warn("tree request failed",
			slog.String("root", root.String()), slog.String("kind", err.Kind.String()), slog.Any("err", err))
		return err
	}

	s.logger.Debug("tree resolved", slog.String("root", root.String()), slog.Int("directories", len(dirs)))
	return stream.Send(&remoteexecution.GetTreeResponse{Directories: dirs})
}

// resolveTree 用显式的栈做遍历
// pending 严格按 LIFO 使用，子目录按列出顺序入栈，所以兄弟节点按列出顺序的逆序被访问。
// seen 保证每个不同的 Digest 最多被读取和输出一次，环或共享子树都不会导致重复或死循环。
func (s *CASService) resolveTree(ctx context.Context, root types.Digest) ([]*remoteexecution.Directory, *Error) {
	seen := map[types.Digest]struct{}{root: {}}
	pending := []types.Digest{root}
	var dirs []*remoteexecution.Directory

	for len(pending) > 0 {
		d := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		data, err := storage.ReadAll(ctx, s.store, d)
		if err != nil {
			return nil, classify(ctx, d, err)
		}

		dir, err := core.DecodeDirectory(data)
		if err != nil {
			return nil, errInternal(d, err)
		}
		dirs = append(dirs, dir)

		for _, child := range core.ChildDigests(dir) {
			if _, ok := seen[child]; ok {
				continue
			}
			seen[child] = struct{}{}
			pending = append(pending, child)
		}
	}
	return dirs, nil
}
