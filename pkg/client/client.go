package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"casvault/pkg/types"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
)

const (
	// DefaultMaxBatchBytes 与服务端在 GetCapabilities 中声明的上限一致
	DefaultMaxBatchBytes = 4 * 1024 * 1024
	// MaxMessageBytes 单个 gRPC 请求的硬上限，与服务端默认的 server.max_recv_msg_bytes 一致
	MaxMessageBytes = 16 * 1024 * 1024
	// 每个批量条目除数据外的 protobuf 开销 (Digest + 字段头) 的保守估计
	perItemOverhead = 128
)

// ErrBlobTooLarge 单个 Blob 连单独一个请求都放不下
var ErrBlobTooLarge = errors.New("blob exceeds batch size limit")

// Client 封装了与 CAS 服务端的连接
type Client struct {
	conn *grpc.ClientConn

	CAS          remoteexecution.ContentAddressableStorageClient
	Capabilities remoteexecution.CapabilitiesClient

	maxBatchBytes int64
	concurrency   int
}

type Option func(*Client)

func WithMaxBatchBytes(n int64) Option {
	return func(c *Client) { c.maxBatchBytes = n }
}

// WithConcurrency 同时在途的批量请求数
func WithConcurrency(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// New 创建客户端
// grpc.NewClient 立即返回，连接在后台建立，网络不通不会在这里报错
func New(addr string, opts ...Option) (*Client, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(64*1024*1024),
			grpc.MaxCallSendMsgSize(MaxMessageBytes),
		),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             20 * time.Second,
			PermitWithoutStream: true,
		}),
	}

	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", addr, err)
	}
	c := NewWithConn(conn, opts...)
	return c, nil
}

// NewWithConn 复用已有连接 (测试里用 bufconn)
func NewWithConn(conn *grpc.ClientConn, opts ...Option) *Client {
	c := &Client{
		conn:          conn,
		CAS:           remoteexecution.NewContentAddressableStorageClient(conn),
		Capabilities:  remoteexecution.NewCapabilitiesClient(conn),
		maxBatchBytes: DefaultMaxBatchBytes,
		concurrency:   4,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close 关闭底层连接
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// SyncLimits 用服务端声明的批量上限替换本地默认值
func (c *Client) SyncLimits(ctx context.Context) (*remoteexecution.ServerCapabilities, error) {
	caps, err := c.Capabilities.GetCapabilities(ctx, &remoteexecution.GetCapabilitiesRequest{})
	if err != nil {
		return nil, err
	}
	if n := caps.GetCacheCapabilities().GetMaxBatchTotalSizeBytes(); n > 0 {
		c.maxBatchBytes = n
	}
	return caps, nil
}

// =============================================================================
// CAS 操作
// =============================================================================

// FindMissing 返回服务端缺失的 Digest (保持输入顺序)
func (c *Client) FindMissing(ctx context.Context, digests []types.Digest) ([]types.Digest, error) {
	if len(digests) == 0 {
		return nil, nil
	}
	req := &remoteexecution.FindMissingBlobsRequest{}
	for _, d := range digests {
		req.BlobDigests = append(req.BlobDigests, d.ToProto())
	}

	resp, err := c.CAS.FindMissingBlobs(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("find missing blobs: %w", err)
	}
	missing := make([]types.Digest, 0, len(resp.GetMissingBlobDigests()))
	for _, pd := range resp.GetMissingBlobDigests() {
		missing = append(missing, types.FromProto(pd))
	}
	return missing, nil
}

// UploadBlobs 只上传服务端缺失的 Blob，返回实际上传的数量
// 缺失的 Blob 按大小切成多个批次并发上传；任何条目失败都会返回错误
func (c *Client) UploadBlobs(ctx context.Context, blobs map[types.Digest][]byte) (int, error) {
	digests := make([]types.Digest, 0, len(blobs))
	for d := range blobs {
		digests = append(digests, d)
	}

	missing, err := c.FindMissing(ctx, digests)
	if err != nil {
		return 0, err
	}
	missing = dedupe(missing)

	groups, err := c.batches(missing)
	if err != nil {
		return 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, group := range groups {
		g.Go(func() error {
			req := &remoteexecution.BatchUpdateBlobsRequest{}
			for _, d := range group {
				req.Requests = append(req.Requests, &remoteexecution.BatchUpdateBlobsRequest_Request{
					Digest: d.ToProto(),
					Data:   blobs[d],
				})
			}
			resp, err := c.CAS.BatchUpdateBlobs(gctx, req)
			if err != nil {
				return fmt.Errorf("batch update blobs: %w", err)
			}

			var errs []error
			for _, item := range resp.GetResponses() {
				if code := codes.Code(item.GetStatus().GetCode()); code != codes.OK {
					errs = append(errs, fmt.Errorf("upload %s: %w",
						types.FromProto(item.GetDigest()), status.ErrorProto(item.GetStatus())))
				}
			}
			return errors.Join(errs...)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(missing), nil
}

// ReadBlobs 批量下载，任何一个 Blob 不存在都返回错误
func (c *Client) ReadBlobs(ctx context.Context, digests []types.Digest) (map[types.Digest][]byte, error) {
	groups, err := c.batches(dedupe(digests))
	if err != nil {
		return nil, err
	}

	out := make(map[types.Digest][]byte, len(digests))
	results := make([][]*remoteexecution.BatchReadBlobsResponse_Response, len(groups))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, group := range groups {
		g.Go(func() error {
			req := &remoteexecution.BatchReadBlobsRequest{}
			for _, d := range group {
				req.Digests = append(req.Digests, d.ToProto())
			}
			resp, err := c.CAS.BatchReadBlobs(gctx, req)
			if err != nil {
				return fmt.Errorf("batch read blobs: %w", err)
			}
			results[i] = resp.GetResponses()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var errs []error
	for _, items := range results {
		for _, item := range items {
			d := types.FromProto(item.GetDigest())
			if code := codes.Code(item.GetStatus().GetCode()); code != codes.OK {
				errs = append(errs, fmt.Errorf("read %s: %w", d, status.ErrorProto(item.GetStatus())))
				continue
			}
			out[d] = item.GetData()
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// GetTree 读取整个目录树 (会把所有分页的结果拼在一起)
func (c *Client) GetTree(ctx context.Context, root types.Digest) ([]*remoteexecution.Directory, error) {
	stream, err := c.CAS.GetTree(ctx, &remoteexecution.GetTreeRequest{RootDigest: root.ToProto()})
	if err != nil {
		return nil, fmt.Errorf("get tree %s: %w", root, err)
	}

	var dirs []*remoteexecution.Directory
	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("get tree %s: %w", root, err)
		}
		dirs = append(dirs, resp.GetDirectories()...)
	}
	return dirs, nil
}

// =============================================================================
// 辅助函数
// =============================================================================

// batches 按 SizeBytes 把 Digest 切成不超过 maxBatchBytes 的组，保持输入顺序
// maxBatchBytes 只是建议值：装不进批次的单个 Blob 独占一组，
// 只有超过 MaxMessageBytes 时才返回 ErrBlobTooLarge
func (c *Client) batches(digests []types.Digest) ([][]types.Digest, error) {
	var (
		groups  [][]types.Digest
		current []types.Digest
		size    int64
	)
	for _, d := range digests {
		cost := d.SizeBytes + perItemOverhead
		if cost > MaxMessageBytes {
			return nil, fmt.Errorf("%w: %s (limit %d bytes)", ErrBlobTooLarge, d, MaxMessageBytes)
		}
		if cost > c.maxBatchBytes {
			groups = append(groups, []types.Digest{d})
			continue
		}
		if size+cost > c.maxBatchBytes && len(current) > 0 {
			groups = append(groups, current)
			current, size = nil, 0
		}
		current = append(current, d)
		size += cost
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups, nil
}

func dedupe(digests []types.Digest) []types.Digest {
	seen := make(map[types.Digest]struct{}, len(digests))
	out := digests[:0:0]
	for _, d := range digests {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}
