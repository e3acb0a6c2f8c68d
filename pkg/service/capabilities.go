package service

import (
	"context"

	"casvault/pkg/core"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"github.com/bazelbuild/remote-apis/build/bazel/semver"
)

// MaxBatchTotalSizeBytes 是建议客户端遵守的单个批量请求的总大小上限 (4 MiB)
// 只通过 GetCapabilities 告知客户端，服务端不据此拒绝请求
const MaxBatchTotalSizeBytes = 4 * 1024 * 1024

// CapabilitiesService 告诉客户端本服务支持什么
type CapabilitiesService struct {
	remoteexecution.UnimplementedCapabilitiesServer
}

func NewCapabilitiesService() *CapabilitiesService {
	return &CapabilitiesService{}
}

func (s *CapabilitiesService) GetCapabilities(ctx context.Context, req *remoteexecution.GetCapabilitiesRequest) (*remoteexecution.ServerCapabilities, error) {
	return &remoteexecution.ServerCapabilities{
		CacheCapabilities: &remoteexecution.CacheCapabilities{
			DigestFunctions: []remoteexecution.DigestFunction_Value{core.DigestFunction},
			// 只有 CAS，没有 Action Cache
			ActionCacheUpdateCapabilities: &remoteexecution.ActionCacheUpdateCapabilities{UpdateEnabled: false},
			MaxBatchTotalSizeBytes:        MaxBatchTotalSizeBytes,
			SymlinkAbsolutePathStrategy:   remoteexecution.SymlinkAbsolutePathStrategy_DISALLOWED,
		},
		LowApiVersion:  &semver.SemVer{Major: 2},
		HighApiVersion: &semver.SemVer{Major: 2, Minor: 3},
	}, nil
}
