package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"casvault/pkg/service"
	"casvault/pkg/storage"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
)

// DefaultMaxRecvMsgBytes 需要容纳一个 MaxBatchTotalSizeBytes 的批量请求加上 protobuf 开销
const DefaultMaxRecvMsgBytes = 16 * 1024 * 1024

type Config struct {
	Addr            string // gRPC 监听地址，例如 ":8980"
	MetricsAddr     string // 为空时不启动 /metrics
	MaxRecvMsgBytes int
}

// Server 组装 gRPC 服务、健康检查和指标
type Server struct {
	cfg     Config
	logger  *slog.Logger
	grpc    *grpc.Server
	health  *health.Server
	metrics *Metrics
	http    *http.Server
}

func New(cfg Config, store storage.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRecvMsgBytes <= 0 {
		cfg.MaxRecvMsgBytes = DefaultMaxRecvMsgBytes
	}

	metrics := NewMetrics()

	// 拦截器顺序：日志和指标在外层，恢复在最内层，这样 panic 也会以 Internal 记录下来
	grpcServer := grpc.NewServer(
		grpc.MaxRecvMsgSize(cfg.MaxRecvMsgBytes),
		grpc.KeepaliveParams(keepalive.ServerParameters{Time: 2 * time.Minute}),
		// 客户端每 10s 发一次 keepalive ping，策略必须放行，否则连接会被 GOAWAY
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: 5 * time.Second, PermitWithoutStream: true}),
		grpc.ChainUnaryInterceptor(
			UnaryLoggingInterceptor(logger),
			metrics.UnaryInterceptor(),
			UnaryRecoveryInterceptor(logger),
		),
		grpc.ChainStreamInterceptor(
			StreamLoggingInterceptor(logger),
			metrics.StreamInterceptor(),
			StreamRecoveryInterceptor(logger),
		),
	)

	remoteexecution.RegisterContentAddressableStorageServer(grpcServer, service.NewCASService(store, logger))
	remoteexecution.RegisterCapabilitiesServer(grpcServer, service.NewCapabilitiesService())

	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthSrv.SetServingStatus(remoteexecution.ContentAddressableStorage_ServiceDesc.ServiceName, healthpb.HealthCheckResponse_SERVING)

	// 方便 grpcurl 调试
	reflection.Register(grpcServer)

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		grpc:    grpcServer,
		health:  healthSrv,
		metrics: metrics,
	}
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		s.http = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}
	return s
}

// Serve 阻塞直到 listener 关闭或 Stop 被调用
func (s *Server) Serve(lis net.Listener) error {
	if s.http != nil {
		go func() {
			s.logger.Info("metrics endpoint listening", slog.String("addr", s.cfg.MetricsAddr))
			if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("metrics endpoint failed", slog.Any("err", err))
			}
		}()
	}

	s.logger.Info("grpc server listening", slog.String("addr", lis.Addr().String()))
	return s.grpc.Serve(lis)
}

// Stop 优雅关闭：先标记 NOT_SERVING，再等待在途请求完成
// ctx 到期后强制关闭
func (s *Server) Stop(ctx context.Context) {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("graceful stop timed out, forcing shutdown")
		s.grpc.Stop()
	}

	if s.http != nil {
		_ = s.http.Shutdown(ctx)
	}
}

func (s *Server) Metrics() *Metrics { return s.metrics }
