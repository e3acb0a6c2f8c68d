package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"casvault/pkg/app"
	"casvault/pkg/config"
	"casvault/pkg/logging"
	"casvault/pkg/server"

	"github.com/spf13/viper"
)

func main() {
	// 1. Load Config
	cfgFile := flag.String("config", "", "config file (default is $HOME/.casvault/config.yaml)")
	flag.Parse()

	if err := config.Load(*cfgFile); err != nil {
		log.Fatalf("❌ Config error: %v", err)
	}

	logger, err := logging.New(os.Stderr, viper.GetString("log.level"), viper.GetString("log.format"))
	if err != nil {
		log.Fatalf("❌ Config error: %v", err)
	}
	slog.SetDefault(logger)
	if f := config.UsedFile(); f != "" {
		logger.Info("using config file", slog.String("path", f))
	}

	// 2. Init storage chain
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApp(ctx, logger)
	if err != nil {
		logger.Error("failed to initialize app", slog.Any("err", err))
		os.Exit(1)
	}
	defer application.Close()

	// 3. Setup Network
	addr := viper.GetString("server.addr")
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Error("failed to listen", slog.String("addr", addr), slog.Any("err", err))
		os.Exit(1)
	}

	// 4. Setup gRPC Server
	srv := server.New(server.Config{
		Addr:            addr,
		MetricsAddr:     viper.GetString("metrics.addr"),
		MaxRecvMsgBytes: viper.GetInt("server.max_recv_msg_bytes"),
	}, application.Store, logger)

	// 5. Start Server (Async)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(lis)
	}()

	// 6. Graceful Shutdown
	select {
	case <-ctx.Done():
		logger.Info("shutting down server")
	case err := <-serveErr:
		logger.Error("server stopped unexpectedly", slog.Any("err", err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	srv.Stop(shutdownCtx)
	logger.Info("server stopped")
}
