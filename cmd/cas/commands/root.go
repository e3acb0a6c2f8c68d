package commands

import (
	"fmt"
	"log/slog"
	"os"

	"casvault/pkg/client"
	"casvault/pkg/config"
	"casvault/pkg/logging"
	"casvault/pkg/types"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	// 远端客户端，第一次使用时创建 (测试里可以预先注入)
	remote *client.Client
)

var rootCmd = &cobra.Command{
	Use:           "cas",
	Short:         "casvault: content-addressable storage client",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute 是入口
func Execute() error {
	defer func() {
		if remote != nil {
			_ = remote.Close()
		}
	}()
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.casvault/config.yaml)")

	// 既可以在 yaml 里写，也可以用参数覆盖
	rootCmd.PersistentFlags().String("addr", "", "server address (default localhost:8980)")
	rootCmd.PersistentFlags().Int("concurrency", 0, "parallel batch requests")
	mustBind("client.addr", "addr")
	mustBind("client.concurrency", "concurrency")
}

func mustBind(key, flag string) {
	if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		fmt.Println("Failed to bind flag:", err)
		os.Exit(1)
	}
}

func initConfig() {
	if err := config.Load(cfgFile); err != nil {
		fmt.Println("Config error:", err)
		os.Exit(1)
	}
	logger, err := logging.New(os.Stderr, viper.GetString("log.level"), viper.GetString("log.format"))
	if err != nil {
		fmt.Println("Config error:", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)
}

// GetRemoteClient 按配置创建客户端 (只创建一次)
func GetRemoteClient() (*client.Client, error) {
	if remote != nil {
		return remote, nil
	}
	addr := viper.GetString("client.addr")
	c, err := client.New(addr, client.WithConcurrency(viper.GetInt("client.concurrency")))
	if err != nil {
		return nil, err
	}
	remote = c
	return remote, nil
}

// parseDigests 解析 "hash/size" 参数
func parseDigests(args []string) ([]types.Digest, error) {
	out := make([]types.Digest, 0, len(args))
	for _, a := range args {
		d, err := types.ParseDigest(a)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
