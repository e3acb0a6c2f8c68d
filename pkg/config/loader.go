package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Load 初始化 Viper 配置
// cfgFile: 可选，用户显式指定的配置文件路径
func Load(cfgFile string) error {
	// 1. 设置默认值
	setDefaults()

	// 2. 配置搜索路径
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}

		// 搜索顺序：当前目录 -> ./.casvault -> ~/.casvault
		viper.AddConfigPath(".")
		viper.AddConfigPath(".casvault")
		viper.AddConfigPath(filepath.Join(home, ".casvault"))

		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// 3. 环境变量：CAS_STORAGE_TYPE 覆盖 storage.type
	viper.SetEnvPrefix("CAS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// 4. 读取配置文件
	// 没找到配置文件不算错 (可能完全靠默认值和环境变量)，格式错误才算
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("fatal error config file: %w", err)
		}
	}

	return nil
}

// UsedFile 返回实际加载的配置文件，没有则为空
func UsedFile() string {
	return viper.ConfigFileUsed()
}

func setDefaults() {
	// 服务端
	viper.SetDefault("server.addr", ":8980")
	viper.SetDefault("server.max_recv_msg_bytes", 16*1024*1024)
	viper.SetDefault("metrics.addr", "")

	// 日志
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")

	// 存储
	wd, _ := os.Getwd()
	viper.SetDefault("storage.type", "disk")
	viper.SetDefault("storage.path", filepath.Join(wd, ".casvault", "cas"))
	viper.SetDefault("storage.compression.enabled", true)
	viper.SetDefault("storage.compression.level", 2)

	// S3 (storage.type=s3 时生效)
	viper.SetDefault("s3.region", "us-east-1")
	viper.SetDefault("s3.prefix", "cas")

	// Redis 存在性缓存 (redis_url 为空时关闭)
	viper.SetDefault("cache.redis_url", "")
	viper.SetDefault("cache.ttl", 24*time.Hour)

	// Blob 索引 (driver 为空时关闭)
	viper.SetDefault("index.driver", "")
	viper.SetDefault("index.dsn", "")

	// 客户端
	viper.SetDefault("client.addr", "localhost:8980")
	viper.SetDefault("client.concurrency", 4)
}
