package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Chdir(t.TempDir())

	require.NoError(t, Load(""))
	assert.Equal(t, ":8980", viper.GetString("server.addr"))
	assert.Equal(t, "disk", viper.GetString("storage.type"))
	assert.Equal(t, 24*time.Hour, viper.GetDuration("cache.ttl"))
	assert.Empty(t, UsedFile())
}

func TestLoad_FileAndEnv(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.yaml")
	content := "storage:\n  type: memory\nlog:\n  level: debug\n"
	require.NoError(t, os.WriteFile(cfgFile, []byte(content), 0644))

	// 环境变量优先于配置文件
	t.Setenv("CAS_LOG_LEVEL", "warn")

	require.NoError(t, Load(cfgFile))
	assert.Equal(t, "memory", viper.GetString("storage.type"))
	assert.Equal(t, "warn", viper.GetString("log.level"))
	assert.Equal(t, cfgFile, UsedFile())
}

func TestLoad_BrokenFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfgFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("storage: [unclosed"), 0644))

	assert.Error(t, Load(cfgFile))
}
