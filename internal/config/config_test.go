package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mautops/batch-approval/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// TestLoad_FromFile 测试从配置文件加载配置
func TestLoad_FromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
database:
  driver: sqlite
  path: /tmp/batch.db
events:
  workers: 2
  webhooks:
    - url: http://hooks.local/batch
      events: ["batch.approved"]
refresh:
  views: ["submission_stats"]
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/tmp/batch.db", cfg.Database.Path)
	assert.Equal(t, 2, cfg.Events.Workers)
	assert.Equal(t, 3, cfg.Events.MaxRetries)
	require.Len(t, cfg.Events.Webhooks, 1)
	assert.Equal(t, []string{"batch.approved"}, cfg.Events.Webhooks[0].Events)
	assert.Equal(t, []string{"submission_stats"}, cfg.Refresh.Views)
}

// TestLoad_FromEnv 测试环境变量覆盖
func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("APP_SERVER_PORT", "9090")
	t.Setenv("APP_DATABASE_HOST", "db.example.com")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "db.example.com", cfg.Database.Host)
}

// TestDefault 测试默认配置
func TestDefault(t *testing.T) {
	cfg := config.Default()

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "*/5 * * * *", cfg.Repair.Schedule)
	assert.Equal(t, 5, cfg.Events.Workers)
	assert.Empty(t, cfg.OpenFGA.APIURL)
	assert.False(t, config.IsProduction(cfg))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfigWatcher_Reload(t *testing.T) {
	path := writeConfig(t, "log:\n  level: info\n")
	cfg, err := config.Load(path)
	require.NoError(t, err)

	watcher := config.NewConfigWatcher(cfg, path, nil)

	var levels []string
	watcher.OnConfigChange(func(c *config.Config) {
		levels = append(levels, c.Log.Level)
	})

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: warn\n"), 0o600))
	require.NoError(t, watcher.Reload())

	assert.Contains(t, levels, "warn")
	assert.Equal(t, "warn", watcher.GetConfig().Log.Level)
}

func TestConfigWatcher_DetectsFileChange(t *testing.T) {
	path := writeConfig(t, "log:\n  level: info\n")
	cfg, err := config.Load(path)
	require.NoError(t, err)

	watcher := config.NewConfigWatcher(cfg, path, nil)
	changed := make(chan string, 4)
	watcher.OnConfigChange(func(c *config.Config) { changed <- c.Log.Level })
	require.NoError(t, watcher.Start())
	defer watcher.Stop()

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: error\n"), 0o600))

	select {
	case level := <-changed:
		assert.Equal(t, "error", level)
	case <-time.After(5 * time.Second):
		t.Fatal("config change not detected")
	}
	assert.Equal(t, "error", watcher.GetConfig().Log.Level)
}

func TestConfigWatcher_KeepsConfigOnInvalidFile(t *testing.T) {
	path := writeConfig(t, "log:\n  level: info\n")
	cfg, err := config.Load(path)
	require.NoError(t, err)

	watcher := config.NewConfigWatcher(cfg, path, nil)
	require.NoError(t, os.WriteFile(path, []byte("log: [unclosed\n"), 0o600))
	assert.Error(t, watcher.Reload())
	assert.Equal(t, "info", watcher.GetConfig().Log.Level)
}
