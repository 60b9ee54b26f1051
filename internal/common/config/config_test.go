package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveEnv(t *testing.T) {
	t.Setenv("X_A", "va")
	in := []byte("a: ${X_A:da}\nb: ${X_B:db}")
	out := resolveEnv(in)
	assert.Contains(t, string(out), "a: va")
	assert.Contains(t, string(out), "b: db")
}

func TestLoadConfig_ChatServer(t *testing.T) {
	tmp := t.TempDir()
	old, _ := os.Getwd()
	t.Cleanup(func() { _ = os.Chdir(old) })
	_ = os.Chdir(tmp)

	t.Setenv("ROOMHUB_REDIS_ADDR", "127.0.0.1:6379")
	yaml := `
port: 6000
logger:
  level: debug
  format: console
storage:
  type: redis
  redis:
    addr: ${ROOMHUB_REDIS_ADDR:localhost:6379}
    prefix: ${ROOMHUB_PREFIX:chat}
websocket:
  send_queue_size: 8
  pong_wait: 20s
  ping_period: 30s
`
	file := filepath.Join(tmp, "chatserver.yaml")
	require.NoError(t, os.WriteFile(file, []byte(yaml), 0o644))

	cfg, path, err := LoadConfig[ChatServerConfig]("chatserver.yaml")
	require.NoError(t, err)
	realFile, _ := filepath.EvalSymlinks(file)
	realPath, _ := filepath.EvalSymlinks(path)
	assert.Equal(t, realFile, realPath)

	assert.Equal(t, 6000, cfg.Port)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, "redis", cfg.Storage.Type)
	assert.Equal(t, "127.0.0.1:6379", cfg.Storage.Redis.Addr)
	assert.Equal(t, "chat", cfg.Storage.Redis.Prefix)
	assert.Equal(t, "single", cfg.Storage.Redis.ClusterType)
	assert.Equal(t, 8, cfg.WebSocket.SendQueueSize)
	// ping period longer than pong wait is pulled below it
	assert.Equal(t, 18*time.Second, cfg.WebSocket.PingPeriod)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	tmp := t.TempDir()
	_, _, err := LoadConfig[ChatServerConfig](filepath.Join(tmp, "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tmp := t.TempDir()
	file := filepath.Join(tmp, "bad.yaml")
	require.NoError(t, os.WriteFile(file, []byte("storage:\n  type: cassandra\n"), 0o644))

	_, _, err := LoadConfig[ChatServerConfig](file)
	var vErr *ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestSetDefaults(t *testing.T) {
	var cfg ChatServerConfig
	cfg.SetDefaults()

	assert.Equal(t, 5235, cfg.Port)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, 256, cfg.WebSocket.SendQueueSize)
	assert.Equal(t, 10*time.Second, cfg.WebSocket.WriteWait)
	assert.Equal(t, 60*time.Second, cfg.WebSocket.PongWait)
	assert.Equal(t, 54*time.Second, cfg.WebSocket.PingPeriod)
	assert.Equal(t, int64(64*1024), cfg.WebSocket.MaxMessageSize)
	assert.Equal(t, "roomhub", cfg.Metrics.Namespace)
	assert.Equal(t, "roomhub", cfg.Tracing.ServiceName)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	cfg := ChatServerConfig{Port: 70000}
	cfg.Storage.Type = "db"
	cfg.Storage.Database.Type = "oracle"
	err := cfg.Validate()
	var vErr *ValidationError
	assert.ErrorAs(t, err, &vErr)
	assert.Len(t, vErr.Fields, 3)
	assert.Contains(t, err.Error(), "storage.database.dbname")

	cfg = ChatServerConfig{}
	cfg.Storage.Type = "redis"
	cfg.Storage.Redis.ClusterType = "sentinel"
	err = cfg.Validate()
	assert.ErrorAs(t, err, &vErr)
	assert.Len(t, vErr.Fields, 2)
}
