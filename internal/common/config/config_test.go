package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/amoylab/wuhost/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveEnv(t *testing.T) {
	t.Setenv("X_A", "va")
	in := []byte("a: ${X_A:da}\nb: ${X_B:db}\nc: ${X_C}")
	out := string(resolveEnv(in))
	assert.Contains(t, out, "a: va")
	assert.Contains(t, out, "b: db")
	assert.Contains(t, out, "c: \n")
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host.BindAddress)
	assert.Equal(t, "9555", cfg.Host.BindPort)
	assert.Equal(t, 512, cfg.Host.MaxSessions)
	assert.Equal(t, engine.DefaultMaxSessions, cfg.Host.MaxSessions)
	assert.Equal(t, 10*time.Millisecond, cfg.Host.ServeInterval)
	assert.Equal(t, "/sdp", cfg.Signaling.Path)
	assert.Equal(t, "memory", cfg.Session.Type)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Nil(t, cfg.Signaling.CORS)
}

func TestParse_ExplicitZeroMaxSessionsIsKept(t *testing.T) {
	cfg, err := Parse([]byte("host:\n  max_sessions: 0\n"))
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Host.MaxSessions)
}

func TestParse_Overrides(t *testing.T) {
	t.Setenv("WUHOST_PORT", "7000")
	yaml := `
host:
  bind_address: 127.0.0.1
  bind_port: "${WUHOST_PORT:9555}"
  max_sessions: 8
  serve_interval: 0s
  read_batch: -3
  permissive_address: true
signaling:
  port: 8080
  cors:
    allow_origins: ["https://a", "https://a", "https://b"]
session:
  type: redis
  redis:
    addr: localhost:6379
    ttl: 5m
admin:
  jwt:
    secret_key: 0123456789abcdef0123456789abcdef
    duration: 1h
`
	cfg, err := Parse([]byte(yaml))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Host.BindAddress)
	assert.Equal(t, "7000", cfg.Host.BindPort)
	assert.Equal(t, 8, cfg.Host.MaxSessions)
	assert.Equal(t, 10*time.Millisecond, cfg.Host.ServeInterval)
	assert.Equal(t, 1, cfg.Host.ReadBatch)
	assert.True(t, cfg.Host.PermissiveAddress)
	assert.Equal(t, 8080, cfg.Signaling.Port)
	require.NotNil(t, cfg.Signaling.CORS)
	assert.Equal(t, []string{"https://a", "https://b"}, cfg.Signaling.CORS.AllowOrigins)
	assert.Equal(t, 5*time.Minute, cfg.Session.Redis.TTL)
	assert.Equal(t, "wuhost", cfg.Session.Redis.Prefix)
	assert.Equal(t, time.Hour, cfg.Admin.JWT.Duration)
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("host: [unterminated"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Host.BindAddress = "::1"
	cfg.Host.BindPort = "70000"
	cfg.Signaling.Path = "sdp"
	cfg.Session.Type = "etcd"
	cfg.Admin.JWT.SecretKey = "short"

	err := Validate(&cfg)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Problems, 5)
	assert.Contains(t, err.Error(), "host.bind_address")
	assert.Contains(t, err.Error(), "unsupported session store")

	cfg = Default()
	cfg.Session.Type = "redis"
	err = Validate(&cfg)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"session.redis.addr is required for the redis store"}, verr.Problems)

	cfg = Default()
	assert.NoError(t, Validate(&cfg))
}

func TestLoadConfig(t *testing.T) {
	tmp := t.TempDir()
	old, _ := os.Getwd()
	t.Cleanup(func() { _ = os.Chdir(old) })
	require.NoError(t, os.Chdir(tmp))

	require.NoError(t, os.WriteFile(".env", []byte("WUHOST_TEST_SESSIONS=3\n"), 0o644))
	require.NoError(t, os.MkdirAll("configs", 0o755))
	content := "host:\n  max_sessions: ${WUHOST_TEST_SESSIONS:1}\n"
	require.NoError(t, os.WriteFile(filepath.Join("configs", "wuhost.yaml"), []byte(content), 0o644))
	t.Cleanup(func() { _ = os.Unsetenv("WUHOST_TEST_SESSIONS") })

	cfg, path, err := LoadConfig("wuhost.yaml")
	require.NoError(t, err)
	assert.Equal(t, "wuhost.yaml", filepath.Base(path))
	assert.Equal(t, 3, cfg.Host.MaxSessions)

	_, _, err = LoadConfig(filepath.Join(tmp, "missing.yaml"))
	assert.Error(t, err)
}
