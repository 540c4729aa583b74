package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
}

func TestLoadFrom_ShippedFiles(t *testing.T) {
	req := require.New(t)

	local, err := LoadFrom(".", Local)
	req.NoError(err)
	req.Equal(Local, local.Environment)
	req.Equal("127.0.0.1:8080", local.Server.Addr())
	req.Equal("memory", local.History.Backend)
	req.Equal("debug", local.Log.Level)
	req.True(local.Log.Development)
	req.Equal(256, local.Chat.SendBuffer)
	req.Equal(60*time.Second, local.Chat.PongWait)
	req.Equal(2*time.Second, local.Chat.StoreTimeout)

	prod, err := LoadFrom(".", Production)
	req.NoError(err)
	req.Equal("0.0.0.0:8080", prod.Server.Addr())
	req.Equal("postgres", prod.History.Backend)
	req.Equal([]string{"*"}, prod.Server.Origins())
	req.False(prod.Log.Development)
}

func TestLoadFrom_EnvironmentLayerOverridesBase(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "server:\n  port: 7000\nchat:\n  send_buffer: 8\n")
	writeFile(t, dir, "local.yaml", "server:\n  port: 7001\n")

	cfg, err := LoadFrom(dir, Local)
	req.NoError(err)
	req.Equal(7001, cfg.Server.Port)
	req.Equal(8, cfg.Chat.SendBuffer)
	// Untouched keys keep their defaults.
	req.Equal(3, cfg.Chat.JoinRetries)
}

func TestLoadFrom_EnvOverrides(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "server:\n  port: 7000\n")

	t.Setenv("CHAT_APP_SERVER__PORT", "9000")
	t.Setenv("CHAT_APP_CHAT__PING_INTERVAL", "5s")
	t.Setenv("CHAT_APP_CHAT__PONG_WAIT", "12s")
	t.Setenv("CHAT_APP_CHAT__STORE_TIMEOUT", "750ms")
	t.Setenv("CHAT_APP_HISTORY__BACKEND", "redis")
	t.Setenv("CHAT_APP_REDIS__ADDR", "localhost:6379")
	t.Setenv("CHAT_APP_DATABASE__URL", "postgres://db/chat")
	t.Setenv("CHAT_APP_LOG__DEVELOPMENT", "true")

	cfg, err := LoadFrom(dir, Production)
	req.NoError(err)
	req.Equal(9000, cfg.Server.Port)
	req.Equal(5*time.Second, cfg.Chat.PingInterval)
	req.Equal(12*time.Second, cfg.Chat.PongWait)
	req.Equal(750*time.Millisecond, cfg.Chat.StoreTimeout)
	req.Equal("redis", cfg.History.Backend)
	req.Equal("postgres://db/chat", cfg.Database.DSN())
	req.True(cfg.Log.Development)
}

func TestLoadFrom_Errors(t *testing.T) {
	cases := map[string]struct {
		base string
		env  map[string]string
	}{
		"unknown backend":     {base: "history:\n  backend: sqlite\n"},
		"pong before ping":    {base: "chat:\n  ping_interval: 30s\n  pong_wait: 10s\n"},
		"zero send buffer":    {base: "chat:\n  send_buffer: 0\n"},
		"zero store timeout":  {base: "chat:\n  store_timeout: 0s\n"},
		"bad log level":       {base: "log:\n  level: loud\n"},
		"redis without addr":  {base: "history:\n  backend: redis\n"},
		"region no bucket":    {base: "aws:\n  region: us-east-1\n"},
		"port out of range":   {base: "", env: map[string]string{"CHAT_APP_SERVER__PORT": "70000"}},
		"malformed yaml":      {base: "server: [\n"},
		"wrong type for port": {base: "server:\n  port: eighty\n"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, "base.yaml", tc.base)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := LoadFrom(dir, Local)
			require.Error(t, err)
		})
	}
}

func TestLoadFrom_MissingBase(t *testing.T) {
	_, err := LoadFrom(t.TempDir(), Local)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseEnvironment(t *testing.T) {
	for in, want := range map[string]Environment{
		"":           Local,
		"local":      Local,
		"LOCAL":      Local,
		"prod":       Production,
		"production": Production,
	} {
		got, err := ParseEnvironment(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got)
	}
	_, err := ParseEnvironment("staging")
	require.Error(t, err)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", DBName: "chat", SSLMode: "disable"}
	require.Equal(t, "postgres://u:p@db:5432/chat?sslmode=disable", c.DSN())
}
