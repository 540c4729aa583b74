package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix starts every environment override. Nested keys are joined with
// a double underscore: CHAT_APP_SERVER__PORT=9000.
const EnvPrefix = "CHAT_APP_"

// Environment selects the second YAML layer.
type Environment string

const (
	Local      Environment = "local"
	Production Environment = "prod"
)

// ParseEnvironment accepts local and prod (production is an alias).
func ParseEnvironment(s string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "local":
		return Local, nil
	case "prod", "production":
		return Production, nil
	}
	return "", fmt.Errorf("unsupported environment %q: use local or prod", s)
}

// Config holds application configuration.
type Config struct {
	Environment Environment    `yaml:"-"`
	Server      ServerConfig   `yaml:"server"`
	Chat        ChatConfig     `yaml:"chat"`
	History     HistoryConfig  `yaml:"history"`
	Database    DatabaseConfig `yaml:"database"`
	Redis       RedisConfig    `yaml:"redis"`
	AWS         AWSConfig      `yaml:"aws"`
	Log         LogConfig      `yaml:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host" validate:"required"`
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
	// comma-separated, or "*" for all (e.g. http://localhost:3000,http://localhost:3001)
	CORSAllowedOrigins string `yaml:"cors_allowed_origins"`
}

// Addr returns host:port for http.Server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Origins splits CORSAllowedOrigins.
func (s ServerConfig) Origins() []string {
	return splitTrim(s.CORSAllowedOrigins, ",")
}

// ChatConfig tunes the hub and the WebSocket transport.
type ChatConfig struct {
	SendBuffer    int           `yaml:"send_buffer" validate:"min=1"`
	JoinRetries   int           `yaml:"join_retries" validate:"min=1"`
	RetryBackoff  time.Duration `yaml:"retry_backoff" validate:"gt=0"`
	StoreTimeout  time.Duration `yaml:"store_timeout" validate:"gt=0"`
	PingInterval  time.Duration `yaml:"ping_interval" validate:"gt=0"`
	PongWait      time.Duration `yaml:"pong_wait" validate:"gtfield=PingInterval"`
	WriteWait     time.Duration `yaml:"write_wait" validate:"gt=0"`
	MaxFrameBytes int64         `yaml:"max_frame_bytes" validate:"min=64"`
}

// HistoryConfig selects the log backend.
type HistoryConfig struct {
	Backend  string `yaml:"backend" validate:"oneof=memory postgres redis"`
	RedisKey string `yaml:"redis_key"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string `yaml:"url"` // if set, used as-is
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int32  `yaml:"max_conns" validate:"min=0"`
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// RedisConfig holds Redis connection settings. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"min=0"`
}

// AWSConfig holds the archive bucket. An empty Region disables S3.
type AWSConfig struct {
	Region               string `yaml:"region"`
	AccessKeyID          string `yaml:"access_key_id"`
	SecretAccessKey      string `yaml:"secret_access_key"`
	ArchiveBucket        string `yaml:"archive_bucket" validate:"required_with=Region"`
	PresignExpireMinutes int    `yaml:"presign_expire_minutes" validate:"min=1"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level       string `yaml:"level" validate:"oneof=debug info warn error"`
	Development bool   `yaml:"development"`
}

// Default returns the configuration used when no file sets a value.
func Default() *Config {
	return &Config{
		Environment: Local,
		Server: ServerConfig{
			Host:               "127.0.0.1",
			Port:               8080,
			ReadTimeout:        30 * time.Second,
			WriteTimeout:       30 * time.Second,
			ShutdownTimeout:    10 * time.Second,
			CORSAllowedOrigins: "http://localhost:3000,http://localhost:3001",
		},
		Chat: ChatConfig{
			SendBuffer:    256,
			JoinRetries:   3,
			RetryBackoff:  100 * time.Millisecond,
			StoreTimeout:  2 * time.Second,
			PingInterval:  30 * time.Second,
			PongWait:      60 * time.Second,
			WriteWait:     10 * time.Second,
			MaxFrameBytes: 64 * 1024,
		},
		History: HistoryConfig{Backend: "memory", RedisKey: "chat:history"},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			User:    "postgres",
			DBName:  "chat",
			SSLMode: "disable",
		},
		AWS: AWSConfig{PresignExpireMinutes: 15},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads .env, then config/base.yaml and config/<environment>.yaml, then
// CHAT_APP_ overrides. CHAT_APP_ENVIRONMENT picks the environment and
// CHAT_APP_CONFIG_DIR the directory.
func Load() (*Config, error) {
	_ = godotenv.Load() // .env

	env, err := ParseEnvironment(os.Getenv(EnvPrefix + "ENVIRONMENT"))
	if err != nil {
		return nil, err
	}
	return LoadFrom(getEnv(EnvPrefix+"CONFIG_DIR", "config"), env)
}

// LoadFrom layers dir/base.yaml, dir/<env>.yaml and the environment over
// Default and validates the result. base.yaml must exist.
func LoadFrom(dir string, env Environment) (*Config, error) {
	cfg := Default()
	cfg.Environment = env

	if err := readYAML(filepath.Join(dir, "base.yaml"), cfg, true); err != nil {
		return nil, err
	}
	if err := readYAML(filepath.Join(dir, string(env)+".yaml"), cfg, false); err != nil {
		return nil, err
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field ranges and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.History.Backend == "redis" && c.Redis.Addr == "" {
		return errors.New("invalid config: history.backend redis needs redis.addr")
	}
	return nil
}

func readYAML(path string, cfg *Config, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func applyEnv(c *Config) {
	c.Server.Host = getEnv(key("SERVER", "HOST"), c.Server.Host)
	c.Server.Port = getEnvInt(key("SERVER", "PORT"), c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration(key("SERVER", "READ_TIMEOUT"), c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration(key("SERVER", "WRITE_TIMEOUT"), c.Server.WriteTimeout)
	c.Server.ShutdownTimeout = getEnvDuration(key("SERVER", "SHUTDOWN_TIMEOUT"), c.Server.ShutdownTimeout)
	c.Server.CORSAllowedOrigins = getEnv(key("SERVER", "CORS_ALLOWED_ORIGINS"), c.Server.CORSAllowedOrigins)

	c.Chat.SendBuffer = getEnvInt(key("CHAT", "SEND_BUFFER"), c.Chat.SendBuffer)
	c.Chat.JoinRetries = getEnvInt(key("CHAT", "JOIN_RETRIES"), c.Chat.JoinRetries)
	c.Chat.RetryBackoff = getEnvDuration(key("CHAT", "RETRY_BACKOFF"), c.Chat.RetryBackoff)
	c.Chat.StoreTimeout = getEnvDuration(key("CHAT", "STORE_TIMEOUT"), c.Chat.StoreTimeout)
	c.Chat.PingInterval = getEnvDuration(key("CHAT", "PING_INTERVAL"), c.Chat.PingInterval)
	c.Chat.PongWait = getEnvDuration(key("CHAT", "PONG_WAIT"), c.Chat.PongWait)
	c.Chat.WriteWait = getEnvDuration(key("CHAT", "WRITE_WAIT"), c.Chat.WriteWait)
	c.Chat.MaxFrameBytes = int64(getEnvInt(key("CHAT", "MAX_FRAME_BYTES"), int(c.Chat.MaxFrameBytes)))

	c.History.Backend = getEnv(key("HISTORY", "BACKEND"), c.History.Backend)
	c.History.RedisKey = getEnv(key("HISTORY", "REDIS_KEY"), c.History.RedisKey)

	c.Database.URL = getEnv(key("DATABASE", "URL"), c.Database.URL)
	c.Database.Host = getEnv(key("DATABASE", "HOST"), c.Database.Host)
	c.Database.Port = getEnvInt(key("DATABASE", "PORT"), c.Database.Port)
	c.Database.User = getEnv(key("DATABASE", "USER"), c.Database.User)
	c.Database.Password = getEnv(key("DATABASE", "PASSWORD"), c.Database.Password)
	c.Database.DBName = getEnv(key("DATABASE", "NAME"), c.Database.DBName)
	c.Database.SSLMode = getEnv(key("DATABASE", "SSL_MODE"), c.Database.SSLMode)
	c.Database.MaxConns = int32(getEnvInt(key("DATABASE", "MAX_CONNS"), int(c.Database.MaxConns)))

	c.Redis.Addr = getEnv(key("REDIS", "ADDR"), c.Redis.Addr)
	c.Redis.Password = getEnv(key("REDIS", "PASSWORD"), c.Redis.Password)
	c.Redis.DB = getEnvInt(key("REDIS", "DB"), c.Redis.DB)

	c.AWS.Region = getEnv(key("AWS", "REGION"), c.AWS.Region)
	c.AWS.AccessKeyID = getEnv(key("AWS", "ACCESS_KEY_ID"), c.AWS.AccessKeyID)
	c.AWS.SecretAccessKey = getEnv(key("AWS", "SECRET_ACCESS_KEY"), c.AWS.SecretAccessKey)
	c.AWS.ArchiveBucket = getEnv(key("AWS", "ARCHIVE_BUCKET"), c.AWS.ArchiveBucket)
	c.AWS.PresignExpireMinutes = getEnvInt(key("AWS", "PRESIGN_EXPIRE_MINUTES"), c.AWS.PresignExpireMinutes)

	c.Log.Level = getEnv(key("LOG", "LEVEL"), c.Log.Level)
	c.Log.Development = getEnvBool(key("LOG", "DEVELOPMENT"), c.Log.Development)
}

func key(section, name string) string {
	return EnvPrefix + section + "__" + name
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
