package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/joshp123/robofleet/internal/backend"
	"github.com/joshp123/robofleet/internal/kv"
	"github.com/joshp123/robofleet/internal/realtime"
)

const (
	SchemaVersion           = 1
	DefaultPath             = "/etc/robofleet/config.yaml"
	DefaultGRPCAddr         = "127.0.0.1:9300"
	DefaultHTTPAddr         = "127.0.0.1:8380"
	DefaultCacheDir         = "/var/lib/robofleet/cache"
	DefaultBackendTimeout   = 15
	DefaultSyncInterval     = 60
	DefaultBatteryThreshold = 20

	DriverMQTT     = "mqtt"
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverS3       = "s3"
	DriverPostgres = "postgres"
)

// Config is the daemon configuration file.
type Config struct {
	SchemaVersion int                 `yaml:"schema_version"`
	Core          CoreConfig          `yaml:"core"`
	Backend       BackendConfig       `yaml:"backend"`
	Realtime      RealtimeConfig      `yaml:"realtime"`
	Cache         CacheConfig         `yaml:"cache"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Log           LogConfig           `yaml:"log"`
	// Identity overrides GET /me, mostly for demo mode.
	Identity *IdentityConfig `yaml:"identity,omitempty"`
}

type CoreConfig struct {
	GRPCAddr string `yaml:"grpc_addr"`
	HTTPAddr string `yaml:"http_addr"`
}

type BackendConfig struct {
	BaseURL           string   `yaml:"base_url"`
	TimeoutSeconds    int      `yaml:"timeout_seconds"`
	RequestsPerMinute int      `yaml:"requests_per_minute"`
	Burst             int      `yaml:"burst"`
	AccessTokenFile   string   `yaml:"access_token_file"`
	TokenURL          string   `yaml:"token_url"`
	ClientID          string   `yaml:"client_id"`
	ClientSecretFile  string   `yaml:"client_secret_file"`
	RefreshTokenFile  string   `yaml:"refresh_token_file"`
	Scopes            []string `yaml:"scopes,omitempty"`

	// accessToken is only set from the environment.
	accessToken string
}

type RealtimeConfig struct {
	Driver                string `yaml:"driver"`
	BrokerURL             string `yaml:"broker_url"`
	Username              string `yaml:"username"`
	PasswordFile          string `yaml:"password_file"`
	ClientIDPrefix        string `yaml:"client_id_prefix"`
	ConnectTimeoutSeconds int    `yaml:"connect_timeout_seconds"`
	ReadTimeoutSeconds    int    `yaml:"read_timeout_seconds"`
}

type CacheConfig struct {
	Driver      string    `yaml:"driver"`
	Dir         string    `yaml:"dir"`
	DatabaseURL string    `yaml:"database_url"`
	S3          *S3Config `yaml:"s3,omitempty"`
}

type S3Config struct {
	Endpoint      string `yaml:"endpoint"`
	Bucket        string `yaml:"bucket"`
	Prefix        string `yaml:"prefix"`
	Region        string `yaml:"region"`
	AccessKeyFile string `yaml:"access_key_file"`
	SecretKeyFile string `yaml:"secret_key_file"`
}

type NotificationsConfig struct {
	BatteryThreshold    int `yaml:"battery_threshold"`
	SyncIntervalSeconds int `yaml:"sync_interval_seconds"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type IdentityConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// Load reads the YAML file, applies .env and ROBOFLEET_* overrides, then
// defaults, and validates.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setString("ROBOFLEET_GRPC_ADDR", &cfg.Core.GRPCAddr)
	setString("ROBOFLEET_HTTP_ADDR", &cfg.Core.HTTPAddr)
	setString("ROBOFLEET_BACKEND_URL", &cfg.Backend.BaseURL)
	setString("ROBOFLEET_ACCESS_TOKEN", &cfg.Backend.accessToken)
	setString("ROBOFLEET_REALTIME_DRIVER", &cfg.Realtime.Driver)
	setString("ROBOFLEET_MQTT_URL", &cfg.Realtime.BrokerURL)
	setString("ROBOFLEET_CACHE_DRIVER", &cfg.Cache.Driver)
	setString("ROBOFLEET_CACHE_DIR", &cfg.Cache.Dir)
	setString("ROBOFLEET_DATABASE_URL", &cfg.Cache.DatabaseURL)
	setString("ROBOFLEET_LOG_LEVEL", &cfg.Log.Level)
	setString("ROBOFLEET_LOG_FORMAT", &cfg.Log.Format)

	if v := strings.TrimSpace(os.Getenv("ROBOFLEET_BATTERY_THRESHOLD")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid ROBOFLEET_BATTERY_THRESHOLD: %w", err)
		}
		cfg.Notifications.BatteryThreshold = n
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Core.GRPCAddr == "" {
		cfg.Core.GRPCAddr = DefaultGRPCAddr
	}
	if cfg.Core.HTTPAddr == "" {
		cfg.Core.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.Backend.TimeoutSeconds == 0 {
		cfg.Backend.TimeoutSeconds = DefaultBackendTimeout
	}
	if cfg.Realtime.Driver == "" {
		cfg.Realtime.Driver = DriverMQTT
	}
	if cfg.Cache.Driver == "" {
		cfg.Cache.Driver = DriverFile
	}
	if cfg.Cache.Driver == DriverFile && cfg.Cache.Dir == "" {
		cfg.Cache.Dir = DefaultCacheDir
	}
	if cfg.Notifications.BatteryThreshold == 0 {
		cfg.Notifications.BatteryThreshold = DefaultBatteryThreshold
	}
	if cfg.Notifications.SyncIntervalSeconds == 0 {
		cfg.Notifications.SyncIntervalSeconds = DefaultSyncInterval
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// Validate enforces invariants the YAML types cannot express.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if cfg.SchemaVersion != SchemaVersion {
		return fmt.Errorf("schema_version must be %d", SchemaVersion)
	}
	if cfg.Core.GRPCAddr == "" {
		return fmt.Errorf("core.grpc_addr is required")
	}
	if cfg.Core.HTTPAddr == "" {
		return fmt.Errorf("core.http_addr is required")
	}

	switch cfg.Realtime.Driver {
	case DriverMQTT:
		if cfg.Realtime.BrokerURL == "" {
			return fmt.Errorf("realtime.broker_url is required for the mqtt driver")
		}
		if cfg.Backend.BaseURL == "" {
			return fmt.Errorf("backend.base_url is required")
		}
		if cfg.Backend.accessToken == "" && cfg.Backend.AccessTokenFile == "" && cfg.Backend.RefreshTokenFile == "" {
			return fmt.Errorf("backend needs access_token_file or refresh_token_file")
		}
		if cfg.Backend.RefreshTokenFile != "" && (cfg.Backend.TokenURL == "" || cfg.Backend.ClientID == "") {
			return fmt.Errorf("backend.token_url and backend.client_id are required with refresh_token_file")
		}
	case DriverMemory:
		if cfg.Identity == nil || cfg.Identity.ID == "" {
			return fmt.Errorf("identity.id is required for the memory driver")
		}
	default:
		return fmt.Errorf("unknown realtime.driver %q", cfg.Realtime.Driver)
	}

	switch cfg.Cache.Driver {
	case DriverFile:
		if cfg.Cache.Dir == "" {
			return fmt.Errorf("cache.dir is required")
		}
	case DriverS3:
		s3 := cfg.Cache.S3
		if s3 == nil || s3.Endpoint == "" || s3.Bucket == "" {
			return fmt.Errorf("cache.s3.endpoint and cache.s3.bucket are required")
		}
		if s3.AccessKeyFile == "" || s3.SecretKeyFile == "" {
			return fmt.Errorf("cache.s3 key files are required")
		}
	case DriverPostgres:
		if cfg.Cache.DatabaseURL == "" {
			return fmt.Errorf("cache.database_url is required for the postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown cache.driver %q", cfg.Cache.Driver)
	}

	if cfg.Notifications.BatteryThreshold < 0 || cfg.Notifications.BatteryThreshold > 100 {
		return fmt.Errorf("notifications.battery_threshold must be between 0 and 100")
	}
	if _, err := parseLevel(cfg.Log.Level); err != nil {
		return err
	}
	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json")
	}
	return nil
}

// BackendClientConfig resolves secret files into a backend client config.
func (c *Config) BackendClientConfig() (backend.Config, error) {
	b := c.Backend
	auth := backend.AuthConfig{
		AccessToken: b.accessToken,
		TokenURL:    b.TokenURL,
		ClientID:    b.ClientID,
		Scopes:      b.Scopes,
	}
	var err error
	if auth.AccessToken == "" && b.AccessTokenFile != "" {
		if auth.AccessToken, err = readSecretFile(b.AccessTokenFile); err != nil {
			return backend.Config{}, fmt.Errorf("read access token: %w", err)
		}
	}
	if b.RefreshTokenFile != "" {
		if auth.RefreshToken, err = readSecretFile(b.RefreshTokenFile); err != nil {
			return backend.Config{}, fmt.Errorf("read refresh token: %w", err)
		}
	}
	if b.ClientSecretFile != "" {
		if auth.ClientSecret, err = readSecretFile(b.ClientSecretFile); err != nil {
			return backend.Config{}, fmt.Errorf("read client secret: %w", err)
		}
	}
	return backend.Config{
		BaseURL:           b.BaseURL,
		Timeout:           time.Duration(b.TimeoutSeconds) * time.Second,
		RequestsPerMinute: b.RequestsPerMinute,
		Burst:             b.Burst,
		Auth:              auth,
	}, nil
}

func (c *Config) MQTTConfig() (realtime.MQTTConfig, error) {
	r := c.Realtime
	cfg := realtime.MQTTConfig{
		BrokerURL:      r.BrokerURL,
		Username:       r.Username,
		ClientIDPrefix: r.ClientIDPrefix,
		ConnectTimeout: time.Duration(r.ConnectTimeoutSeconds) * time.Second,
		ReadTimeout:    time.Duration(r.ReadTimeoutSeconds) * time.Second,
	}
	if r.PasswordFile != "" {
		password, err := readSecretFile(r.PasswordFile)
		if err != nil {
			return realtime.MQTTConfig{}, fmt.Errorf("read mqtt password: %w", err)
		}
		cfg.Password = password
	}
	return cfg, nil
}

func (c *Config) S3CacheConfig() kv.S3Config {
	s3 := c.Cache.S3
	if s3 == nil {
		return kv.S3Config{}
	}
	return kv.S3Config{
		Endpoint:      s3.Endpoint,
		Bucket:        s3.Bucket,
		Prefix:        s3.Prefix,
		Region:        s3.Region,
		AccessKeyFile: s3.AccessKeyFile,
		SecretKeyFile: s3.SecretKeyFile,
	}
}

func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.Notifications.SyncIntervalSeconds) * time.Second
}

// NewLogger builds the process logger from the log section.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(c.Log.Level)
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(raw string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
