package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	SchemaVersion              = 1
	DefaultPath                = "/etc/zinguo/config.yaml"
	DefaultEnvFile             = "/etc/zinguo/zinguo.env"
	DefaultGRPCAddr            = "0.0.0.0:9000"
	DefaultHTTPAddr            = "0.0.0.0:8080"
	DefaultDashboardDir        = "/var/lib/zinguo/dashboards"
	DefaultBaseURL             = "https://iot.zinguo.com/api/v1"
	DefaultLoginPath           = "/customer/login"
	DefaultDevicesPath         = "/customer/devices"
	DefaultControlPath         = "/wifiyuba/yuBaControl"
	DefaultPollInterval        = 30 * time.Second
	DefaultRequestTimeout      = 30 * time.Second
	DefaultOnCode              = 2
	DefaultOffCode             = 1
	DefaultRateLimitPerMinute  = 30
	DefaultTokenStatePath      = "/var/lib/zinguo/session.json"
	DefaultTokenBlobPrefix     = "zinguo/session"
	DefaultMQTTPort            = 1883
	DefaultMQTTTopicPrefix     = "zinguo"
	DefaultMQTTClientID        = "zinguod"
	DefaultInfluxBatchSize     = 100
	DefaultInfluxFlushInterval = 10
	DefaultAuditPath           = "/var/lib/zinguo/audit.db"
	DefaultAuditRetention      = 30 * 24 * time.Hour
	DefaultAuditPruneInterval  = time.Hour
)

// Config is the root of config.yaml.
type Config struct {
	SchemaVersion int              `yaml:"schema_version"`
	Core          CoreConfig       `yaml:"core"`
	Logging       LoggingConfig    `yaml:"logging"`
	Zinguo        *ZinguoConfig    `yaml:"zinguo"`
	RateLimit     RateLimitConfig  `yaml:"rate_limit"`
	TokenStore    TokenStoreConfig `yaml:"token_store"`
	MQTT          MQTTConfig       `yaml:"mqtt"`
	InfluxDB      InfluxDBConfig   `yaml:"influxdb"`
	Audit         AuditConfig      `yaml:"audit"`
}

type CoreConfig struct {
	GRPCAddr     string `yaml:"grpc_addr"`
	HTTPAddr     string `yaml:"http_addr"`
	DashboardDir string `yaml:"dashboard_dir"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// ZinguoConfig describes the single device this daemon follows.
type ZinguoConfig struct {
	Name         string `yaml:"name"`
	Account      string `yaml:"account"`
	Password     string `yaml:"password"`
	PasswordFile string `yaml:"password_file"`
	MAC          string `yaml:"mac"`

	BaseURL     string `yaml:"base_url"`
	LoginPath   string `yaml:"login_path"`
	DevicesPath string `yaml:"devices_path"`
	ControlPath string `yaml:"control_path"`

	PollInterval   time.Duration `yaml:"poll_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Switch codes are provisional until confirmed against device firmware.
	OnCode  *int `yaml:"on_code"`
	OffCode *int `yaml:"off_code"`
}

type RateLimitConfig struct {
	Enabled              *bool `yaml:"enabled"`
	RequestsPerMinute    int   `yaml:"requests_per_minute"`
	BudgetFloorPerMinute int   `yaml:"budget_floor_per_minute"`
}

type TokenStoreConfig struct {
	Enabled           bool   `yaml:"enabled"`
	StatePath         string `yaml:"state_path"`
	BlobEndpoint      string `yaml:"blob_endpoint"`
	BlobBucket        string `yaml:"blob_bucket"`
	BlobPrefix        string `yaml:"blob_prefix"`
	BlobRegion        string `yaml:"blob_region"`
	BlobAccessKeyFile string `yaml:"blob_access_key_file"`
	BlobSecretKeyFile string `yaml:"blob_secret_key_file"`
}

// BlobEnabled reports whether the S3 mirror is configured.
func (c TokenStoreConfig) BlobEnabled() bool {
	return c.BlobEndpoint != ""
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	TLS         bool   `yaml:"tls"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	QoS         int    `yaml:"qos"`
	TopicPrefix string `yaml:"topic_prefix"`
}

type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	// Retention of zero keeps every row.
	Retention     time.Duration `yaml:"retention"`
	PruneInterval time.Duration `yaml:"prune_interval"`
}

// LoadEnvFile exports KEY=value pairs from a dotenv file so the ZINGUO_*
// overrides can live next to the config. Variables already set win, and a
// missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Load parses the YAML config file, applies defaults and env overrides, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Core.GRPCAddr == "" {
		cfg.Core.GRPCAddr = DefaultGRPCAddr
	}
	if cfg.Core.HTTPAddr == "" {
		cfg.Core.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.Core.DashboardDir == "" {
		cfg.Core.DashboardDir = DefaultDashboardDir
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if z := cfg.Zinguo; z != nil {
		if z.BaseURL == "" {
			z.BaseURL = DefaultBaseURL
		}
		z.BaseURL = strings.TrimRight(z.BaseURL, "/")
		if z.LoginPath == "" {
			z.LoginPath = DefaultLoginPath
		}
		if z.DevicesPath == "" {
			z.DevicesPath = DefaultDevicesPath
		}
		if z.ControlPath == "" {
			z.ControlPath = DefaultControlPath
		}
		if z.PollInterval == 0 {
			z.PollInterval = DefaultPollInterval
		}
		if z.RequestTimeout == 0 {
			z.RequestTimeout = DefaultRequestTimeout
		}
		if z.OnCode == nil {
			on := DefaultOnCode
			z.OnCode = &on
		}
		if z.OffCode == nil {
			off := DefaultOffCode
			z.OffCode = &off
		}
		if z.Name == "" {
			z.Name = "Zinguo"
		}
	}

	if cfg.RateLimit.Enabled == nil {
		enabled := true
		cfg.RateLimit.Enabled = &enabled
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = DefaultRateLimitPerMinute
	}

	if cfg.TokenStore.StatePath == "" {
		cfg.TokenStore.StatePath = DefaultTokenStatePath
	}
	if cfg.TokenStore.BlobPrefix == "" {
		cfg.TokenStore.BlobPrefix = DefaultTokenBlobPrefix
	}

	if cfg.MQTT.Port == 0 {
		cfg.MQTT.Port = DefaultMQTTPort
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = DefaultMQTTTopicPrefix
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = DefaultMQTTClientID
	}

	if cfg.InfluxDB.BatchSize <= 0 {
		cfg.InfluxDB.BatchSize = DefaultInfluxBatchSize
	}
	if cfg.InfluxDB.FlushInterval <= 0 {
		cfg.InfluxDB.FlushInterval = DefaultInfluxFlushInterval
	}

	if cfg.Audit.Path == "" {
		cfg.Audit.Path = DefaultAuditPath
	}
	if cfg.Audit.Retention == 0 {
		cfg.Audit.Retention = DefaultAuditRetention
	}
	if cfg.Audit.PruneInterval == 0 {
		cfg.Audit.PruneInterval = DefaultAuditPruneInterval
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ZINGUO_GRPC_ADDR"); v != "" {
		cfg.Core.GRPCAddr = v
	}
	if v := os.Getenv("ZINGUO_HTTP_ADDR"); v != "" {
		cfg.Core.HTTPAddr = v
	}
	if v := os.Getenv("ZINGUO_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	account := os.Getenv("ZINGUO_ACCOUNT")
	password := os.Getenv("ZINGUO_PASSWORD")
	mac := os.Getenv("ZINGUO_MAC")
	if cfg.Zinguo == nil && (account != "" || mac != "") {
		cfg.Zinguo = &ZinguoConfig{}
	}
	if cfg.Zinguo != nil {
		if account != "" {
			cfg.Zinguo.Account = account
		}
		if password != "" {
			cfg.Zinguo.Password = password
		}
		if mac != "" {
			cfg.Zinguo.MAC = mac
		}
	}

	if v := os.Getenv("ZINGUO_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("ZINGUO_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate enforces required invariants beyond YAML typing.
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

	if z := cfg.Zinguo; z != nil {
		if z.Account == "" {
			return fmt.Errorf("zinguo.account is required")
		}
		if z.Password == "" && z.PasswordFile == "" {
			return fmt.Errorf("zinguo.password or zinguo.password_file is required")
		}
		if z.MAC == "" {
			return fmt.Errorf("zinguo.mac is required")
		}
		if z.PollInterval < time.Second {
			return fmt.Errorf("zinguo.poll_interval must be at least 1s")
		}
		if z.RequestTimeout <= 0 {
			return fmt.Errorf("zinguo.request_timeout must be positive")
		}
		if *z.OnCode == *z.OffCode {
			return fmt.Errorf("zinguo.on_code and zinguo.off_code must differ")
		}
	}

	if cfg.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("rate_limit.requests_per_minute must not be negative")
	}
	if cfg.RateLimit.BudgetFloorPerMinute >= cfg.RateLimit.RequestsPerMinute && cfg.RateLimit.BudgetFloorPerMinute > 0 {
		return fmt.Errorf("rate_limit.budget_floor_per_minute must be below requests_per_minute")
	}

	if ts := cfg.TokenStore; ts.Enabled && ts.BlobEnabled() {
		if ts.BlobBucket == "" {
			return fmt.Errorf("token_store.blob_bucket is required")
		}
		if ts.BlobAccessKeyFile == "" {
			return fmt.Errorf("token_store.blob_access_key_file is required")
		}
		if ts.BlobSecretKeyFile == "" {
			return fmt.Errorf("token_store.blob_secret_key_file is required")
		}
	}

	if cfg.MQTT.Enabled {
		if cfg.MQTT.Host == "" {
			return fmt.Errorf("mqtt.host is required")
		}
		if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
	}

	if cfg.InfluxDB.Enabled {
		if cfg.InfluxDB.URL == "" {
			return fmt.Errorf("influxdb.url is required")
		}
		if cfg.InfluxDB.Org == "" || cfg.InfluxDB.Bucket == "" {
			return fmt.Errorf("influxdb.org and influxdb.bucket are required")
		}
	}

	if cfg.Audit.Enabled {
		if cfg.Audit.Retention < 0 {
			return fmt.Errorf("audit.retention must not be negative")
		}
		if cfg.Audit.PruneInterval < time.Minute {
			return fmt.Errorf("audit.prune_interval must be at least 1m")
		}
	}

	return nil
}

// EnabledPlugins maps enabled plugin IDs based on config presence.
func EnabledPlugins(cfg *Config) map[string]bool {
	enabled := make(map[string]bool)
	if cfg == nil {
		return enabled
	}
	if cfg.Zinguo != nil {
		enabled["zinguo"] = true
	}
	return enabled
}

// ResolvePassword returns the inline password or the trimmed contents of password_file.
func (z *ZinguoConfig) ResolvePassword() (string, error) {
	if z.Password != "" {
		return z.Password, nil
	}
	data, err := os.ReadFile(z.PasswordFile)
	if err != nil {
		return "", fmt.Errorf("read zinguo password file: %w", err)
	}
	password := strings.TrimSpace(string(data))
	if password == "" {
		return "", fmt.Errorf("zinguo password file %s is empty", z.PasswordFile)
	}
	return password, nil
}
