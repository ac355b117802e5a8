package webconfig

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

type ServerConfig struct {
	Port        int      `json:"port"`
	Bind        string   `json:"bind"`
	CORSOrigins []string `json:"cors_origins"`
}

type AuthConfig struct {
	JWTSecret string `json:"jwt_secret"`
	JWTExpire string `json:"jwt_expire"`
}

type DatabaseConfig struct {
	Driver      string `json:"driver"`
	SQLitePath  string `json:"sqlite_path"`
	PostgresDSN string `json:"postgres_dsn"`
}

type LogConfig struct {
	Level      string `json:"level"`
	Mode       string `json:"mode"`
	FilePath   string `json:"file_path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
	Compress   bool   `json:"compress"`
}

// RetentionConfig 事件日志保留策略
type RetentionConfig struct {
	Days int `json:"days"`
}

type AlertConfig struct {
	GlobalGapSeconds int `json:"global_gap_seconds"`
}

type CacheConfig struct {
	QueryLagSeconds  int `json:"query_lag_seconds"`
	WidgetLagSeconds int `json:"widget_lag_seconds"`
	SweepSeconds     int `json:"sweep_seconds"`
}

type Config struct {
	Server    ServerConfig    `json:"server"`
	Auth      AuthConfig      `json:"auth"`
	Database  DatabaseConfig  `json:"database"`
	Log       LogConfig       `json:"log"`
	Retention RetentionConfig `json:"retention"`
	Alert     AlertConfig     `json:"alert"`
	Cache     CacheConfig     `json:"cache"`
}

// defaultDataDir 返回 ipsentry 自身的数据目录（存放 ipsentry.db/json/log）
func defaultDataDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "./data"
	}
	return filepath.Join(filepath.Dir(exe), "data")
}

func Default() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port:        18811,
			Bind:        "0.0.0.0",
			CORSOrigins: []string{},
		},
		Auth: AuthConfig{
			JWTSecret: "",
			JWTExpire: "24h",
		},
		Database: DatabaseConfig{
			Driver:     "sqlite",
			SQLitePath: filepath.Join(dataDir, "ipsentry.db"),
		},
		Log: LogConfig{
			Level:      "info",
			Mode:       "production",
			FilePath:   filepath.Join(dataDir, "ipsentry.log"),
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Retention: RetentionConfig{
			Days: 30,
		},
		Alert: AlertConfig{
			GlobalGapSeconds: 30,
		},
		Cache: CacheConfig{
			QueryLagSeconds:  60,
			WidgetLagSeconds: 120,
			SweepSeconds:     60,
		},
	}
}

func ConfigPath() string {
	if custom := strings.TrimSpace(os.Getenv("IPS_CONFIG")); custom != "" {
		return custom
	}
	return filepath.Join(defaultDataDir(), "ipsentry.json")
}

func Load() (Config, error) {
	cfg := Default()

	// Layer 1: config file
	path := ConfigPath()
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, err
	}
	if err == nil && len(strings.TrimSpace(string(data))) > 0 {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Default(), err
		}
	}

	// Layer 2: environment variables override
	applyEnvOverrides(&cfg)

	// Layer 3: generate JWT secret if empty and persist it
	if cfg.Auth.JWTSecret == "" {
		secret, err := generateSecret(32)
		if err != nil {
			return cfg, err
		}
		cfg.Auth.JWTSecret = secret
		// Persist so the secret survives restarts
		_ = Save(cfg)
	}

	return cfg, nil
}

func Save(cfg Config) error {
	path := ConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

func (c *Config) ListenAddr() string {
	return c.Server.Bind + ":" + strconv.Itoa(c.Server.Port)
}

func (c *Config) JWTExpireDuration() time.Duration {
	d, err := time.ParseDuration(c.Auth.JWTExpire)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

func (c *Config) IsDebug() bool {
	return strings.EqualFold(c.Log.Mode, "debug")
}

func (c *Config) RetentionWindow() time.Duration {
	days := c.Retention.Days
	if days <= 0 {
		days = 30
	}
	return time.Duration(days) * 24 * time.Hour
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("IPS_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("IPS_BIND"); v != "" {
		cfg.Server.Bind = v
	}
	if v := os.Getenv("IPS_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("IPS_DB_SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("IPS_DB_DSN"); v != "" {
		cfg.Database.PostgresDSN = v
	}
	if v := os.Getenv("IPS_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("IPS_JWT_EXPIRE"); v != "" {
		cfg.Auth.JWTExpire = v
	}
	if v := os.Getenv("IPS_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("IPS_LOG_MODE"); v != "" {
		cfg.Log.Mode = v
	}
	if v := os.Getenv("IPS_LOG_FILE"); v != "" {
		cfg.Log.FilePath = v
	}
	if v := os.Getenv("IPS_RETENTION_DAYS"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Retention.Days = p
		}
	}
	if v := os.Getenv("IPS_ALERT_GLOBAL_GAP"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Alert.GlobalGapSeconds = p
		}
	}
	if v := os.Getenv("IPS_CACHE_QUERY_LAG"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Cache.QueryLagSeconds = p
		}
	}
	if v := os.Getenv("IPS_CACHE_WIDGET_LAG"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Cache.WidgetLagSeconds = p
		}
	}
	if v := os.Getenv("IPS_CACHE_SWEEP"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Cache.SweepSeconds = p
		}
	}
}

func generateSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
