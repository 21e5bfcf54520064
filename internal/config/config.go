package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultHTTPPort        = 5010
	defaultTokenTTL        = 3600
	defaultWaitURL         = "http://twimlets.com/holdmusic?Bucket=com.twilio.music.classical"
	defaultJWTSecret       = "change_this_secret"
	defaultTwilioAPIBase   = "https://api.twilio.com"
	defaultUploadMaxBytes  = 10 << 20
	defaultCallSessionTTL  = 0
	defaultWebSocketBuffer = 256
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Auth       AuthConfig       `yaml:"auth"`
	Twilio     TwilioConfig     `yaml:"twilio"`
	Calls      CallsConfig      `yaml:"calls"`
	Uploads    UploadsConfig    `yaml:"uploads"`
	Storage    StorageConfig    `yaml:"storage"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type APIConfig struct {
	HTTP      APIHTTPConfig      `yaml:"http"`
	CORS      CORSConfig         `yaml:"cors"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Port int `yaml:"port"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type TwilioConfig struct {
	AccountSID        string `yaml:"account_sid"`
	AuthToken         string `yaml:"auth_token"`
	APIKeySID         string `yaml:"api_key_sid"`
	APIKeySecret      string `yaml:"api_key_secret"`
	FromNumber        string `yaml:"from_number"`
	TwiMLAppSID       string `yaml:"twiml_app_sid"`
	TokenTTL          int    `yaml:"token_ttl"`
	ConferenceWaitURL string `yaml:"conference_wait_url"`
	PublicBaseURL     string `yaml:"public_base_url"`
	APIBaseURL        string `yaml:"api_base_url"`
}

// RESTConfigured reports whether outbound calls can be placed.
func (t TwilioConfig) RESTConfigured() bool {
	if t.AccountSID == "" || t.FromNumber == "" {
		return false
	}
	return t.AuthToken != "" || (t.APIKeySID != "" && t.APIKeySecret != "")
}

// TokenConfigured reports whether Voice access tokens can be minted.
func (t TwilioConfig) TokenConfigured() bool {
	return t.AccountSID != "" && t.APIKeySID != "" && t.APIKeySecret != ""
}

type CallsConfig struct {
	Store      string        `yaml:"store"`
	SessionTTL time.Duration `yaml:"session_ttl"`
	SendBuffer int           `yaml:"send_buffer"`
}

type UploadsConfig struct {
	MaxBytes int64 `yaml:"max_bytes"`
}

type StorageConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type DatabaseConfig struct {
	Driver   string         `yaml:"driver"`
	Path     string         `yaml:"path"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type PostgresConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	DBName         string `yaml:"dbname"`
	SSLMode        string `yaml:"sslmode"`
	MaxConnections int    `yaml:"max_connections"`
}

// DSN builds a lib/pq connection string.
func (p PostgresConfig) DSN() string {
	parts := []string{
		fmt.Sprintf("host=%s", p.Host),
		fmt.Sprintf("port=%d", p.Port),
		fmt.Sprintf("dbname=%s", p.DBName),
		fmt.Sprintf("sslmode=%s", p.SSLMode),
	}
	if p.User != "" {
		parts = append(parts, fmt.Sprintf("user=%s", p.User))
	}
	if p.Password != "" {
		parts = append(parts, fmt.Sprintf("password='%s'", strings.ReplaceAll(p.Password, "'", `\'`)))
	}
	return strings.Join(parts, " ")
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional in deployments that inject the environment directly.
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyEnvOverrides()
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return errors.New("database path is required")
		}
	case DriverPostgres:
		if c.Database.Postgres.Host == "" || c.Database.Postgres.DBName == "" {
			return errors.New("postgres host and dbname are required")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	if c.Auth.JWTSecret == "" {
		return errors.New("jwt secret is required")
	}
	if c.Auth.JWTSecret == defaultJWTSecret && strings.EqualFold(c.App.Environment, "production") {
		return errors.New("jwt secret must be changed in production")
	}

	if c.API.RateLimit.RPS < 0 || c.API.RateLimit.Burst < 0 {
		return errors.New("rate limit values must be non-negative")
	}

	switch c.Calls.Store {
	case "memory", "redis", "failover":
	default:
		return fmt.Errorf("unknown calls store %q", c.Calls.Store)
	}
	if c.Calls.Store != "memory" && c.Redis.Address == "" {
		return fmt.Errorf("calls store %q requires redis.address", c.Calls.Store)
	}

	if c.Storage.Enabled && (c.Storage.Endpoint == "" || c.Storage.Bucket == "") {
		return errors.New("storage endpoint and bucket are required when storage is enabled")
	}

	return nil
}

// applyEnvOverrides maps the plain deployment variables onto the config tree.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DB_HOST"); v != "" {
		c.Database.Driver = DriverPostgres
		c.Database.Postgres.Host = v
	}
	if v := envInt("DB_PORT"); v > 0 {
		c.Database.Postgres.Port = v
	}
	setString(&c.Database.Postgres.User, "DB_USER")
	setString(&c.Database.Postgres.Password, "DB_PASS")
	setString(&c.Database.Postgres.DBName, "DB_NAME")

	setString(&c.Auth.JWTSecret, "JWT_SECRET")
	if v := envInt("PORT"); v > 0 {
		c.API.HTTP.Port = v
	}

	setString(&c.Twilio.PublicBaseURL, "PUBLIC_BASE_URL")
	setString(&c.Twilio.AccountSID, "TWILIO_ACCOUNT_SID")
	setString(&c.Twilio.AuthToken, "TWILIO_AUTH_TOKEN")
	setString(&c.Twilio.APIKeySID, "TWILIO_API_KEY", "TWILIO_API_KEY_SID")
	setString(&c.Twilio.APIKeySecret, "TWILIO_API_SECRET", "TWILIO_API_KEY_SECRET")
	setString(&c.Twilio.FromNumber, "TWILIO_NUMBER")
	setString(&c.Twilio.TwiMLAppSID, "TWILIO_APP_SID", "TWILIO_TWIML_APP_SID")
	if v := envInt("TWILIO_TOKEN_TTL"); v > 0 {
		c.Twilio.TokenTTL = v
	}
	setString(&c.Twilio.ConferenceWaitURL, "TWILIO_CONFERENCE_WAIT_URL")

	setString(&c.Redis.Address, "REDIS_ADDR")
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "callcenter"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Database.Driver == DriverSQLite && c.Database.Path == "" {
		c.Database.Path = "data/callcenter.db"
	}
	if c.Database.Postgres.Port == 0 {
		c.Database.Postgres.Port = 5432
	}
	if c.Database.Postgres.SSLMode == "" {
		c.Database.Postgres.SSLMode = "disable"
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = defaultHTTPPort
	}
	if len(c.API.CORS.AllowedOrigins) == 0 {
		c.API.CORS.AllowedOrigins = []string{"http://localhost:3000", "http://127.0.0.1:3000"}
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Auth.JWTSecret == "" {
		c.Auth.JWTSecret = defaultJWTSecret
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
	if c.Twilio.TokenTTL == 0 {
		c.Twilio.TokenTTL = defaultTokenTTL
	}
	if c.Twilio.ConferenceWaitURL == "" {
		c.Twilio.ConferenceWaitURL = defaultWaitURL
	}
	if c.Twilio.PublicBaseURL == "" {
		c.Twilio.PublicBaseURL = fmt.Sprintf("http://localhost:%d", c.API.HTTP.Port)
	}
	c.Twilio.PublicBaseURL = strings.TrimRight(c.Twilio.PublicBaseURL, "/")
	if c.Twilio.APIBaseURL == "" {
		c.Twilio.APIBaseURL = defaultTwilioAPIBase
	}
	if c.Calls.Store == "" {
		c.Calls.Store = "memory"
		if c.Redis.Address != "" {
			c.Calls.Store = "failover"
		}
	}
	if c.Calls.SessionTTL < 0 {
		c.Calls.SessionTTL = defaultCallSessionTTL
	}
	if c.Calls.SendBuffer == 0 {
		c.Calls.SendBuffer = defaultWebSocketBuffer
	}
	if c.Uploads.MaxBytes == 0 {
		c.Uploads.MaxBytes = defaultUploadMaxBytes
	}
	if c.Storage.Region == "" {
		c.Storage.Region = "us-east-1"
	}
	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "data/backups"
	}
}

func setString(dst *string, keys ...string) {
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
}

func envInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
