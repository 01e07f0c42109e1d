package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"http_server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Reconciler ReconcilerConfig `mapstructure:"reconciler"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"required,min=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"required,min=1"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Source          string        `mapstructure:"source"`
}

// GatewayConfig carries the Daraja STK push credentials and endpoints.
type GatewayConfig struct {
	BaseURL        string        `mapstructure:"base_url" validate:"required,url"`
	ConsumerKey    string        `mapstructure:"consumer_key" validate:"required"`
	ConsumerSecret string        `mapstructure:"consumer_secret" validate:"required"`
	Shortcode      string        `mapstructure:"shortcode" validate:"required"`
	Passkey        string        `mapstructure:"passkey" validate:"required"`
	CallbackURL    string        `mapstructure:"callback_url" validate:"required,url"`
	HTTPTimeout    time.Duration `mapstructure:"http_timeout"`
}

// ReconcilerConfig holds the knobs the reconciliation flow must not hardcode:
// gateways disagree on the exact user-cancelled result code, and the
// freshness window bounds how long a pending attempt blocks resubmission.
type ReconcilerConfig struct {
	FreshnessWindow  time.Duration `mapstructure:"freshness_window"`
	CancelResultCode int           `mapstructure:"cancel_result_code"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

// LoadConfigFromEnv builds a Config from environment variables, used for
// container deployments where no config file is mounted.
func LoadConfigFromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              getEnvAsInt("SERVER_PORT", 8080),
			BaseURL:           getEnv("SERVER_BASE_URL", "http://localhost:8080"),
			ReadHeaderTimeout: getEnvAsDuration("SERVER_READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			WriteTimeout:      getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
		},
		Database: DatabaseConfig{
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			Source:          getEnv("DB_SOURCE", ""),
		},
		Gateway: GatewayConfig{
			BaseURL:        getEnv("GATEWAY_BASE_URL", "https://sandbox.safaricom.co.ke"),
			ConsumerKey:    getEnv("GATEWAY_CONSUMER_KEY", ""),
			ConsumerSecret: getEnv("GATEWAY_CONSUMER_SECRET", ""),
			Shortcode:      getEnv("GATEWAY_SHORTCODE", ""),
			Passkey:        getEnv("GATEWAY_PASSKEY", ""),
			CallbackURL:    getEnv("GATEWAY_CALLBACK_URL", ""),
			HTTPTimeout:    getEnvAsDuration("GATEWAY_HTTP_TIMEOUT", 30*time.Second),
		},
		Reconciler: ReconcilerConfig{
			FreshnessWindow:  getEnvAsDuration("RECONCILER_FRESHNESS_WINDOW", 2*time.Minute),
			CancelResultCode: getEnvAsInt("RECONCILER_CANCEL_RESULT_CODE", 1032),
			SweepInterval:    getEnvAsDuration("RECONCILER_SWEEP_INTERVAL", time.Minute),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Gateway.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("gateway config: %v", err))
	}

	if err := c.Reconciler.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("reconciler config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *GatewayConfig) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base_url is required")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}
	if c.ConsumerKey == "" || c.ConsumerSecret == "" {
		return errors.New("consumer_key and consumer_secret are required")
	}
	if c.Shortcode == "" || c.Passkey == "" {
		return errors.New("shortcode and passkey are required")
	}
	if c.CallbackURL == "" {
		return errors.New("callback_url is required")
	}
	return nil
}

func (c *ReconcilerConfig) Validate() error {
	if c.FreshnessWindow <= 0 {
		return errors.New("freshness_window must be positive")
	}
	if c.SweepInterval <= 0 {
		return errors.New("sweep_interval must be positive")
	}
	if c.CancelResultCode == 0 {
		return errors.New("cancel_result_code must not be the success code")
	}
	return nil
}
