package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	A2L      A2LConfig      `mapstructure:"a2l"`
	XCP      XCPConfig      `mapstructure:"xcp"`
	Poller   PollerConfig   `mapstructure:"poller"`
	Auth     AuthConfig     `mapstructure:"auth"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Datasets DatasetsConfig `mapstructure:"datasets"`
}

type ServerConfig struct {
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

type A2LConfig struct {
	Path      string `mapstructure:"path"`
	ECUFamily string `mapstructure:"ecu_family"`
	Encoding  string `mapstructure:"encoding"`
}

type CalPageConfig struct {
	Mode    uint8 `mapstructure:"mode"`
	Segment uint8 `mapstructure:"segment"`
	Page    uint8 `mapstructure:"page"`
}

// XCPConfig selects the calibration link. Empty host/port values are taken
// from the descriptor's protocol block.
type XCPConfig struct {
	Transport  string        `mapstructure:"transport"`
	Protocol   string        `mapstructure:"protocol"`
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	SerialPort string        `mapstructure:"serial_port"`
	SerialBaud int           `mapstructure:"serial_baud"`
	Timeout    time.Duration `mapstructure:"timeout"`
	CalPage    CalPageConfig `mapstructure:"cal_page"`
}

type PollerConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type UserConfig struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
	Role         string `mapstructure:"role"`
}

type MachineTokenConfig struct {
	Name        string   `mapstructure:"name"`
	TokenHash   string   `mapstructure:"token_hash"`
	Permissions []string `mapstructure:"permissions"`
}

// Auth Configuration
type AuthConfig struct {
	Enabled                bool                 `mapstructure:"enabled"`
	JWTSecretEnv           string               `mapstructure:"jwt_secret_env"`
	AccessTokenTTL         time.Duration        `mapstructure:"access_token_ttl"`
	MaxFailedLoginAttempts int                  `mapstructure:"max_failed_login_attempts"`
	AccountLockDuration    time.Duration        `mapstructure:"account_lock_duration"`
	Users                  []UserConfig         `mapstructure:"users"`
	MachineTokens          []MachineTokenConfig `mapstructure:"machine_tokens"`
}

type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

type StorageConfig struct {
	Driver   string         `mapstructure:"driver"`
	Postgres DatabaseConfig `mapstructure:"postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
}

type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type DatasetsConfig struct {
	SearchPaths []string `mapstructure:"search_paths"`
}

// Storage drivers.
const (
	DriverNone     = "none"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Load reads the YAML file at path. An empty path uses defaults and
// environment variables only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Environment Variables automatisch binden, z.B. OCC_A2L_PATH
	v.SetEnvPrefix("OCC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	// Defaults setzen
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("log.development", false)
	v.SetDefault("log.level", "info")

	v.SetDefault("a2l.path", "")
	v.SetDefault("a2l.ecu_family", "")
	v.SetDefault("a2l.encoding", "latin1")

	v.SetDefault("xcp.transport", "eth")
	v.SetDefault("xcp.protocol", "")
	v.SetDefault("xcp.host", "")
	v.SetDefault("xcp.port", 0)
	v.SetDefault("xcp.serial_port", "/dev/ttyACM0")
	v.SetDefault("xcp.serial_baud", 115200)
	v.SetDefault("xcp.timeout", "1s")
	v.SetDefault("xcp.cal_page.mode", 3)
	v.SetDefault("xcp.cal_page.segment", 0)
	v.SetDefault("xcp.cal_page.page", 1)

	v.SetDefault("poller.interval", "2s")

	// Auth Defaults
	v.SetDefault("auth.enabled", true)
	v.SetDefault("auth.jwt_secret_env", "JWT_SECRET")
	v.SetDefault("auth.access_token_ttl", "60m")
	v.SetDefault("auth.max_failed_login_attempts", 5)
	v.SetDefault("auth.account_lock_duration", "15m")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "localhost:1883")
	v.SetDefault("mqtt.client_id", "opencalibrationcore")
	v.SetDefault("mqtt.topic_prefix", "occ")

	v.SetDefault("storage.driver", DriverNone)
	v.SetDefault("storage.postgres.port", 5432)
	v.SetDefault("storage.postgres.max_connections", 4)
	v.SetDefault("storage.sqlite.path", "audit.db")

	v.SetDefault("datasets.search_paths", []string{"./datasets"})
}

// Validate checks values viper cannot check by type.
func (c *Config) Validate() error {
	switch c.XCP.Transport {
	case "eth", "slcan":
	default:
		return fmt.Errorf("xcp.transport must be eth or slcan, got %q", c.XCP.Transport)
	}
	switch c.XCP.Protocol {
	case "", "tcp", "udp":
	default:
		return fmt.Errorf("xcp.protocol must be tcp or udp, got %q", c.XCP.Protocol)
	}
	switch c.Storage.Driver {
	case DriverNone, DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

const devSecret = "dev-secret-change-in-production-min-32-chars"

// JWT Secret aus Environment Variable laden
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "JWT_SECRET" // Fallback
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		// Development Fallback (MIT WARNING!)
		return devSecret
	}
	return secret
}

// Helper um zu prüfen ob Production-Ready
func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != devSecret && len(secret) >= 32
}
