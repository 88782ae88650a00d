/*
Package config loads runtime configuration for the loan engine binaries.

SOURCES (later wins):
  1. Defaults()
  2. YAML file: the path argument, or LOAN_CONFIG when the argument is empty
  3. Environment: LOAN_<SECTION>_<FIELD>, e.g. LOAN_DATABASE_DRIVER=postgres
     A .env file in the working directory is loaded first if present; it
     never overrides variables that are already set.

EXAMPLE YAML:
  server:
    addr: ":8080"
    allowed_origins: ["http://localhost:3000"]
  database:
    driver: postgres
    host: localhost
    port: 5432
    user: loans
    password: secret
    name: loans
  kafka:
    brokers: ["localhost:9092"]
    topic: loan-transactions
  log:
    level: debug
    format: console
*/
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LOAN"

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the full runtime configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Database DatabaseConfig `yaml:"database" envconfig:"DATABASE"`
	Kafka    KafkaConfig    `yaml:"kafka" envconfig:"KAFKA"`
	Log      LogConfig      `yaml:"log" envconfig:"LOG"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr            string        `yaml:"addr" envconfig:"ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	AllowedOrigins  []string      `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	// JWTSecret enables bearer-token auth on mutating routes when set.
	JWTSecret string `yaml:"jwt_secret" envconfig:"JWT_SECRET"`
}

// DatabaseConfig selects and configures the store.
type DatabaseConfig struct {
	Driver     string `yaml:"driver" envconfig:"DRIVER"`
	SQLitePath string `yaml:"sqlite_path" envconfig:"SQLITE_PATH"`

	Host     string `yaml:"host" envconfig:"HOST"`
	Port     int    `yaml:"port" envconfig:"PORT"`
	User     string `yaml:"user" envconfig:"USER"`
	Password string `yaml:"password" envconfig:"PASSWORD"`
	Name     string `yaml:"name" envconfig:"NAME"`
	SSLMode  string `yaml:"ssl_mode" envconfig:"SSL_MODE"`
	MaxConns int32  `yaml:"max_conns" envconfig:"MAX_CONNS"`

	// ConnectTimeout bounds the retries while the database comes up.
	ConnectTimeout time.Duration `yaml:"connect_timeout" envconfig:"CONNECT_TIMEOUT"`
}

// KafkaConfig configures event publishing. No brokers disables it.
type KafkaConfig struct {
	Brokers  []string `yaml:"brokers" envconfig:"BROKERS"`
	Topic    string   `yaml:"topic" envconfig:"TOPIC"`
	ClientID string   `yaml:"client_id" envconfig:"CLIENT_ID"`
}

// Enabled reports whether events should be published.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// LogConfig configures zap.
type LogConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL"`
	Format string `yaml:"format" envconfig:"FORMAT"` // json | console
}

// Defaults returns a configuration that runs locally against SQLite.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Database: DatabaseConfig{
			Driver:         DriverSQLite,
			SQLitePath:     "./data/loans.db",
			Port:           5432,
			SSLMode:        "disable",
			MaxConns:       10,
			ConnectTimeout: 30 * time.Second,
		},
		Kafka: KafkaConfig{
			Topic:    "loan-transactions",
			ClientID: "loan-engine",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// the environment.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}

	cfg := Defaults()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("config: parse yaml: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("config: process env: %w", err)
	}

	if err := cfg.validateAndNormalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validateAndNormalize() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config: server.addr must be set")
	}

	db := &c.Database
	db.Driver = strings.ToLower(strings.TrimSpace(db.Driver))
	switch db.Driver {
	case DriverSQLite:
		if db.SQLitePath == "" {
			return fmt.Errorf("config: database.sqlite_path must be set for the sqlite driver")
		}
	case DriverPostgres:
		if db.Host == "" {
			return fmt.Errorf("config: database.host must be set for the postgres driver")
		}
		if db.Name == "" {
			return fmt.Errorf("config: database.name must be set for the postgres driver")
		}
		if db.Port == 0 {
			db.Port = 5432
		}
		if db.SSLMode == "" {
			db.SSLMode = "disable"
		}
	default:
		return fmt.Errorf("config: unknown database.driver %q (want %s or %s)", db.Driver, DriverSQLite, DriverPostgres)
	}

	if c.Kafka.Enabled() && c.Kafka.Topic == "" {
		return fmt.Errorf("config: kafka.topic must be set when brokers are configured")
	}

	switch c.Log.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("config: log.format must be json or console, got %q", c.Log.Format)
	}
	return nil
}

// DSN returns the pgx connection string.
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.Name,
		RawQuery: "sslmode=" + url.QueryEscape(d.SSLMode),
	}
	return u.String()
}
