package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageMongo    = "mongo"
	StorageMemory   = "memory"
)

type Config struct {
	Env             string           `yaml:"env" env:"ENV" env-default:"local"`
	Storage         StorageConfig    `yaml:"storage"`
	Mongo           MongoConfig      `yaml:"mongo"`
	Redis           RedisConfig      `yaml:"redis"`
	TokenTTL        time.Duration    `yaml:"token_ttl" env-default:"1h"`
	RefreshTokenTTL time.Duration    `yaml:"refresh_token_ttl" env-default:"48h"`
	Secret          string           `yaml:"secret" env:"AUTH_SECRET" env-required:"true"`
	Password        PasswordConfig   `yaml:"password"`
	GRPC            GRPCConfig       `yaml:"grpc"`
	Presence        PresenceConfig   `yaml:"presence"`
	Metrics         MetricsConfig    `yaml:"metrics"`
	LoginLimit      LoginLimitConfig `yaml:"login_limit"`
}

type StorageConfig struct {
	Type string `yaml:"type" env:"STORAGE_TYPE" env-default:"sqlite"`
	Path string `yaml:"path" env:"STORAGE_PATH"`
	DSN  string `yaml:"dsn" env:"STORAGE_DSN"`
}

type MongoConfig struct {
	URI      string `yaml:"uri" env:"MONGO_URI"`
	Database string `yaml:"database" env:"MONGO_DATABASE" env-default:"judge"`
}

// RedisConfig enables the Redis refresh token store. Users stay in the
// primary storage. Retention 0 keeps records forever.
type RedisConfig struct {
	Enabled   bool          `yaml:"enabled" env:"REDIS_ENABLED"`
	Addr      string        `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password  string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB        int           `yaml:"db" env:"REDIS_DB"`
	Retention time.Duration `yaml:"retention" env:"REDIS_RETENTION" env-default:"0s"`
}

type PasswordConfig struct {
	Scheme string `yaml:"scheme" env:"PASSWORD_SCHEME" env-default:"sha256"`
}

type GRPCConfig struct {
	Port    int           `yaml:"port" env:"GRPC_PORT" env-default:"44044"`
	Timeout time.Duration `yaml:"timeout" env-default:"5s"`
}

type PresenceConfig struct {
	Timeout       time.Duration `yaml:"timeout" env-default:"2m"`
	SweepInterval time.Duration `yaml:"sweep_interval" env-default:"30s"`
}

// MetricsConfig configures the Prometheus endpoint. An empty address turns
// it off.
type MetricsConfig struct {
	Address string `yaml:"address" env:"METRICS_ADDRESS"`
}

// LoginLimitConfig bounds login attempts per username. RPS 0 disables it.
type LoginLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst" env-default:"5"`
}

// MustLoad reads the config file named by the -config flag or CONFIG_PATH
// and panics if it is missing or invalid.
func MustLoad() *Config {
	path := fetchConfigPath()
	if path == "" {
		panic("config path is empty")
	}

	return MustLoadPath(path)
}

func MustLoadPath(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

// Load reads path, applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Type {
	case StorageSQLite:
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for sqlite"))
		}
	case StoragePostgres:
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("storage.dsn is required for postgres"))
		}
	case StorageMongo:
		if c.Mongo.URI == "" {
			errs = append(errs, errors.New("mongo.uri is required for mongo storage"))
		}
	case StorageMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown storage.type %q", c.Storage.Type))
	}

	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("token_ttl must be positive"))
	}
	if c.RefreshTokenTTL <= 0 {
		errs = append(errs, errors.New("refresh_token_ttl must be positive"))
	}
	if c.LoginLimit.RPS < 0 {
		errs = append(errs, errors.New("login_limit.rps must not be negative"))
	}

	return errors.Join(errs...)
}

// fetchConfigPath fetches config path from command line flag or environment variable.
// Priority: flag > env > default.
// Default value is empty string.
func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	return res
}
