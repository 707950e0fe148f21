package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/lbeltrame/go_lingo/internal/logger"
)

// envKeyReplacer maps nested config keys to env var segments, e.g.
// mongo.max_pool_size -> GO_LINGO_MONGO_MAX_POOL_SIZE.
var envKeyReplacer = strings.NewReplacer(".", "_")

// ServerConfig holds the HTTP server options.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutDownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  string        `mapstructure:"allowed_origins"`
}

// MongoConfig holds the backing-store connection options.
type MongoConfig struct {
	URI              string        `mapstructure:"uri"`
	Database         string        `mapstructure:"database" validate:"required"`
	MaxPoolSize      uint64        `mapstructure:"max_pool_size"`
	MinPoolSize      uint64        `mapstructure:"min_pool_size"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	SocketTimeout    time.Duration `mapstructure:"socket_timeout"`
	SelectionTimeout time.Duration `mapstructure:"selection_timeout"`
}

// CacheConfig bounds the in-memory cache and the bulk reload behavior.
type CacheConfig struct {
	MaxSize          int           `mapstructure:"max_size" validate:"min=0"`
	TTL              time.Duration `mapstructure:"ttl"`
	RefreshInterval  time.Duration `mapstructure:"refresh_interval"`
	ReloadBatchSize  int           `mapstructure:"reload_batch_size" validate:"min=0"`
	ReloadBatchDelay time.Duration `mapstructure:"reload_batch_delay"`
}

// WatchConfig tunes the change feed watcher.
type WatchConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	SampleLimit  int           `mapstructure:"sample_limit" validate:"min=0"`
	RetryCount   int           `mapstructure:"retry_count" validate:"min=0"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"`
}

// LangConfig holds the language surface.
type LangConfig struct {
	Default      string            `mapstructure:"default" validate:"required"`
	Supported    []string          `mapstructure:"supported"`
	DisplayNames map[string]string `mapstructure:"display_names"`
}

// MiscConfig holds process-level knobs.
type MiscConfig struct {
	LogLevel string `mapstructure:"log_level"`
	Backend  string `mapstructure:"backend" validate:"oneof=mongo memory"`
	GinMode  string `mapstructure:"gin_mode"`
}

// Config is the full application configuration.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Mongo  MongoConfig  `mapstructure:"mongo"`
	Cache  CacheConfig  `mapstructure:"cache"`
	Watch  WatchConfig  `mapstructure:"watch"`
	Lang   LangConfig   `mapstructure:"lang"`
	Misc   MiscConfig   `mapstructure:"misc"`
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 10*time.Second)
	viper.SetDefault("server.write_timeout", 10*time.Second)
	viper.SetDefault("server.idle_timeout", 60*time.Second)
	viper.SetDefault("server.shutdown_timeout", 10*time.Second)
	viper.SetDefault("server.allowed_origins", "*")

	viper.SetDefault("mongo.uri", "mongodb://localhost:27017")
	viper.SetDefault("mongo.database", "go_lingo")
	viper.SetDefault("mongo.max_pool_size", 20)
	viper.SetDefault("mongo.min_pool_size", 0)
	viper.SetDefault("mongo.connect_timeout", 10*time.Second)
	viper.SetDefault("mongo.socket_timeout", 30*time.Second)
	viper.SetDefault("mongo.selection_timeout", 10*time.Second)

	viper.SetDefault("cache.max_size", 0)
	viper.SetDefault("cache.ttl", time.Duration(0))
	viper.SetDefault("cache.refresh_interval", time.Duration(0))
	viper.SetDefault("cache.reload_batch_size", 5)
	viper.SetDefault("cache.reload_batch_delay", 100*time.Millisecond)

	viper.SetDefault("watch.enabled", true)
	viper.SetDefault("watch.poll_interval", 3*time.Second)
	viper.SetDefault("watch.sample_limit", 20)
	viper.SetDefault("watch.retry_count", 5)
	viper.SetDefault("watch.retry_delay", time.Second)

	viper.SetDefault("lang.default", "en")
	viper.SetDefault("lang.supported", []string{"en"})

	viper.SetDefault("misc.log_level", "info")
	viper.SetDefault("misc.backend", "mongo")
	viper.SetDefault("misc.gin_mode", "release")
}

// LoadConfig reads config.yaml from the given paths (falling back to the
// working directory), applies defaults and GO_LINGO_* env overrides, and
// validates the result. Running without a config file is supported.
func LoadConfig(confPaths ...string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	if len(confPaths) == 0 {
		confPaths = []string{"."}
	}
	for _, path := range confPaths {
		viper.AddConfigPath(path)
	}

	setDefaults()

	// Environment variables like GO_LINGO_MONGO_URI override everything.
	viper.AutomaticEnv()
	viper.SetEnvPrefix("GO_LINGO")
	viper.SetEnvKeyReplacer(envKeyReplacer)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			logger.WithComponent("config").Info("no config file found, using defaults and env vars")
		} else {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// WatchLogLevel re-applies misc.log_level when the config file changes on
// disk, so verbosity can be adjusted without a restart.
func WatchLogLevel() {
	viper.OnConfigChange(func(e fsnotify.Event) {
		level, err := logrus.ParseLevel(viper.GetString("misc.log_level"))
		if err != nil {
			logger.WithComponent("config").Warnf("invalid log level after %s changed: %v", e.Name, err)
			return
		}
		logger.Logger.SetLevel(level)
		logger.WithComponent("config").Infof("log level set to %s", level)
	})
	viper.WatchConfig()
}
