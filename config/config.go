package config

import (
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreMySQL  = "mysql"
)

type ServerConfig struct {
	Address     string `mapstructure:"address"`
	Environment string `mapstructure:"environment"`
}

type ServiceConfig struct {
	Name             string `mapstructure:"name"`
	FailureThreshold int    `mapstructure:"failure_threshold"`
	OpenTimeout      string `mapstructure:"open_timeout"`
}

type BreakerConfig struct {
	FailureThreshold int             `mapstructure:"failure_threshold"`
	OpenTimeout      string          `mapstructure:"open_timeout"`
	StrictLocking    bool            `mapstructure:"strict_locking"`
	Services         []ServiceConfig `mapstructure:"services"`
}

type RedisConfig struct {
	Addr string `mapstructure:"addr"`
}

type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

type StoreConfig struct {
	Backend   string      `mapstructure:"backend"`
	CacheSize int         `mapstructure:"cache_size"`
	Redis     RedisConfig `mapstructure:"redis"`
	MySQL     MySQLConfig `mapstructure:"mysql"`
}

type EventsConfig struct {
	BufferSize  int `mapstructure:"buffer_size"`
	HistorySize int `mapstructure:"history_size"`
}

type RouteConfig struct {
	Service     string `mapstructure:"service"`
	URL         string `mapstructure:"url"`
	FallbackURL string `mapstructure:"fallback_url"`
}

type ProberConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Interval string `mapstructure:"interval"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Breaker BreakerConfig `mapstructure:"breaker"`
	Store   StoreConfig   `mapstructure:"store"`
	Events  EventsConfig  `mapstructure:"events"`
	Routes  []RouteConfig `mapstructure:"routes"`
	Prober  ProberConfig  `mapstructure:"prober"`
	Logging LoggingConfig `mapstructure:"logging"`
}

func Load() (*Config, error) {
	viper.SetDefault("server.environment", EnvDev)
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("breaker.failure_threshold", 5)
	viper.SetDefault("breaker.open_timeout", "60s")
	viper.SetDefault("breaker.strict_locking", false)
	viper.SetDefault("store.backend", StoreMemory)
	viper.SetDefault("store.cache_size", 0)
	viper.SetDefault("events.buffer_size", 1000)
	viper.SetDefault("events.history_size", 256)
	viper.SetDefault("prober.enabled", false)
	viper.SetDefault("prober.interval", "5s")
	viper.SetDefault("logging.level", LogLevelInfo)

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Info("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", viper.ConfigFileUsed()))
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
					validation.Field(&sc.Address,
						validation.Required,
						validation.By(validateHostPort),
					),
				)
			}),
		),
		validation.Field(&c.Breaker,
			validation.Required,
			validation.By(func(value interface{}) error {
				bc, ok := value.(BreakerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a BreakerConfig")
				}
				return validation.ValidateStruct(&bc,
					validation.Field(&bc.FailureThreshold,
						validation.Required,
						validation.Min(1),
					),
					validation.Field(&bc.OpenTimeout,
						validation.Required,
						validation.By(validateDuration),
					),
					validation.Field(&bc.Services,
						validation.Each(validation.By(validateServiceConfig)),
					),
				)
			}),
		),
		validation.Field(&c.Store,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(StoreConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a StoreConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Backend,
						validation.Required,
						validation.In(StoreMemory, StoreRedis, StoreMySQL),
					),
					validation.Field(&sc.CacheSize,
						validation.Min(0),
					),
				)
			}),
		),
		validation.Field(&c.Events,
			validation.Required,
			validation.By(func(value interface{}) error {
				ec, ok := value.(EventsConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be an EventsConfig")
				}
				return validation.ValidateStruct(&ec,
					validation.Field(&ec.BufferSize,
						validation.Required,
						validation.Min(1),
					),
					validation.Field(&ec.HistorySize,
						validation.Required,
						validation.Min(1),
					),
				)
			}),
		),
		validation.Field(&c.Routes,
			validation.Each(validation.By(validateRouteConfig)),
		),
		validation.Field(&c.Prober,
			validation.By(func(value interface{}) error {
				pc, ok := value.(ProberConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ProberConfig")
				}
				if !pc.Enabled {
					return nil
				}
				return validation.ValidateStruct(&pc,
					validation.Field(&pc.Interval,
						validation.Required,
						validation.By(validateDuration),
					),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
	)
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}

	if d <= 0 {
		return validation.NewError("validation_invalid_duration", "duration must be positive")
	}

	return nil
}

func validateServiceConfig(value interface{}) error {
	service, ok := value.(ServiceConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a ServiceConfig")
	}

	if service.Name == "" {
		return validation.NewError("validation_empty_name", "service name cannot be empty")
	}

	if service.FailureThreshold < 0 {
		return validation.NewError("validation_invalid_threshold", "failure threshold cannot be negative")
	}

	if service.OpenTimeout != "" {
		if err := validateDuration(service.OpenTimeout); err != nil {
			return err
		}
	}

	return nil
}

func validateRouteConfig(value interface{}) error {
	route, ok := value.(RouteConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a RouteConfig")
	}

	if route.Service == "" {
		return validation.NewError("validation_empty_service", "route service cannot be empty")
	}

	if err := validateServerURL(route.URL); err != nil {
		return err
	}

	if route.FallbackURL != "" {
		if err := validateServerURL(route.FallbackURL); err != nil {
			return err
		}
	}

	return nil
}

func validateServerURL(value interface{}) error {
	serverURL, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if serverURL == "" {
		return validation.NewError("validation_empty_url", "URL cannot be empty")
	}

	parsedURL, err := url.Parse(serverURL)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	return nil
}
