package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var config = viper.New()

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Otel struct {
		Enable bool `mapstructure:"ENABLE"`
	} `mapstructure:"OTEL"`
	Metrics struct {
		Enable bool `mapstructure:"ENABLE"`
	} `mapstructure:"METRICS"`
	Tracking  Tracking  `mapstructure:"TRACKING"`
	Analytics Analytics `mapstructure:"ANALYTICS"`
}

// Tracking holds the policy knobs of the durability pipeline. The batch
// ceilings mirror hard limits of the queue and store backends.
type Tracking struct {
	DedupWindow      time.Duration `mapstructure:"DEDUP_WINDOW"`
	MaxRetry         int           `mapstructure:"MAX_RETRY"`
	BackoffBase      time.Duration `mapstructure:"BACKOFF_BASE"`
	BackoffCap       time.Duration `mapstructure:"BACKOFF_CAP"`
	ReceiveBatchSize int           `mapstructure:"RECEIVE_BATCH_SIZE"`
	WriteBatchSize   int           `mapstructure:"WRITE_BATCH_SIZE"`
	LocalAttempts    int           `mapstructure:"LOCAL_ATTEMPTS"`
	Concurrency      int           `mapstructure:"CONCURRENCY"`
	TTLDays          int           `mapstructure:"TTL_DAYS"`
	RetentionHour    int           `mapstructure:"RETENTION_HOUR"`
	AllowedHosts     []string      `mapstructure:"ALLOWED_HOSTS"`
	RateLimitRPS     float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst   int           `mapstructure:"RATE_LIMIT_BURST"`
}

// Analytics bounds the read path.
type Analytics struct {
	DefaultLimit int `mapstructure:"DEFAULT_LIMIT"`
	MaxLimit     int `mapstructure:"MAX_LIMIT"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

func setDefaults() {
	config.SetDefault("APP_ENV", "development")
	config.SetDefault("APP_NAME", "linktrace")
	config.SetDefault("HTTP_SERVER.ADDR", ":8080")
	config.SetDefault("HTTP_SERVER.READ_TIMEOUT", 10*time.Second)
	config.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 10*time.Second)
	config.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)
	config.SetDefault("DATABASE.TYPE", "postgres")
	config.SetDefault("DATABASE.SSLMODE", "disable")
	config.SetDefault("DATABASE.TIMEZONE", "UTC")
	config.SetDefault("DATABASE.CONNECTION_POOL.MAX_IDLE_CONN", 5)
	config.SetDefault("DATABASE.CONNECTION_POOL.MAX_OPEN_CONNS", 25)
	config.SetDefault("DATABASE.CONNECTION_POOL.CONN_MAX_LIFETIME", 30*time.Minute)
	config.SetDefault("DATABASE.CONNECTION_POOL.CONN_MAX_IDLE_TIME", 5*time.Minute)
	config.SetDefault("REDIS.ADDR", "127.0.0.1:6379")
	config.SetDefault("REDIS.POOL_SIZE", 10)
	config.SetDefault("REDIS.POOL_TIMEOUT", 5*time.Second)

	config.SetDefault("TRACKING.DEDUP_WINDOW", 5*time.Minute)
	config.SetDefault("TRACKING.MAX_RETRY", 3)
	config.SetDefault("TRACKING.BACKOFF_BASE", time.Minute)
	config.SetDefault("TRACKING.BACKOFF_CAP", 15*time.Minute)
	config.SetDefault("TRACKING.RECEIVE_BATCH_SIZE", 10)
	config.SetDefault("TRACKING.WRITE_BATCH_SIZE", 25)
	config.SetDefault("TRACKING.LOCAL_ATTEMPTS", 3)
	config.SetDefault("TRACKING.CONCURRENCY", 10)
	config.SetDefault("TRACKING.TTL_DAYS", 365)
	config.SetDefault("TRACKING.RETENTION_HOUR", 2)
	config.SetDefault("TRACKING.RATE_LIMIT_RPS", 50)
	config.SetDefault("TRACKING.RATE_LIMIT_BURST", 100)

	config.SetDefault("ANALYTICS.DEFAULT_LIMIT", 100)
	config.SetDefault("ANALYTICS.MAX_LIMIT", 1000)
}

func LoadConfig() *Config {
	setDefaults()

	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()

	if err := config.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			zap.L().Error("failed to read config file", zap.Error(err))
			os.Exit(1)
		}
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		zap.L().Error("failed to unmarshal config", zap.Error(err))
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		zap.L().Error("invalid configuration", zap.Error(err))
		os.Exit(1)
	}

	return &cfg
}
