package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Queue     QueueConfig
	Broadcast BroadcastConfig
	SMTP      SMTPConfig
	Cron      CronConfig
	Telegram  TelegramConfig
}

type ServerConfig struct {
	Port           int     `mapstructure:"port" validate:"min=1,max=65535"`
	TimeoutSeconds int     `mapstructure:"timeoutSeconds" validate:"min=1"`
	RateLimit      float64 `mapstructure:"rate_limit" validate:"gt=0"`
	RateBurst      int     `mapstructure:"rate_burst" validate:"min=1"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int    `mapstructure:"max_conns"`
}

// DSN renders the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

type RedisConfig struct {
	URL          string `mapstructure:"url"`
	MaxRetries   int    `mapstructure:"max_retries"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

type QueueConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	BatchSize       int           `mapstructure:"batch_size"`
	Concurrency     int           `mapstructure:"concurrency"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	BackoffBase     time.Duration `mapstructure:"backoff_base"`
	DepthSampleRate time.Duration `mapstructure:"depth_sample_rate"`
}

type BroadcastConfig struct {
	ProgressTTL   time.Duration `mapstructure:"progress_ttl"`
	FlushEvery    int           `mapstructure:"flush_every"`
	LocalCacheTTL time.Duration `mapstructure:"local_cache_ttl"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type CronConfig struct {
	Timezone string `mapstructure:"timezone"`
}

type TelegramConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	Token          string `mapstructure:"token"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.timeoutSeconds", 30)
	viper.SetDefault("server.rate_limit", 50)
	viper.SetDefault("server.rate_burst", 100)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.max_conns", 20)

	viper.SetDefault("redis.url", "redis://localhost:6379/0")
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.min_idle_conns", 2)

	viper.SetDefault("queue.poll_interval", 2*time.Second)
	viper.SetDefault("queue.batch_size", 10)
	viper.SetDefault("queue.concurrency", 4)
	viper.SetDefault("queue.max_attempts", 5)
	viper.SetDefault("queue.backoff_base", 2*time.Second)
	viper.SetDefault("queue.depth_sample_rate", 15*time.Second)

	viper.SetDefault("broadcast.progress_ttl", time.Hour)
	viper.SetDefault("broadcast.flush_every", 10)
	viper.SetDefault("broadcast.local_cache_ttl", 2*time.Second)

	viper.SetDefault("smtp.port", 587)

	viper.SetDefault("telegram.base_url", "http://localhost:8090")
	viper.SetDefault("telegram.timeout_seconds", 30)

	viper.SetDefault("cron.timezone", "UTC")
}
