package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/vitwit/payterm/types"
	"github.com/vitwit/payterm/utils"
)

const EnvPrefix = "PAYTERM"

type Config struct {
	Terminal types.TerminalConfig `mapstructure:"terminal"`
	HTTP     HTTPConfig           `mapstructure:"http"`
	Redis    RedisConfig          `mapstructure:"redis"`
	Kafka    KafkaConfig          `mapstructure:"kafka"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	AllowOrigins    []string      `mapstructure:"allow_origins"`
	RateLimit       string        `mapstructure:"rate_limit"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// RedisConfig selects the profile cache backend. An empty URL keeps the
// profile in memory.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// KafkaConfig enables event publishing when brokers are set.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// Load reads config.yaml (from path, or from . and ./config), a .env file
// and PAYTERM_ prefixed environment variables, in increasing precedence.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, types.NewError(types.ErrConfigError, "read config: %v", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, types.NewError(types.ErrConfigError, "decode config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("terminal.env", "development")
	v.SetDefault("terminal.log_level", "info")
	v.SetDefault("terminal.default_timeout", "30s")
	v.SetDefault("terminal.poll_interval", "2s")
	v.SetDefault("terminal.max_poll_interval", "30s")
	v.SetDefault("terminal.recent_schedule", "@every 30s")
	v.SetDefault("terminal.watchdog_timeout", "30s")
	v.SetDefault("terminal.confirm_timeout", "25s")
	v.SetDefault("terminal.settle_delay", "3s")
	v.SetDefault("terminal.enable_metrics", true)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.allow_origins", []string{"*"})
	v.SetDefault("http.rate_limit", "120-M")
	v.SetDefault("http.shutdown_timeout", "10s")

	v.SetDefault("kafka.topic", "payterm.transactions")
}

// Validate fills each client's network from its map key and checks every
// section.
func (c *Config) Validate() error {
	for network, client := range c.Terminal.Clients {
		if client.Network == "" {
			client.Network = network
			c.Terminal.Clients[network] = client
		}
		if client.Network != network {
			return types.NewError(types.ErrConfigError, "client %s declares network %s", network, client.Network)
		}
	}

	if err := utils.ValidateStruct(&c.HTTP); err != nil {
		return types.NewError(types.ErrConfigError, "http: %v", err)
	}
	if err := utils.ValidateStruct(&c.Terminal); err != nil {
		return types.NewError(types.ErrConfigError, "terminal: %v", err)
	}
	for network, client := range c.Terminal.Clients {
		if err := utils.ValidateClientConfig(&client); err != nil {
			return fmt.Errorf("client %s: %w", network, err)
		}
	}
	return nil
}
