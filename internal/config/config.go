package config

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/spf13/viper"

	"github.com/camelya58/kafkabridge/broker"
	"github.com/camelya58/kafkabridge/core"
)

// Transports lists the supported broker names.
var Transports = []string{"kafka", "nats", "rabbitmq", "sarama"}

// Config is the process configuration. Every key may be overridden by an
// environment variable with the BRIDGE_ prefix, e.g. BRIDGE_BROKERS.
type Config struct {
	Transport string   `mapstructure:"TRANSPORT"`
	Brokers   []string `mapstructure:"BROKERS"`
	GroupID   string   `mapstructure:"GROUP_ID"`
	ClientID  string   `mapstructure:"CLIENT_ID"`

	UserTopic string `mapstructure:"USER_TOPIC"`
	TextTopic string `mapstructure:"TEXT_TOPIC"`

	HTTPAddr        string        `mapstructure:"HTTP_ADDR"`
	SendTimeout     time.Duration `mapstructure:"SEND_TIMEOUT"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`

	ReconnectAttempts   int           `mapstructure:"RECONNECT_ATTEMPTS"`
	ReconnectBackoff    time.Duration `mapstructure:"RECONNECT_BACKOFF"`
	ReconnectMaxBackoff time.Duration `mapstructure:"RECONNECT_MAX_BACKOFF"`

	SASLMechanism string `mapstructure:"SASL_MECHANISM"`
	SASLUsername  string `mapstructure:"SASL_USERNAME"`
	SASLPassword  string `mapstructure:"SASL_PASSWORD"`

	// Plugin settings, passed to the transport through broker.Config.Extra.
	// Zero values leave the plugin default in place.
	StartOffset   string        `mapstructure:"START_OFFSET"`
	BatchSize     int           `mapstructure:"BATCH_SIZE"`
	BatchTimeout  time.Duration `mapstructure:"BATCH_TIMEOUT"`
	MaxBytes      int           `mapstructure:"MAX_BYTES"`
	MaxDeliver    int           `mapstructure:"MAX_DELIVER"`
	Replicas      int           `mapstructure:"REPLICAS"`
	Exchange      string        `mapstructure:"EXCHANGE"`
	ExchangeType  string        `mapstructure:"EXCHANGE_TYPE"`
	RoutingKey    string        `mapstructure:"ROUTING_KEY"`
	PrefetchCount int           `mapstructure:"PREFETCH_COUNT"`

	LogLevel       string `mapstructure:"LOG_LEVEL"`
	LogDevelopment bool   `mapstructure:"LOG_DEVELOPMENT"`
}

// Load reads the configuration from defaults, the optional file at path
// (otherwise a .env file in the working directory, if present) and the
// environment, then validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %q: %w", path, err)
		}
	} else {
		v.SetConfigName(".env")
		v.SetConfigType("env")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading .env file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("BRIDGE")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("TRANSPORT", "kafka")
	v.SetDefault("BROKERS", []string{"localhost:9092"})
	v.SetDefault("GROUP_ID", "kafkabridge")
	v.SetDefault("CLIENT_ID", "kafkabridge")
	v.SetDefault("USER_TOPIC", "msg")
	v.SetDefault("TEXT_TOPIC", "msg-text")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("SEND_TIMEOUT", 10*time.Second)
	v.SetDefault("SHUTDOWN_TIMEOUT", 15*time.Second)
	v.SetDefault("RECONNECT_ATTEMPTS", 5)
	v.SetDefault("RECONNECT_BACKOFF", 500*time.Millisecond)
	v.SetDefault("RECONNECT_MAX_BACKOFF", 30*time.Second)
	v.SetDefault("SASL_MECHANISM", "")
	v.SetDefault("SASL_USERNAME", "")
	v.SetDefault("SASL_PASSWORD", "")
	v.SetDefault("START_OFFSET", "")
	v.SetDefault("BATCH_SIZE", 0)
	v.SetDefault("BATCH_TIMEOUT", time.Duration(0))
	v.SetDefault("MAX_BYTES", 0)
	v.SetDefault("MAX_DELIVER", 0)
	v.SetDefault("REPLICAS", 0)
	v.SetDefault("EXCHANGE", "")
	v.SetDefault("EXCHANGE_TYPE", "")
	v.SetDefault("ROUTING_KEY", "")
	v.SetDefault("PREFETCH_COUNT", 0)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_DEVELOPMENT", false)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case !slices.Contains(Transports, c.Transport):
		return fmt.Errorf("config: unknown transport %q (want one of %v)", c.Transport, Transports)
	case len(c.Brokers) == 0 || slices.Contains(c.Brokers, ""):
		return errors.New("config: BROKERS must list at least one address")
	case c.UserTopic == "" || c.TextTopic == "":
		return errors.New("config: USER_TOPIC and TEXT_TOPIC must be set")
	case c.UserTopic == c.TextTopic:
		return fmt.Errorf("config: USER_TOPIC and TEXT_TOPIC must differ, both are %q", c.UserTopic)
	case c.HTTPAddr == "":
		return errors.New("config: HTTP_ADDR must be set")
	case c.SendTimeout < 0:
		return errors.New("config: SEND_TIMEOUT must not be negative")
	case c.ShutdownTimeout <= 0:
		return errors.New("config: SHUTDOWN_TIMEOUT must be positive")
	case c.ReconnectBackoff <= 0:
		return errors.New("config: RECONNECT_BACKOFF must be positive")
	case c.ReconnectMaxBackoff < 0:
		return errors.New("config: RECONNECT_MAX_BACKOFF must not be negative")
	case c.StartOffset != "" && !slices.Contains([]string{"first", "earliest", "last", "latest"}, c.StartOffset):
		return fmt.Errorf("config: unknown START_OFFSET %q", c.StartOffset)
	case c.BatchSize < 0 || c.MaxBytes < 0 || c.MaxDeliver < 0 || c.Replicas < 0 || c.PrefetchCount < 0:
		return errors.New("config: plugin sizes and counts must not be negative")
	case c.SASLMechanism != "" && c.SASLUsername == "":
		return errors.New("config: SASL_USERNAME is required when SASL_MECHANISM is set")
	}
	return nil
}

// BrokerConfig returns the transport settings for the broker registry.
func (c *Config) BrokerConfig() broker.Config {
	return broker.Config{
		Brokers:  c.Brokers,
		Group:    c.GroupID,
		ClientID: c.ClientID,
		SASL: broker.SASL{
			Mechanism: c.SASLMechanism,
			Username:  c.SASLUsername,
			Password:  c.SASLPassword,
		},
		Extra: c.extra(),
	}
}

func (c *Config) extra() map[string]any {
	extra := map[string]any{}
	setString := func(key, v string) {
		if v != "" {
			extra[key] = v
		}
	}
	setInt := func(key string, v int) {
		if v > 0 {
			extra[key] = v
		}
	}
	setString("start_offset", c.StartOffset)
	setInt("batch_size", c.BatchSize)
	if c.BatchTimeout > 0 {
		extra["batch_timeout"] = c.BatchTimeout
	}
	setInt("max_bytes", c.MaxBytes)
	setInt("max_deliver", c.MaxDeliver)
	setInt("replicas", c.Replicas)
	setString("exchange", c.Exchange)
	setString("exchange_type", c.ExchangeType)
	setString("routing_key", c.RoutingKey)
	setInt("prefetch_count", c.PrefetchCount)
	if len(extra) == 0 {
		return nil
	}
	return extra
}

// ReconnectPolicy returns the dispatcher's reconnect settings.
func (c *Config) ReconnectPolicy() core.ReconnectPolicy {
	return core.ReconnectPolicy{
		MaxAttempts:    c.ReconnectAttempts,
		InitialBackoff: c.ReconnectBackoff,
		MaxBackoff:     c.ReconnectMaxBackoff,
	}
}
