// Package config loads daemon settings from YAML, the environment and .env.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/joshp123/gohome-flair/internal/logging"
)

const (
	EnvPrefix                = "GOHOME_FLAIR"
	DefaultSearchPath        = "/etc/gohome-flair"
	DefaultBaseURL           = "https://api.flair.co"
	DefaultHTTPAddr          = "0.0.0.0:8080"
	DefaultGRPCAddr          = "0.0.0.0:9000"
	DefaultPollInterval      = 30
	DefaultDiscoveryInterval = 0
	DefaultRatePerMinute     = 60
	DefaultMQTTPrefix        = "gohome/flair"
	DefaultSnapshotBackend   = "none"
)

type Config struct {
	Flair             FlairConfig    `mapstructure:"flair"`
	PollInterval      int            `mapstructure:"poll_interval"`
	DiscoveryInterval int            `mapstructure:"discovery_interval"`
	HTTPAddr          string         `mapstructure:"http_addr"`
	GRPCAddr          string         `mapstructure:"grpc_addr"`
	LogLevel          string         `mapstructure:"log_level"`
	Rate              RateConfig     `mapstructure:"rate"`
	MQTT              MQTTConfig     `mapstructure:"mqtt"`
	Influx            InfluxConfig   `mapstructure:"influx"`
	Snapshot          SnapshotConfig `mapstructure:"snapshot"`
}

type FlairConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	TokenURL     string `mapstructure:"token_url"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Scope        string `mapstructure:"scope"`
}

type RateConfig struct {
	PerMinute int `mapstructure:"per_minute"`
	PerDay    int `mapstructure:"per_day"`
}

type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         int    `mapstructure:"qos"`
}

type InfluxConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Token   string `mapstructure:"token"`
	Org     string `mapstructure:"org"`
	Bucket  string `mapstructure:"bucket"`
}

type SnapshotConfig struct {
	Backend       string `mapstructure:"backend"`
	Path          string `mapstructure:"path"`
	Endpoint      string `mapstructure:"endpoint"`
	Bucket        string `mapstructure:"bucket"`
	Prefix        string `mapstructure:"prefix"`
	Region        string `mapstructure:"region"`
	AccessKey     string `mapstructure:"access_key"`
	SecretKey     string `mapstructure:"secret_key"`
	AccessKeyFile string `mapstructure:"access_key_file"`
	SecretKeyFile string `mapstructure:"secret_key_file"`
}

// ConfigurationError lists every problem found in a configuration.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Load reads path (or config.yaml from the working directory and
// DefaultSearchPath when path is empty), overlays GOHOME_FLAIR_* variables
// including those from a local .env, applies defaults, and validates.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(DefaultSearchPath)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("flair.base_url", DefaultBaseURL)
	v.SetDefault("flair.token_url", "")
	v.SetDefault("flair.client_id", "")
	v.SetDefault("flair.client_secret", "")
	v.SetDefault("flair.username", "")
	v.SetDefault("flair.password", "")
	v.SetDefault("flair.scope", "")
	v.SetDefault("poll_interval", DefaultPollInterval)
	v.SetDefault("discovery_interval", DefaultDiscoveryInterval)
	v.SetDefault("http_addr", DefaultHTTPAddr)
	v.SetDefault("grpc_addr", DefaultGRPCAddr)
	v.SetDefault("log_level", logging.InfoLevel)
	v.SetDefault("rate.per_minute", DefaultRatePerMinute)
	v.SetDefault("rate.per_day", 0)
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "gohome-flair")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic_prefix", DefaultMQTTPrefix)
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("influx.enabled", false)
	v.SetDefault("influx.url", "")
	v.SetDefault("influx.token", "")
	v.SetDefault("influx.org", "")
	v.SetDefault("influx.bucket", "")
	v.SetDefault("snapshot.backend", DefaultSnapshotBackend)
	v.SetDefault("snapshot.path", "")
	v.SetDefault("snapshot.endpoint", "")
	v.SetDefault("snapshot.bucket", "")
	v.SetDefault("snapshot.prefix", "")
	v.SetDefault("snapshot.region", "")
	v.SetDefault("snapshot.access_key", "")
	v.SetDefault("snapshot.secret_key", "")
	v.SetDefault("snapshot.access_key_file", "")
	v.SetDefault("snapshot.secret_key_file", "")
}

// Validate collects every problem into a *ConfigurationError.
func (c Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	required := map[string]string{
		"flair.client_id":     c.Flair.ClientID,
		"flair.client_secret": c.Flair.ClientSecret,
		"flair.username":      c.Flair.Username,
		"flair.password":      c.Flair.Password,
	}
	for _, key := range []string{"flair.client_id", "flair.client_secret", "flair.username", "flair.password"} {
		if strings.TrimSpace(required[key]) == "" {
			add("%s is required", key)
		}
	}
	if c.PollInterval < 0 {
		add("poll_interval must be >= 0")
	}
	if c.DiscoveryInterval < 0 {
		add("discovery_interval must be >= 0")
	}
	if c.Rate.PerMinute < 0 || c.Rate.PerDay < 0 {
		add("rate limits must be >= 0")
	}
	if !logging.ValidLevel(c.LogLevel) {
		add("log_level %q is not one of debug, info, warn, error", c.LogLevel)
	}

	if c.MQTT.Enabled {
		if strings.TrimSpace(c.MQTT.Broker) == "" {
			add("mqtt.broker is required when mqtt is enabled")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			add("mqtt.qos must be 0, 1 or 2")
		}
		if strings.Trim(c.MQTT.TopicPrefix, "/ ") == "" {
			add("mqtt.topic_prefix is required when mqtt is enabled")
		}
	}
	if c.Influx.Enabled {
		for key, val := range map[string]string{"influx.url": c.Influx.URL, "influx.token": c.Influx.Token, "influx.org": c.Influx.Org, "influx.bucket": c.Influx.Bucket} {
			if strings.TrimSpace(val) == "" {
				add("%s is required when influx is enabled", key)
			}
		}
	}

	switch c.Snapshot.Backend {
	case "", "none":
	case "file":
		if strings.TrimSpace(c.Snapshot.Path) == "" {
			add("snapshot.path is required for the file backend")
		}
	case "s3":
		if strings.TrimSpace(c.Snapshot.Endpoint) == "" || strings.TrimSpace(c.Snapshot.Bucket) == "" {
			add("snapshot.endpoint and snapshot.bucket are required for the s3 backend")
		}
	default:
		add("snapshot.backend %q is not one of none, file, s3", c.Snapshot.Backend)
	}

	if len(problems) > 0 {
		return &ConfigurationError{Problems: problems}
	}
	return nil
}

// PollIntervalDuration is the base poll interval before jitter.
func (c Config) PollIntervalDuration() time.Duration {
	return time.Duration(c.PollInterval) * time.Second
}

func (c Config) DiscoveryIntervalDuration() time.Duration {
	return time.Duration(c.DiscoveryInterval) * time.Second
}
