package app

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds runtime options for building the app.
type Config struct {
	Home      string          `mapstructure:"home"` // data directory, e.g. $HOME/.peerchat
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Messaging MessagingConfig `mapstructure:"messaging"`
	History   HistoryConfig   `mapstructure:"history"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Log       LogConfig       `mapstructure:"log"`
}

// DiscoveryConfig holds UDP presence settings.
type DiscoveryConfig struct {
	Port       int           `mapstructure:"port"`
	Broadcast  string        `mapstructure:"broadcast"`
	Interval   time.Duration `mapstructure:"interval"`
	StaleAfter time.Duration `mapstructure:"staleAfter"`
}

// MessagingConfig holds TCP settings.
type MessagingConfig struct {
	Port        int           `mapstructure:"port"`
	DialTimeout time.Duration `mapstructure:"dialTimeout"`
	IOTimeout   time.Duration `mapstructure:"ioTimeout"`
}

// HistoryConfig controls the message log.
type HistoryConfig struct {
	// RetainDays > 0 deletes older messages at startup.
	RetainDays int `mapstructure:"retainDays"`
}

type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

type LogConfig struct {
	Debug bool `mapstructure:"debug"`
}

// EnvPrefix prefixes environment overrides, e.g. PEERCHAT_MESSAGING_PORT.
const EnvPrefix = "PEERCHAT"

// Load reads configuration from defaults, an optional YAML file, the
// environment and finally the explicit overrides in set (usually CLI flags).
func Load(cfgFile string, set map[string]any) (*Config, error) {
	v := viper.New()

	v.SetDefault("home", defaultHome())
	v.SetDefault("discovery.port", 6667)
	v.SetDefault("discovery.broadcast", "255.255.255.255")
	v.SetDefault("discovery.interval", 3*time.Second)
	v.SetDefault("discovery.staleAfter", 10*time.Second)
	v.SetDefault("messaging.port", 6668)
	v.SetDefault("messaging.dialTimeout", 3*time.Second)
	v.SetDefault("messaging.ioTimeout", 5*time.Second)
	v.SetDefault("history.retainDays", 0)
	v.SetDefault("metrics.listen", "")
	v.SetDefault("log.debug", false)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("peerchat")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(defaultHome())
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}
	for k, val := range set {
		v.Set(k, val)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultHome() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		return ".peerchat"
	}
	return filepath.Join(dir, ".peerchat")
}
