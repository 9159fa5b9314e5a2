// Package config loads the bridge configuration from a YAML file plus
// SEESTAR_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/unklstewy/seestar-bridge/internal/engines/seestar"
	"github.com/unklstewy/seestar-bridge/pkg/bridgeserver"
)

// EnvPrefix is prepended to environment variable overrides, e.g.
// SEESTAR_TELESCOPE_HOST.
const EnvPrefix = "SEESTAR"

// Config is the full bridge configuration.
type Config struct {
	LogLevel  string              `mapstructure:"log_level"`
	Telescope TelescopeConfig     `mapstructure:"telescope"`
	Site      SiteConfig          `mapstructure:"site"`
	MQTT      MQTTConfig          `mapstructure:"mqtt"`
	Server    bridgeserver.Config `mapstructure:"server"`
	Resolver  ResolverConfig      `mapstructure:"resolver"`
}

// TelescopeConfig holds the device connection settings.
type TelescopeConfig struct {
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	UDPPort          int           `mapstructure:"udp_port"`
	DisableDiscovery bool          `mapstructure:"disable_discovery"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	GotoTimeout      time.Duration `mapstructure:"goto_timeout"`
}

// SiteConfig is the observer location. Latitude and longitude are pointers
// so an unset site is distinguishable from coordinates of zero.
type SiteConfig struct {
	Latitude  *float64 `mapstructure:"latitude"`
	Longitude *float64 `mapstructure:"longitude"`
	Elevation float64  `mapstructure:"elevation"`
	Timezone  string   `mapstructure:"timezone"`
}

// MQTTConfig holds the message bus connection settings.
type MQTTConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	BrokerURL string `mapstructure:"broker_url"`
	ClientID  string `mapstructure:"client_id"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
}

// ResolverConfig holds the target resolution settings.
type ResolverConfig struct {
	SimbadURL string `mapstructure:"simbad_url"`
}

// SeestarConfig converts the telescope section into the engine's config,
// leaving unset fields to the engine defaults.
func (c *Config) SeestarConfig() seestar.Config {
	return seestar.Config{
		Host:             c.Telescope.Host,
		Port:             c.Telescope.Port,
		UDPPort:          c.Telescope.UDPPort,
		DisableDiscovery: c.Telescope.DisableDiscovery,
		ConnectTimeout:   c.Telescope.ConnectTimeout,
		GotoTimeout:      c.Telescope.GotoTimeout,
	}
}

// Load reads the configuration. configPath may name a file or a directory
// to search; empty searches ./configs and the working directory for
// bridge.yaml. A missing file is not an error, configuration then comes
// from defaults and environment variables only.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	} else {
		v.SetConfigName("bridge")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("telescope.port", 4700)
	v.SetDefault("telescope.udp_port", 4720)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker_url", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "seestar-bridge")

	v.SetDefault("server.server.listen_address", ":8480")
}

// Validate checks cross-field constraints and fills server defaults.
func (c *Config) Validate() error {
	if c.Telescope.Host == "" {
		return fmt.Errorf("telescope.host is required")
	}
	if c.Telescope.Port <= 0 || c.Telescope.Port > 65535 {
		return fmt.Errorf("telescope.port %d out of range", c.Telescope.Port)
	}

	if (c.Site.Latitude == nil) != (c.Site.Longitude == nil) {
		return fmt.Errorf("site.latitude and site.longitude must be set together")
	}
	if c.Site.Latitude != nil {
		if *c.Site.Latitude < -90 || *c.Site.Latitude > 90 {
			return fmt.Errorf("site.latitude %.4f out of range [-90,90]", *c.Site.Latitude)
		}
		if *c.Site.Longitude < -180 || *c.Site.Longitude > 180 {
			return fmt.Errorf("site.longitude %.4f out of range [-180,180]", *c.Site.Longitude)
		}
	}

	if c.MQTT.Enabled && c.MQTT.BrokerURL == "" {
		return fmt.Errorf("mqtt.broker_url is required when mqtt is enabled")
	}

	return c.Server.Validate()
}
