// Package config defines the daemon's configuration surface (expansion
// C14): the four link variants of §6 plus ambient settings, loaded through
// viper with environment variables > config file > defaults precedence.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/scrutinydebugger/scrutiny-core/internal/link"
)

// Config is the daemon's top-level configuration.
type Config struct {
	Link     LinkConfig     `mapstructure:"link"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Storage  StorageConfig  `mapstructure:"storage"`
}

// LinkConfig selects and configures one of the four transport variants.
type LinkConfig struct {
	Kind   string           `mapstructure:"kind"` // "serial", "udp", "tcp", "rtt"
	Serial link.SerialConfig `mapstructure:"serial"`
	UDP    link.UDPConfig    `mapstructure:"udp"`
	TCP    link.TCPConfig    `mapstructure:"tcp"`
	RTT    link.RTTConfig    `mapstructure:"rtt"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	Level string `mapstructure:"level"` // "debug", "info", "warn", "error"
}

// MetricsConfig configures the Prometheus /metrics HTTP endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// StorageConfig configures the reference acquisition store.
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// ToLinkConfig resolves the string-tagged Kind into link.Config's typed
// variant selector.
func (c LinkConfig) ToLinkConfig() (link.Config, error) {
	cfg := link.Config{Serial: c.Serial, UDP: c.UDP, TCP: c.TCP, RTT: c.RTT}
	switch strings.ToLower(c.Kind) {
	case "serial":
		cfg.Kind = link.KindSerial
	case "udp":
		cfg.Kind = link.KindUDP
	case "tcp":
		cfg.Kind = link.KindTCP
	case "rtt":
		cfg.Kind = link.KindRTT
	default:
		return link.Config{}, fmt.Errorf("config: unknown link kind %q", c.Kind)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("link.kind", "tcp")
	v.SetDefault("link.tcp.host", "127.0.0.1")
	v.SetDefault("link.tcp.port", 8765)
	v.SetDefault("link.udp.port", 8765)
	v.SetDefault("link.serial.baud_rate", 115200)
	v.SetDefault("link.serial.data_bits", 8)
	v.SetDefault("link.serial.stop_bits", 1)
	v.SetDefault("link.serial.parity", "none")
	v.SetDefault("link.rtt.jlink_interface", string(link.InterfaceSWD))

	v.SetDefault("logging.level", "info")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9110")

	v.SetDefault("storage.path", "scrutiny-acquisitions.db")
}

// Load resolves the daemon configuration from, in increasing precedence:
// defaults, the config file at configFile (skipped when empty), and
// SCRUTINY_*-prefixed environment variables.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("scrutiny")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}
