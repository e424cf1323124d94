// Package config provides the YAML configuration shared by the command line
// tools and builds a scale instance for the configured transport
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fako1024/decentscale/pkg/decent"
	"github.com/fako1024/decentscale/pkg/scale"
	"github.com/fako1024/decentscale/pkg/transport"
	"github.com/fako1024/decentscale/pkg/transport/ble"
	"github.com/fako1024/decentscale/pkg/transport/usb"
	"github.com/fako1024/decentscale/pkg/transport/wifi"
	"github.com/mcuadros/go-defaults"
	"gopkg.in/yaml.v3"
)

// Supported transports
const (
	TransportBLE  = "ble"
	TransportUSB  = "usb"
	TransportWiFi = "wifi"
)

// The scale disconnects if it does not receive a heartbeat within this period
const keepaliveTimeout = 5 * time.Second

// Config denotes the configuration of a scale connection
type Config struct {
	Transport string `yaml:"transport" default:"ble"`

	// Address skips discovery if set (BLE peripheral ID, serial port or host)
	Address string `yaml:"address"`

	BLE  BLE  `yaml:"ble"`
	USB  USB  `yaml:"usb"`
	WiFi WiFi `yaml:"wifi"`

	Timeout                  time.Duration `yaml:"timeout" default:"20s"`
	MaxRetries               int           `yaml:"max_retries" default:"3"`
	FixDroppedCommand        bool          `yaml:"fix_dropped_command" default:"true"`
	Heartbeat                bool          `yaml:"heartbeat" default:"false"`
	HeartbeatInterval        time.Duration `yaml:"heartbeat_interval" default:"4s"`
	DroppedCommandRetryDelay time.Duration `yaml:"dropped_command_retry_delay" default:"50ms"`
	PostCommandSettleDelay   time.Duration `yaml:"post_command_settle_delay" default:"200ms"`

	API API `yaml:"api"`

	Debug bool `yaml:"debug" default:"false"`
}

// BLE denotes Bluetooth specific settings
type BLE struct {
	DeviceName string `yaml:"device_name" default:"Decent Scale"`
}

// USB denotes USB-serial specific settings
type USB struct {
	BaudRate int `yaml:"baud_rate" default:"115200"`
}

// WiFi denotes WebSocket specific settings
type WiFi struct {
	Host string `yaml:"host" default:"hds.local"`
}

// API denotes the settings of the REST API (disabled if Listen is empty)
type API struct {
	Listen string `yaml:"listen"`
}

// Default returns a configuration populated with default values
func Default() *Config {
	cfg := new(Config)
	defaults.SetDefaults(cfg)

	return cfg
}

// Load reads the configuration from a YAML file. Unset values retain their
// defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes a YAML configuration. Unset values retain their defaults
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, cfg.Validate()
}

// Validate checks the configuration for consistency
func (cfg *Config) Validate() error {
	switch cfg.Transport {
	case TransportBLE, TransportUSB, TransportWiFi:
	default:
		return fmt.Errorf("invalid transport `%s` (must be one of `%s`, `%s`, `%s`)", cfg.Transport, TransportBLE, TransportUSB, TransportWiFi)
	}

	if cfg.MaxRetries < 1 {
		return errors.New("max_retries must be at least 1")
	}
	if cfg.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if cfg.Heartbeat && cfg.Transport == TransportWiFi {
		return errors.New("heartbeat is not supported by the wifi transport")
	}
	if cfg.Heartbeat && (cfg.HeartbeatInterval <= 0 || cfg.HeartbeatInterval >= keepaliveTimeout) {
		return fmt.Errorf("heartbeat_interval must be between 0 and %v", keepaliveTimeout)
	}

	return nil
}

// Build instantiates a scale using the configured transport
func (cfg *Config) Build(logger scale.Logger) (*decent.Scale, error) {
	var (
		t transport.Transport
		d transport.Discoverer
	)

	switch cfg.Transport {
	case TransportBLE:
		bt, err := ble.New(
			ble.WithDeviceName(cfg.BLE.DeviceName),
			ble.WithLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize bluetooth: %w", err)
		}
		t, d = bt, bt
	case TransportUSB:
		ut := usb.New(
			usb.WithBaudRate(cfg.USB.BaudRate),
			usb.WithLogger(logger),
		)
		t, d = ut, ut
	case TransportWiFi:
		wt := wifi.New(
			wifi.WithHost(cfg.WiFi.Host),
			wifi.WithLogger(logger),
		)
		t, d = wt, wt
	default:
		return nil, fmt.Errorf("invalid transport `%s`", cfg.Transport)
	}

	if cfg.Address != "" {
		d = transport.Static(cfg.Address)
	}

	return decent.New(
		decent.WithTransport(t),
		decent.WithDiscoverer(d),
		decent.WithLogger(logger),
		decent.WithTimeout(cfg.Timeout),
		decent.WithFixDroppedCommand(cfg.retransmit()),
		decent.WithHeartbeat(cfg.Heartbeat),
		decent.WithHeartbeatInterval(cfg.HeartbeatInterval),
		decent.WithDroppedCommandRetryDelay(cfg.DroppedCommandRetryDelay),
		decent.WithPostCommandSettleDelay(cfg.PostCommandSettleDelay),
	)
}

// retransmit determines if commands are sent twice. The Wi-Fi bridge relays
// every message, so retransmissions would e.g. tare twice
func (cfg *Config) retransmit() bool {
	return cfg.FixDroppedCommand && cfg.Transport != TransportWiFi
}
