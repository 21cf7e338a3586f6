package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"

	"github.com/d21d3q/gosmartmeter/internal/driver"
	"github.com/d21d3q/gosmartmeter/internal/options"
)

// Config is the daemon configuration file.
type Config struct {
	LogLevel string        `toml:"log_level"`
	Serial   SerialConfig  `toml:"serial"`
	Meter    MeterConfig   `toml:"meter"`
	API      APIConfig     `toml:"api"`
	Store    StoreConfig   `toml:"store"`
	Publish  PublishConfig `toml:"publish"`
}

type SerialConfig struct {
	Device string `toml:"device"`
	Baud   int    `toml:"baud"`
	// Parity is one of none, odd, even.
	Parity string `toml:"parity"`
	// ReadTimeout is the line idle time that ends a receive window.
	ReadTimeout Duration `toml:"read_timeout"`
	MaxWindow   int      `toml:"max_window"`
}

type MeterConfig struct {
	Profile          string `toml:"profile"`
	Key              string `toml:"key"`
	VerifyChecksum   bool   `toml:"verify_checksum"`
	ReplayProtection bool   `toml:"replay_protection"`
	// UpdateInterval decodes every Nth window only.
	UpdateInterval int `toml:"update_interval"`
}

type APIConfig struct {
	Enabled       bool   `toml:"enabled"`
	ListenAddress string `toml:"listen_address"`
	ListenPort    int    `toml:"listen_port"`
}

type StoreConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

type PublishConfig struct {
	// Encoding of websocket messages: json or cbor.
	Encoding string `toml:"encoding"`
}

// Duration decodes TOML strings such as "1s" or "250ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration written on first start.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Serial: SerialConfig{
			Device:      "/dev/ttyUSB0",
			Baud:        2400,
			Parity:      "even",
			ReadTimeout: Duration{time.Second},
			MaxWindow:   1024,
		},
		Meter: MeterConfig{
			Profile:        "t210d",
			UpdateInterval: 2,
		},
		API: APIConfig{
			Enabled:       true,
			ListenAddress: "0.0.0.0",
			ListenPort:    9039,
		},
		Store: StoreConfig{
			Enabled: false,
			Path:    "gosmartmeter.db",
		},
		Publish: PublishConfig{Encoding: "json"},
	}
}

// Load reads the configuration at path. A missing file is created with the
// defaults, which are then returned.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		if err := write(path, cfg); err != nil {
			return nil, err
		}
		logrus.WithField("path", path).Info("wrote default configuration")
		return cfg, nil
	}
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return cfg, nil
}

func write(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return nil
}

// Validate checks values the daemon cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.Serial.Device == "" {
		errs = append(errs, errors.New("serial.device is required"))
	}
	if c.Serial.Baud <= 0 {
		errs = append(errs, fmt.Errorf("serial.baud must be positive, got %d", c.Serial.Baud))
	}
	switch c.Serial.Parity {
	case "none", "odd", "even":
	default:
		errs = append(errs, fmt.Errorf("serial.parity must be none, odd or even, got %q", c.Serial.Parity))
	}
	if c.Serial.ReadTimeout.Duration <= 0 {
		errs = append(errs, errors.New("serial.read_timeout must be positive"))
	}
	if c.Serial.MaxWindow < 9 {
		errs = append(errs, fmt.Errorf("serial.max_window must hold at least one frame, got %d", c.Serial.MaxWindow))
	}
	if _, err := driver.Lookup(c.Meter.Profile); err != nil {
		errs = append(errs, fmt.Errorf("meter.profile: %w", err))
	}
	if key, err := c.MeterKey(); err != nil {
		errs = append(errs, fmt.Errorf("meter.key: %w", err))
	} else if key == nil {
		errs = append(errs, fmt.Errorf("meter.key is required (or set %s)", options.KeyEnv))
	}
	if c.Meter.UpdateInterval < 1 {
		errs = append(errs, fmt.Errorf("meter.update_interval must be at least 1, got %d", c.Meter.UpdateInterval))
	}
	if c.API.Enabled && (c.API.ListenPort <= 0 || c.API.ListenPort > 65535) {
		errs = append(errs, fmt.Errorf("api.listen_port out of range: %d", c.API.ListenPort))
	}
	if c.Store.Enabled && c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required when the store is enabled"))
	}
	switch c.Publish.Encoding {
	case "json", "cbor":
	default:
		errs = append(errs, fmt.Errorf("publish.encoding must be json or cbor, got %q", c.Publish.Encoding))
	}
	return errors.Join(errs...)
}

// MeterKey resolves the AES key from the file or the environment.
func (c *Config) MeterKey() ([]byte, error) {
	return options.ResolveKey(c.Meter.Key)
}

// ListenAddr joins the API address and port.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.API.ListenAddress, c.API.ListenPort)
}
