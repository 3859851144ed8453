package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Serial  SerialConfig  `yaml:"serial"`
	Poll    PollConfig    `yaml:"poll"`
	HTTP    HTTPConfig    `yaml:"http"`
	Redis   RedisConfig   `yaml:"redis"`
	Log     LogConfig     `yaml:"log"`
	Monitor MonitorConfig `yaml:"monitor"`
}

// SerialConfig describes the link to the stamp. Device is a serial device
// path, socket://host:port or i2c://address for a stamp on the local I2C bus.
type SerialConfig struct {
	Device     string `yaml:"device"`
	Baud       int    `yaml:"baud"`
	I2CAddress int8   `yaml:"i2c_address"`
}

type PollConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
	// Reconnect is the wait before reopening a lost link
	Reconnect time.Duration `yaml:"reconnect"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
	// History is the number of measurements kept per session list
	History int64 `yaml:"history"`
}

type LogConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type MonitorConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoadConfig reads path on top of the defaults
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := GetDefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks values the stamp or the daemon can not work with
func (c *Config) Validate() error {
	if c.Serial.Baud <= 0 {
		return fmt.Errorf("serial.baud must be positive, got %d", c.Serial.Baud)
	}
	if c.Serial.I2CAddress != -1 && c.Serial.I2CAddress < 1 {
		return fmt.Errorf("serial.i2c_address must be 1..127 or -1, got %d", c.Serial.I2CAddress)
	}
	if c.Poll.Enabled && c.Poll.Interval <= 0 {
		return fmt.Errorf("poll.interval must be positive, got %v", c.Poll.Interval)
	}
	return nil
}

// GetDefaultConfig returns the built-in defaults
func GetDefaultConfig() *Config {
	return &Config{
		Serial: SerialConfig{
			Baud:       9600,
			I2CAddress: -1,
		},
		Poll: PollConfig{
			Enabled:   true,
			Interval:  time.Second,
			Timeout:   5 * time.Second,
			Reconnect: 12 * time.Second,
		},
		HTTP: HTTPConfig{
			Addr: ":8000",
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			Channel: "ezo_measurements",
			History: 1000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Monitor: MonitorConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}
