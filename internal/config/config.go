package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Line      LineConfig      `mapstructure:"line"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Store     StoreConfig     `mapstructure:"store"`
	Channels  ChannelsConfig  `mapstructure:"channels"`
	Delivery  DeliveryConfig  `mapstructure:"delivery"`
	Layout    LayoutConfig    `mapstructure:"layout"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LineConfig selects and times the output line.
type LineConfig struct {
	Driver         string        `mapstructure:"driver"` // gpio | sim
	Chip           string        `mapstructure:"chip"`
	Offset         int           `mapstructure:"offset"`
	BitOneHalf     time.Duration `mapstructure:"bit_one_half"`
	BitZeroHalf    time.Duration `mapstructure:"bit_zero_half"`
	Settle         time.Duration `mapstructure:"settle"`
	TelegramLength uint8         `mapstructure:"telegram_length"`
}

type SchedulerConfig struct {
	StartDelay        time.Duration `mapstructure:"start_delay"`
	LocomotivePeriod  time.Duration `mapstructure:"locomotive_period"`
	LocomotiveStagger time.Duration `mapstructure:"locomotive_stagger"`
	AccessoryPeriod   time.Duration `mapstructure:"accessory_period"`
	ResetCount        int           `mapstructure:"reset_count"`
	IdleCount         int           `mapstructure:"idle_count"`
	IdleWhenEmpty     bool          `mapstructure:"idle_when_empty"`
	ResetOnShutdown   bool          `mapstructure:"reset_on_shutdown"`
}

type StoreConfig struct {
	AccessoryCapacity int `mapstructure:"accessory_capacity"`
}

type ChannelsConfig struct {
	Driver      string `mapstructure:"driver"` // fifo | memory
	CommandPath string `mapstructure:"command_path"`
	AckPath     string `mapstructure:"ack_path"`
	Capacity    int    `mapstructure:"capacity"`
}

type DeliveryConfig struct {
	Grace    time.Duration `mapstructure:"grace"`
	Attempts int           `mapstructure:"attempts"`
}

type LayoutConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")

	// Leitung
	v.SetDefault("line.driver", "sim")
	v.SetDefault("line.chip", "gpiochip0")
	v.SetDefault("line.offset", 18)
	v.SetDefault("line.bit_one_half", "58us")
	v.SetDefault("line.bit_zero_half", "100us")
	v.SetDefault("line.settle", "500us")
	v.SetDefault("line.telegram_length", 42)

	v.SetDefault("scheduler.start_delay", "1s")
	v.SetDefault("scheduler.locomotive_period", "60ms")
	v.SetDefault("scheduler.locomotive_stagger", "1ms")
	v.SetDefault("scheduler.accessory_period", "70ms")
	v.SetDefault("scheduler.reset_count", 20)
	v.SetDefault("scheduler.idle_count", 10)
	v.SetDefault("scheduler.idle_when_empty", false)
	v.SetDefault("scheduler.reset_on_shutdown", true)

	v.SetDefault("store.accessory_capacity", 4)

	v.SetDefault("channels.driver", "fifo")
	v.SetDefault("channels.command_path", "/run/dccstation/cmd")
	v.SetDefault("channels.ack_path", "/run/dccstation/ack")
	v.SetDefault("channels.capacity", 1024)

	v.SetDefault("delivery.grace", "50ms")
	v.SetDefault("delivery.attempts", 3)

	v.SetDefault("layout.path", "configs/layout.yaml")

	v.SetDefault("log.level", "info")
}

// Load reads the YAML config at path on top of the defaults. An empty path
// uses defaults and environment only. Every key can be overridden with a
// DCC_ variable, e.g. DCC_LINE_DRIVER=gpio.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Environment Variables automatisch binden
	v.SetEnvPrefix("DCC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Line.Driver {
	case "gpio", "sim":
	default:
		return fmt.Errorf("line.driver must be gpio or sim, got %q", c.Line.Driver)
	}
	switch c.Channels.Driver {
	case "fifo", "memory":
	default:
		return fmt.Errorf("channels.driver must be fifo or memory, got %q", c.Channels.Driver)
	}

	if c.Line.TelegramLength == 0 || c.Line.TelegramLength > 64 {
		return fmt.Errorf("line.telegram_length must be 1-64, got %d", c.Line.TelegramLength)
	}
	if c.Line.BitOneHalf <= 0 || c.Line.BitZeroHalf <= 0 {
		return fmt.Errorf("line bit timings must be positive")
	}
	if c.Scheduler.LocomotivePeriod <= 0 || c.Scheduler.AccessoryPeriod <= 0 {
		return fmt.Errorf("scheduler periods must be positive")
	}
	if c.Scheduler.ResetCount < 0 || c.Scheduler.IdleCount < 0 {
		return fmt.Errorf("scheduler reset/idle counts must not be negative")
	}
	if c.Store.AccessoryCapacity < 1 {
		return fmt.Errorf("store.accessory_capacity must be at least 1")
	}
	// words are two bytes and a channel holds whole words only
	if c.Channels.Capacity < 2 || c.Channels.Capacity%2 != 0 {
		return fmt.Errorf("channels.capacity must be an even number of at least 2, got %d", c.Channels.Capacity)
	}
	if c.Delivery.Attempts < 1 {
		return fmt.Errorf("delivery.attempts must be at least 1")
	}

	return nil
}
