// Package config loads the driver configuration: the devices to attach
// and where their compiled pipeline metadata lives.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"pipesnap/internal/psnap"
)

// Config holds all driver configuration.
type Config struct {
	Metadata string   `yaml:"metadata"`
	LogLevel string   `yaml:"log_level"`
	Archive  string   `yaml:"archive"`
	Diag     Diag     `yaml:"diag"`
	Devices  []Device `yaml:"devices"`
}

// Diag configures the diagnostics HTTP surface.
type Diag struct {
	Addr string `yaml:"addr"`
}

// Device describes one attached device.
type Device struct {
	ID           int           `yaml:"id"`
	Family       string        `yaml:"family"`
	Pipes        int           `yaml:"pipes"`
	Stages       int           `yaml:"stages"`
	ClockMHz     uint32        `yaml:"clock_mhz"`
	Profiles     []Profile     `yaml:"profiles"`
	PipeMap      []int         `yaml:"pipe_map"`
	Notify       string        `yaml:"notify"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Profile assigns logical pipes to a compiled program.
type Profile struct {
	ID    int   `yaml:"id"`
	Pipes []int `yaml:"pipes"`
}

// Notification modes.
const (
	NotifyInterrupt = "interrupt"
	NotifyPoll      = "poll"
)

// DefaultConfig returns a configuration with a single gen2 device.
func DefaultConfig() *Config {
	c := &Config{Devices: []Device{{ID: 0, Family: "gen2"}}}
	c.defaults()
	return c
}

func (c *Config) defaults() {
	if c.Metadata == "" {
		c.Metadata = "pipeline.toml"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	for i := range c.Devices {
		c.Devices[i].defaults()
	}
}

func (d *Device) defaults() {
	if d.Family == "" {
		d.Family = "gen2"
	}
	if d.Pipes <= 0 {
		d.Pipes = 4
	}
	if d.Stages <= 0 {
		d.Stages = 12
		if d.Family == "gen3" {
			d.Stages = 20
		}
	}
	if d.ClockMHz == 0 {
		d.ClockMHz = 1000
	}
	if d.Notify == "" {
		d.Notify = NotifyInterrupt
	}
	if d.PollInterval <= 0 {
		d.PollInterval = 100 * time.Millisecond
	}
}

// WithDefaults returns a copy of d with unset values filled in.
func (d Device) WithDefaults() Device {
	d.defaults()
	return d
}

// Validate checks every device for values the registry would reject.
func (c *Config) Validate() error {
	seen := make(map[int]bool)
	for _, d := range c.Devices {
		if d.ID < 0 || d.ID >= psnap.MaxDevices {
			return fmt.Errorf("device %d: id out of range", d.ID)
		}
		if seen[d.ID] {
			return fmt.Errorf("device %d: listed twice", d.ID)
		}
		seen[d.ID] = true
		if psnap.ParseChipFamily(d.Family) == psnap.FamilyUnknown {
			return fmt.Errorf("device %d: unknown chip family %q", d.ID, d.Family)
		}
		if d.Pipes > psnap.MaxPipes {
			return fmt.Errorf("device %d: %d pipes, at most %d", d.ID, d.Pipes, psnap.MaxPipes)
		}
		if d.Stages > psnap.MaxStages {
			return fmt.Errorf("device %d: %d stages, at most %d", d.ID, d.Stages, psnap.MaxStages)
		}
		if d.Notify != NotifyInterrupt && d.Notify != NotifyPoll {
			return fmt.Errorf("device %d: unknown notify mode %q", d.ID, d.Notify)
		}
		if d.PipeMap != nil && len(d.PipeMap) != d.Pipes {
			return fmt.Errorf("device %d: pipe_map has %d entries for %d pipes", d.ID, len(d.PipeMap), d.Pipes)
		}
	}
	return nil
}

// LoadConfig reads a YAML config file, fills defaults and validates it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}
