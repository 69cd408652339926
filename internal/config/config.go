// Copyright 2016 by Thorsten von Eicken, see LICENSE file

// Package config loads the bridge's TOML configuration file, following the
// same toml.Unmarshal-into-tagged-structs approach as the teacher gateway.
package config

import (
	"fmt"
	"io/ioutil"

	"github.com/BurntSushi/toml"
)

// Config is the top-level bridge configuration file.
type Config struct {
	Debug     bool
	Serial    SerialConfig
	Reset     ResetConfig
	Mqtt      MqttConfig
	Inverters []InverterConfig
}

// SerialConfig describes the UART the CC2530 radio is attached to.
type SerialConfig struct {
	Device string
	Baud   int `toml:"baud"`
}

// ResetConfig names the GPIO pin wired to the coordinator's reset line.
// Pin may be empty, in which case the bridge never resets the radio in
// hardware and relies on the MT SYS_RESET_REQ step of the init script alone.
type ResetConfig struct {
	Pin string
}

// MqttConfig is the broker connection used by internal/publish.
type MqttConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Prefix   string
}

// InverterConfig is one row of the inverter table: the name it publishes
// under, a serial number known before pairing, how many panels it has, and
// its short ID if already paired.
type InverterConfig struct {
	Name    string
	Serial  string
	Panels  int
	ShortID string `toml:"short_id"` // may be empty until paired
}

// Load reads and parses the TOML file at path.
func Load(path string) (*Config, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %s: %w", path, err)
	}
	cfg := &Config{}
	if err := toml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: cannot parse %s: %w", path, err)
	}
	if cfg.Serial.Device == "" {
		return nil, fmt.Errorf("config: serial.device is required")
	}
	if cfg.Serial.Baud == 0 {
		cfg.Serial.Baud = 115200
	}
	for i, inv := range cfg.Inverters {
		if inv.Panels != 2 && inv.Panels != 4 {
			return nil, fmt.Errorf("config: inverters[%d] (%s): panels must be 2 or 4, got %d", i, inv.Name, inv.Panels)
		}
	}
	return cfg, nil
}
