// Copyright 2016 by Thorsten von Eicken, see LICENSE file

// Command yc600-bridge wires together the serial link, the Zigbee
// coordinator, the configured inverters, and an MQTT publisher, then runs
// the polling scheduler forever.
package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	yc600 "github.com/tve/yc600bridge"
	"github.com/tve/yc600bridge/internal/config"
	"github.com/tve/yc600bridge/internal/publish"
	"github.com/tve/yc600bridge/internal/resetline"
	"github.com/tve/yc600bridge/internal/rtsched"
	"github.com/tve/yc600bridge/internal/serialio"
)

func main() {
	configFile := flag.String("config", "yc600-bridge.toml", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *debug {
		cfg.Debug = true
	}

	logger := func(format string, v ...interface{}) {}
	if cfg.Debug {
		logger = func(format string, v ...interface{}) {
			fmt.Fprintf(os.Stderr, format+"\n", v...)
		}
	}

	reset, err := resetline.Open(cfg.Reset.Pin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open reset line: %s\n", err)
		os.Exit(1)
	}
	if err := reset.Reset(100*time.Millisecond, 500*time.Millisecond); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to reset radio: %s\n", err)
		os.Exit(1)
	}

	port, err := serialio.Open(cfg.Serial.Device, yc600.DefaultFirstByteTimeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open serial port %s: %s\n", cfg.Serial.Device, err)
		os.Exit(1)
	}
	logger("yc600-bridge: serial port %s open", cfg.Serial.Device)

	core, err := yc600.New(port, port, yc600.DefaultControllerID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start protocol engine: %s\n", err)
		os.Exit(1)
	}

	ok, err := core.StartCoordinator(false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start coordinator: %s\n", err)
		os.Exit(1)
	}
	if !ok {
		logger("yc600-bridge: coordinator init script did not fully verify, continuing anyway")
	}

	targets := make([]rtsched.Target, 0, len(cfg.Inverters))
	for _, inv := range cfg.Inverters {
		serial, err := parseSerial(inv.Serial)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Bad serial for inverter %s: %s\n", inv.Name, err)
			os.Exit(1)
		}
		var shortID [2]byte
		if inv.ShortID != "" {
			id, err := parseShortID(inv.ShortID)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Bad short_id for inverter %s: %s\n", inv.Name, err)
				os.Exit(1)
			}
			shortID = id
		}
		idx, err := core.AddInverter(serial, shortID, inv.Panels)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to register inverter %s: %s\n", inv.Name, err)
			os.Exit(1)
		}
		if inv.ShortID == "" {
			logger("yc600-bridge: pairing inverter %s", inv.Name)
			id, err := core.PairInverter(idx)
			if err != nil || id == nil {
				fmt.Fprintf(os.Stderr, "Failed to pair inverter %s: %v\n", inv.Name, err)
				os.Exit(1)
			}
			if err := core.SetInverterID(idx, *id); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to record short ID for %s: %s\n", inv.Name, err)
				os.Exit(1)
			}
		}
		targets = append(targets, rtsched.Target{Index: idx, Name: inv.Name})
	}

	pub, err := publish.NewMQTT(publish.MQTTConfig{
		Host:     cfg.Mqtt.Host,
		Port:     cfg.Mqtt.Port,
		User:     cfg.Mqtt.User,
		Password: cfg.Mqtt.Password,
		Prefix:   cfg.Mqtt.Prefix,
	}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to MQTT broker: %s\n", err)
		os.Exit(1)
	}

	sched := rtsched.New(core, publish.Fanout{Sinks: []publish.Publisher{pub}, Logger: logger}, targets, rtsched.Config{
		Logger: logger,
	})
	logger("yc600-bridge: ready, polling %d inverter(s)", len(targets))
	sched.Run(nil)
}

func parseSerial(s string) ([6]byte, error) {
	var out [6]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) != 6 {
		return out, fmt.Errorf("serial must be 6 bytes (12 hex chars), got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

func parseShortID(s string) ([2]byte, error) {
	var out [2]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) != 2 {
		return out, fmt.Errorf("short_id must be 2 bytes (4 hex chars), got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}
