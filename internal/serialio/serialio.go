// Copyright 2016 by Thorsten von Eicken, see LICENSE file

// Package serialio opens the physical serial link to the CC2530 radio
// module. It is the one place in the bridge that talks to an actual
// /dev/tty device; everything above it deals in io.ReadWriter.
package serialio

import (
	"fmt"
	"time"

	"github.com/tarm/serial"
)

// Open opens dev at 115200 baud, 8 data bits, no parity, 1 stop bit — the
// fixed UART configuration the CC2530 firmware expects. readTimeout bounds
// each individual Read call so mtserial.Blocking's gap-timeout logic never
// blocks forever on a dead radio.
func Open(dev string, readTimeout time.Duration) (*serial.Port, error) {
	cfg := &serial.Config{
		Name:        dev,
		Baud:        115200,
		ReadTimeout: readTimeout,
	}
	port, err := serial.OpenPort(cfg)
	if err != nil {
		return nil, fmt.Errorf("serialio: open %s: %w", dev, err)
	}
	return port, nil
}
