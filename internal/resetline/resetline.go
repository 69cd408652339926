// Copyright 2016 by Thorsten von Eicken, see LICENSE file

// Package resetline drives the CC2530's hardware reset pin, the same way
// the teacher gateway opens GPIO pins by name via periph.io for chip select
// and interrupt lines.
package resetline

import (
	"fmt"
	"time"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
)

// Line is the reset_radio() hook named in the bridge's external interfaces:
// drive the pin low to hold the coordinator in reset, then release it.
type Line struct {
	pin gpio.PinIO
}

// Open looks up pinName (e.g. "GPIO17") by name. An empty pinName yields a
// no-op Line whose Reset does nothing, for boards that reset the radio only
// through the MT SYS_RESET_REQ step.
func Open(pinName string) (*Line, error) {
	if pinName == "" {
		return &Line{}, nil
	}
	pin := gpioreg.ByName(pinName)
	if pin == nil {
		return nil, fmt.Errorf("resetline: cannot open pin %s", pinName)
	}
	if err := pin.Out(gpio.High); err != nil {
		return nil, fmt.Errorf("resetline: cannot drive pin %s: %w", pinName, err)
	}
	return &Line{pin: pin}, nil
}

// Reset pulses the reset line low for hold, then drives it high again and
// waits settle for the coordinator to come out of reset before the caller
// starts talking to it over the serial link.
func (l *Line) Reset(hold, settle time.Duration) error {
	if l.pin == nil {
		return nil
	}
	if err := l.pin.Out(gpio.Low); err != nil {
		return fmt.Errorf("resetline: drive low: %w", err)
	}
	time.Sleep(hold)
	if err := l.pin.Out(gpio.High); err != nil {
		return fmt.Errorf("resetline: drive high: %w", err)
	}
	time.Sleep(settle)
	return nil
}
