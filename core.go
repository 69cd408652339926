// Copyright 2016 by Thorsten von Eicken, see LICENSE file

// Package yc600 is the protocol engine for APsystems YC600/QS1
// micro-inverters: it initialises a CC2530-based Zigbee coordinator, pairs
// with inverters, polls them, and hands back calibrated measurements with
// daily energy counters that stay monotonic across inverter restarts.
//
// Core owns the serial link exclusively for the duration of each call; see
// the package-level concurrency note on Core for the rules around
// concurrent use.
package yc600

import (
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/tve/yc600bridge/coordinator"
	"github.com/tve/yc600bridge/measure"
	"github.com/tve/yc600bridge/mtframe"
	"github.com/tve/yc600bridge/mtlink"
	"github.com/tve/yc600bridge/mtserial"
	"github.com/tve/yc600bridge/registry"
)

// DefaultControllerID is the controller identity used by the reference
// hardware when none is supplied.
const DefaultControllerID = "D8A3011B9780"

// Default gap-timeout tuning, per spec.md §9: these are empirical and the
// open question there says to expose them as configuration.
const (
	DefaultFirstByteTimeout = 1100 * time.Millisecond
	DefaultIdleGap          = 150 * time.Millisecond
	DefaultPollWindow       = 1 * time.Second
)

// Core is the protocol engine. It is not safe for concurrent use: all of
// its methods assume exclusive ownership of the serial transport for their
// duration, and the inverter registry is mutated only from within calls on
// Core. Callers must not invoke ResetCounters concurrently with
// PollInverter on the same index.
type Core struct {
	link *mtlink.Dispatcher
	cid  [6]byte
	reg  *registry.Registry
}

// New constructs a Core driving the given reader/writer as the serial
// link to the radio, identifying itself to the Zigbee network as
// controllerID (12 hex characters, 6 bytes). Pass DefaultControllerID if
// the caller has no reason to pick a different identity.
func New(reader io.Reader, writer io.Writer, controllerID string) (*Core, error) {
	cid, err := parseCID(controllerID)
	if err != nil {
		return nil, newErr("new", InvalidArg, err)
	}
	transport := mtserial.NewBlocking(combine(reader, writer))
	return &Core{
		link: mtlink.New(transport, DefaultIdleGap),
		cid:  cid,
		reg:  registry.New(),
	}, nil
}

func parseCID(s string) ([6]byte, error) {
	var cid [6]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return cid, fmt.Errorf("controller ID must be hex: %w", err)
	}
	if len(b) != 6 {
		return cid, fmt.Errorf("controller ID must be 6 bytes (12 hex chars), got %d bytes", len(b))
	}
	copy(cid[:], b)
	return cid, nil
}

// AddInverter registers a new inverter identified by its 6-byte serial
// (used only during pairing) and returns its registry index. panels must
// be 2 or 4. shortID may be the zero value if pairing hasn't happened yet.
func (c *Core) AddInverter(serial [6]byte, shortID [2]byte, panels int) (int, error) {
	idx, err := c.reg.Add(serial, shortID, panels)
	if err != nil {
		return 0, newErr("add_inverter", InvalidArg, err)
	}
	return idx, nil
}

// SetInverterID updates the short address of an already-registered
// inverter, e.g. after pairing completes out of band.
func (c *Core) SetInverterID(index int, shortID [2]byte) error {
	if err := c.reg.SetShortID(index, shortID); err != nil {
		return newErr("set_inverter_id", InvalidArg, err)
	}
	return nil
}

// ResetCounters zeroes the per-panel energy state for index so the next
// poll starts the daily total fresh. Must not be called concurrently with
// PollInverter on the same index.
func (c *Core) ResetCounters(index int) error {
	if err := c.reg.ResetCounters(index); err != nil {
		return newErr("reset_counters", InvalidArg, err)
	}
	return nil
}

// pingExpect is the fixed ZigbeePingResp payload that indicates a healthy radio.
var pingExpect = []byte{0x79, 0x07}

// PingRadio sends a ZigbeePing and reports whether the radio answered
// with the expected ZigbeePingResp payload.
func (c *Core) PingRadio() (bool, error) {
	if err := c.link.Drain(100 * time.Millisecond); err != nil {
		return false, newErr("ping_radio", RadioUnhealthy, err)
	}
	frames, err := c.link.Request(0x2101, nil, DefaultFirstByteTimeout)
	if err != nil {
		return false, newErr("ping_radio", RadioUnhealthy, err)
	}
	for _, f := range frames {
		if f.Cmd == 0x6101 && f.CRCValid && bytesEqual(f.Payload, pingExpect) {
			return true, nil
		}
	}
	return false, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// dispatcherTransport adapts mtlink.Dispatcher to coordinator.Transport:
// the init script cares about raw, non-decoded response bytes because its
// "expected prefix" checks are against the wire encoding, not a parsed
// frame.
type dispatcherTransport struct {
	link *mtlink.Dispatcher
}

func (d dispatcherTransport) Write(cmd uint16, payload []byte) error {
	return d.link.WriteRaw(mtframe.Encode(cmd, payload))
}

func (d dispatcherTransport) ReadUntilIdle(window time.Duration) ([]byte, error) {
	return d.link.ReadRaw(window)
}

// StartCoordinator runs the fixed init script that resets the CC2530 and
// brings it up as a Zigbee coordinator. In pairMode the script stops after
// starting the coordinator and skips the final announcement to already
// paired inverters. It returns whether every step's expected response was
// observed; the script is open-loop and is not retried internally.
func (c *Core) StartCoordinator(pairMode bool) (bool, error) {
	script := coordinator.Build(c.cid, pairMode)
	ok, err := coordinator.Run(dispatcherTransport{c.link}, script)
	if err != nil {
		return false, newErr("start_coordinator", Timeout, err)
	}
	return ok, nil
}

// CheckCoordinator sends the bare 2700 diagnostic command and returns the
// raw response bytes, letting an operator sanity check the Zigbee stack
// without running the full init script. (Supplemented from the reference
// driver's check_coordinator.)
func (c *Core) CheckCoordinator() ([]byte, error) {
	if err := c.link.Drain(100 * time.Millisecond); err != nil {
		return nil, newErr("check_coordinator", Timeout, err)
	}
	raw, err := dispatcherTransport{c.link}.roundTrip(0x2700, nil, 500*time.Millisecond)
	if err != nil {
		return nil, newErr("check_coordinator", Timeout, err)
	}
	return raw, nil
}

func (d dispatcherTransport) roundTrip(cmd uint16, payload []byte, window time.Duration) ([]byte, error) {
	if err := d.Write(cmd, payload); err != nil {
		return nil, err
	}
	return d.ReadUntilIdle(window)
}
