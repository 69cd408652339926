// Copyright 2016 by Thorsten von Eicken, see LICENSE file

package yc600

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/tve/yc600bridge/measure"
	"github.com/tve/yc600bridge/mtframe"
)

// pairStepWindow is the per-step response window during the pairing
// handshake; pairStepSettle is how long each step sleeps afterwards to let
// the inverter settle before the next one is sent.
const pairStepWindow = 1100 * time.Millisecond
const pairStepSettle = 1500 * time.Millisecond

// pollWaitBeforeRead is the fixed delay after sending the poll request
// before collecting the response, mirroring the reference driver's
// time.sleep(1) between send and listen.
const pollWaitBeforeRead = 1 * time.Second

func mustHexBytes(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic("yc600: bad hex literal " + s + ": " + err.Error())
	}
	return b
}

// pairPayload builds the payload (everything after the 2-byte command
// code) for pairing step n (0-3), per the fixed templates in the bridge's
// pairing handshake.
func pairPayload(step int, serial [6]byte, rcid []byte) []byte {
	s := serial[:]
	switch step {
	case 0:
		b := mustHexBytes("0FFFFFFFFFFFFFFFFF14FFFF140D0200000F1100")
		b = append(b, s...)
		b = append(b, mustHexBytes("FFFF10FFFF")...)
		b = append(b, rcid...)
		return b
	case 1:
		b := mustHexBytes("0FFFFFFFFFFFFFFFFF14FFFF140C0201000F0600")
		b = append(b, s...)
		return b
	case 2:
		b := mustHexBytes("0FFFFFFFFFFFFFFFFF14FFFF140F0102000F1100")
		b = append(b, s...)
		b = append(b, rcid[len(rcid)-2:]...)
		b = append(b, mustHexBytes("10FFFF")...)
		b = append(b, rcid...)
		return b
	case 3:
		b := mustHexBytes("0FFFFFFFFFFFFFFFFF14FFFF14010103000F0600")
		b = append(b, rcid...)
		return b
	default:
		panic("yc600: bad pair step")
	}
}

const pairCmd = 0x2402

// PairInverter runs the four-step pairing handshake for the inverter at
// index: it first runs the coordinator init script in pair mode, then
// sends the fixed pairing requests and scans the responses for the
// inverter's serial to learn its short address.
//
// It returns the learned short ID, or nil if no step yielded a valid one.
// The returned ID is byte-swapped relative to how it's found in the wire
// payload, since the inverter reports it little-endian and the rest of
// the protocol (polling) expects it in the swapped form.
func (c *Core) PairInverter(index int) (*[2]byte, error) {
	entry, err := c.reg.Get(index)
	if err != nil {
		return nil, newErr("pair_inverter", InvalidArg, err)
	}

	if _, err := c.StartCoordinator(true); err != nil {
		return nil, newErr("pair_inverter", Timeout, err)
	}

	rcid := reverseBytes(c.cid[:])
	rejectTail := [2]byte{rcid[len(rcid)-2], rcid[len(rcid)-1]}

	for step := 0; step < 4; step++ {
		payload := pairPayload(step, entry.Serial, rcid)
		if err := c.link.Drain(100 * time.Millisecond); err != nil {
			return nil, newErr("pair_inverter", Timeout, err)
		}
		frames, _ := c.link.Request(pairCmd, payload, pairStepWindow)
		time.Sleep(pairStepSettle)

		if id, ok := scanForShortID(frames, entry.Serial, rejectTail); ok {
			swapped := [2]byte{id[1], id[0]}
			return &swapped, nil
		}
	}
	return nil, nil
}

// scanForShortID looks for the inverter's serial inside any frame's
// payload and, if found, returns the 2 bytes that start 6 bytes after the
// start of the match (i.e. immediately following the serial) — unless
// that value is 0000, FFFF, or the trailing 2 bytes of the reversed
// controller ID, all of which are treated as noise rather than a real
// address.
func scanForShortID(frames []mtframe.Frame, serial [6]byte, rejectTail [2]byte) ([2]byte, bool) {
	for _, f := range frames {
		p := f.Payload
		for i := 0; i+6 <= len(p); i++ {
			if !bytesEqual(p[i:i+6], serial[:]) {
				continue
			}
			if i+8 > len(p) {
				continue
			}
			id := [2]byte{p[i+6], p[i+7]}
			if id == ([2]byte{0, 0}) || id == ([2]byte{0xFF, 0xFF}) || id == rejectTail {
				continue
			}
			return id, true
		}
	}
	return [2]byte{}, false
}

func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

// PollInverter sends one poll request to the inverter at index and
// returns its decoded measurements, applying the energy reconciler to the
// raw per-panel readings. PollInverter makes a single attempt; the caller
// is responsible for retrying (spec.md recommends up to 5 times) on a
// recoverable error.
func (c *Core) PollInverter(index int) (measure.Measurement, error) {
	entry, err := c.reg.Get(index)
	if err != nil {
		return measure.Measurement{}, newErr("poll_inverter", InvalidArg, err)
	}

	if err := c.link.Drain(100 * time.Millisecond); err != nil {
		return measure.Measurement{}, newErr("poll_inverter", Timeout, err)
	}

	rcid := reverseBytes(c.cid[:])
	rsid := reverseBytes(entry.ShortID[:])
	payload := make([]byte, 0, 2+8+6+14)
	payload = append(payload, rsid...)
	payload = append(payload, mustHexBytes("1414060001000F13")...)
	payload = append(payload, rcid...)
	payload = append(payload, mustHexBytes("FBFB06BB000000000000C1FEFE")...)

	if err := c.link.WriteRaw(mtframe.Encode(0x2401, payload)); err != nil {
		return measure.Measurement{}, newErr("poll_inverter", Timeout, err)
	}
	time.Sleep(pollWaitBeforeRead)
	raw, err := c.link.ReadRaw(DefaultPollWindow)
	if err != nil {
		return measure.Measurement{}, newErr("poll_inverter", Timeout, err)
	}
	frames, _ := mtframe.DecodeAll(raw)

	var measurementPayload []byte
	for _, f := range frames {
		if f.Cmd == 0x4480 && strings.Contains(strings.ToUpper(hex.EncodeToString(f.Payload)), "CD") {
			return measure.Measurement{}, newErr("poll_inverter", NoRoute, nil)
		}
		if f.Cmd == 0x4481 && f.CRCValid && frameNibbles(f) >= 222 {
			measurementPayload = f.Payload
		}
	}
	if measurementPayload == nil {
		return measure.Measurement{}, newErr("poll_inverter", Timeout, nil)
	}

	m, err := measure.Decode(measurementPayload, entry.Panels)
	if err != nil {
		return measure.Measurement{}, newErr("poll_inverter", DataError, err)
	}
	if measure.Implausible(m) {
		return measure.Measurement{}, newErr("poll_inverter", DataError, nil)
	}

	raw2 := make([]float64, entry.Panels)
	copy(raw2, m.EnergyPanel)
	m.EnergyPanel = measure.Reconcile(&entry.Energy, raw2)
	return m, nil
}

// frameNibbles returns the length, in hex-nibbles, of the full wire frame
// that produced f (header + payload + CRC byte).
func frameNibbles(f mtframe.Frame) int {
	return (4 + len(f.Payload) + 1) * 2
}
