// Copyright 2016 by Thorsten von Eicken, see LICENSE file

// Package measure decodes an AF_INCOMING_MSG poll-response payload into
// physical measurements and reconciles the per-panel daily energy
// counters across inverter restarts.
//
// Unlike the original Python driver, which operates on hex strings and
// calls int(s, 16) on slices of them, this package works entirely on byte
// slices and half-nibble accessors. All offsets below are still given in
// hex-nibbles, matching the protocol documentation, and are read through
// the nibble accessors (nib, u16be, u24be) directly.
package measure

import (
	"fmt"
	"math"

	"github.com/tve/yc600bridge/registry"
)

// headerNibbles is the length, in hex-nibbles, of the AF_INCOMING_MSG
// header that precedes the measurement payload within Decode's input.
//
// The reference driver counts 38 nibbles from the start of the whole MT
// frame (FE|LEN|CMD_HI|CMD_LO|payload...), i.e. 8 nibbles of frame header
// plus 30 nibbles of AF_INCOMING_MSG header. mtframe.Decode has already
// stripped the 8-nibble FE|LEN|CMD prefix by the time Decode sees its
// input, so only the remaining 30 nibbles need to be stripped here.
const headerNibbles = 30

// Measurement holds one poll's decoded, calibrated readings. Per-panel
// fields are indexed 0-based (VoltageDC[0] is "panel 1" in the protocol
// docs).
type Measurement struct {
	Temperature float64 // degrees C
	FreqAC      float64 // Hz
	VoltageAC   float64 // V
	VoltageDC   []float64
	CurrentDC   []float64
	WattPanel   []float64
	EnergyPanel []float64 // Wh, after reconciliation
}

// nib returns the half-byte at nibble index i of a byte slice addressed in
// nibbles (even i = high nibble, odd i = low nibble).
func nib(b []byte, i int) byte {
	v := b[i/2]
	if i%2 == 0 {
		return v >> 4
	}
	return v & 0x0f
}

// u16be returns the big-endian value spanning nibbles [lo:hi) (hi-lo is 2
// or 4: Decode uses it for both single-byte and 16-bit fields).
func u16be(b []byte, lo, hi int) uint32 {
	return beNibbles(b, lo, hi)
}

// u24be returns the big-endian uint24 spanning nibbles [lo:hi) (hi-lo==6).
func u24be(b []byte, lo, hi int) uint32 {
	return beNibbles(b, lo, hi)
}

func beNibbles(b []byte, lo, hi int) uint32 {
	var v uint32
	for i := lo; i < hi; i++ {
		v = v<<4 | uint32(nib(b, i))
	}
	return v
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// Decode parses a poll-response payload (an mtframe.Frame's Payload, i.e.
// the frame already has FE|LEN|CMD stripped; Decode strips the remaining
// AF_INCOMING_MSG header itself) into a Measurement for an inverter with
// the given panel count (2 or 4).
//
// The 4-panel (QS1) branch's additional energy offsets (nibbles 98:104
// and 108:114 for panels 3 and 4) do not receive the panel1/panel2 swap
// applied to the 2-panel offsets below — this mirrors an upstream erratum
// in the reference driver and has not been independently confirmed
// against QS1 captures; see the open question recorded in DESIGN.md.
// In the same branch, the DC3/DC4 voltages take their low nibble from
// nibbles 36 and 30, which sit inside the neighbouring current fields; this
// layout is likewise unverified for QS1.
func Decode(payload []byte, panels int) (Measurement, error) {
	if panels != registry.Panels2 && panels != registry.Panels4 {
		return Measurement{}, fmt.Errorf("measure: unsupported panel count %d", panels)
	}
	// payload is raw bytes, already past FE|LEN|CMD; the offsets in the
	// protocol table are in nibbles into the region after the remaining
	// AF_INCOMING_MSG header, so we need headerNibbles/2 bytes of header
	// followed by enough body to reach the highest nibble offset we touch.
	headerBytes := headerNibbles / 2
	maxNibble := 94
	if panels == registry.Panels4 {
		maxNibble = 114
	}
	if len(payload) < headerBytes+maxNibble/2 {
		return Measurement{}, fmt.Errorf("measure: payload too short: %d bytes", len(payload))
	}
	data := payload[headerBytes:]

	m := Measurement{
		VoltageDC:   make([]float64, panels),
		CurrentDC:   make([]float64, panels),
		WattPanel:   make([]float64, panels),
		EnergyPanel: make([]float64, panels),
	}

	m.Temperature = round(-258.7+0.2752*float64(u16be(data, 24, 28)), 2)
	m.FreqAC = round(50_000_000/float64(u24be(data, 28, 34)), 2)

	// DC current/voltage panel 1.
	cur1 := (float64(u16be(data, 48, 50)) + float64(nib(data, 51))*256) * (27.5 / 4096)
	volt1 := (float64(u16be(data, 52, 54))*16 + float64(nib(data, 50))) * (82.5 / 4096)
	// DC current/voltage panel 2.
	cur2 := (float64(u16be(data, 54, 56)) + float64(nib(data, 57))*256) * (27.5 / 4096)
	volt2 := (float64(u16be(data, 58, 60))*16 + float64(nib(data, 56))) * (82.5 / 4096)

	m.CurrentDC[0] = round(cur1, 2)
	m.VoltageDC[0] = round(volt1, 2)
	m.CurrentDC[1] = round(cur2, 2)
	m.VoltageDC[1] = round(volt2, 2)
	m.WattPanel[0] = round(volt1*cur1, 2)
	m.WattPanel[1] = round(volt2*cur2, 2)

	m.VoltageAC = round(float64(u16be(data, 60, 64))/1.3277/4, 2)

	// Energy counters: panel1/panel2 offsets are intentionally swapped
	// relative to naive nibble order (upstream erratum, see doc comment).
	rawEnergy1 := float64(u24be(data, 88, 94)) * (8.311 / 3600)
	rawEnergy2 := float64(u24be(data, 78, 84)) * (8.311 / 3600)
	m.EnergyPanel[0] = round(rawEnergy1, 3)
	m.EnergyPanel[1] = round(rawEnergy2, 3)

	if panels == registry.Panels4 {
		cur3 := (float64(u16be(data, 34, 36)) + float64(nib(data, 37))*256) * (27.5 / 4096)
		volt3 := (float64(u16be(data, 38, 40))*16 + float64(nib(data, 36))) * (82.5 / 4096)
		cur4 := (float64(u16be(data, 28, 30)) + float64(nib(data, 31))*256) * (27.5 / 4096)
		volt4 := (float64(u16be(data, 32, 34))*16 + float64(nib(data, 30))) * (82.5 / 4096)

		m.CurrentDC[2] = round(cur3, 2)
		m.VoltageDC[2] = round(volt3, 2)
		m.CurrentDC[3] = round(cur4, 2)
		m.VoltageDC[3] = round(volt4, 2)
		m.WattPanel[2] = round(volt3*cur3, 2)
		m.WattPanel[3] = round(volt4*cur4, 2)

		m.EnergyPanel[2] = round(float64(u24be(data, 98, 104))*(8.311/3600), 3)
		m.EnergyPanel[3] = round(float64(u24be(data, 108, 114))*(8.311/3600), 3)
	}

	return m, nil
}

// Implausible reports whether a decoded reading looks like the inverter
// was asleep or the frame was garbage: both DC inputs read essentially
// zero volts.
func Implausible(m Measurement) bool {
	return m.VoltageDC[0]+m.VoltageDC[1] < 0.1
}

// Reconcile updates st in place with a fresh set of raw energy readings
// (one per panel, already in Wh) and returns the values that should be
// reported to the caller for this poll.
//
// If the sum of raw readings plus the current offsets would be *less*
// than the sum of last-reported values, the inverter must have restarted
// and its onboard counters reset; the offset for every panel is bumped up
// to its last-reported value before applying the new raw reading, so the
// externally visible total continues from its prior high-water mark plus
// the new raw reading instead of dropping back.
func Reconcile(st *registry.EnergyState, raw []float64) []float64 {
	var sumRaw, sumLast, sumOff float64
	for i := range raw {
		sumRaw += raw[i]
		sumLast += st.Last[i]
		sumOff += st.Offset[i]
	}
	if sumRaw+sumOff < sumLast {
		for i := range raw {
			st.Offset[i] = st.Last[i]
		}
	}

	returned := make([]float64, len(raw))
	for i := range raw {
		returned[i] = round(st.Offset[i]+raw[i], 3)
		st.Last[i] = returned[i]
	}
	return returned
}
