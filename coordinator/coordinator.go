// Copyright 2016 by Thorsten von Eicken, see LICENSE file

// Package coordinator drives the CC2530 radio from reset to "coordinator
// started" via a fixed script of MT commands. The script is deliberately
// open-loop: each step is verified against an expected prefix in whatever
// came back, but a failed step is not retried individually — the caller
// re-runs the whole sequence.
package coordinator

import (
	"bytes"
	"encoding/hex"
	"time"
)

// Step is one entry of the init script: send request, wait up to window
// for a response containing expect anywhere in it, then sleep settle
// before moving on.
type Step struct {
	Name    string
	Cmd     uint16
	Payload []byte   // may embed the controller ID, filled in by Build
	Expect  [][]byte // step verifies if any one of these appears in the response
	Window  time.Duration
	Settle  time.Duration
}

// responseWindow is used for every step except the final three, which need
// more settle time for the coordinator to actually come up.
const responseWindow = 1100 * time.Millisecond
const settleWindow = 1500 * time.Millisecond

// reverse returns b with its byte order flipped, used throughout the MT
// protocol wherever a multi-byte field is transmitted little-endian.
func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

// mustHex decodes a fixed hex literal from the script; a decode failure
// here is a programming error in the table, not a runtime condition.
func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic("coordinator: bad hex literal " + s + ": " + err.Error())
	}
	return b
}

// Build returns the fixed init script for controller identity cid (6
// bytes). If pairMode is true the script stops after starting the
// coordinator (step 9) and omits the final AF_DATA_REQUEST broadcast used
// to announce the controller to already-paired inverters.
func Build(cid [6]byte, pairMode bool) []Step {
	rcid := reverse(cid[:])

	steps := []Step{
		{
			Name:    "write-config-startup-option",
			Cmd:     0x2605,
			Payload: mustHex("03" + "01" + "03"),
			Expect:  [][]byte{mustHex("FE0166050062")},
			Window:  responseWindow,
		},
		{
			Name:    "sys-reset-req",
			Cmd:     0x4100,
			Payload: mustHex("00"),
			Expect:  [][]byte{mustHex("FE064180020202020702C2")},
			Window:  responseWindow,
		},
		{
			Name:    "write-config-pan-id",
			Cmd:     0x2605,
			Payload: append(mustHex("01"+"08"+"FFFF"), rcid...),
			Expect:  [][]byte{mustHex("FE0166050062")},
			Window:  responseWindow,
		},
		{
			Name:    "write-config-zdo-direct-cb",
			Cmd:     0x2605,
			Payload: mustHex("87" + "01" + "00"),
			Expect:  [][]byte{mustHex("FE0166050062")},
			Window:  responseWindow,
		},
		{
			Name:    "write-config-channel-list",
			Cmd:     0x2605,
			Payload: append(mustHex("83"+"02"), cid[0], cid[1]),
			Expect:  [][]byte{mustHex("FE0166050062")},
			Window:  responseWindow,
		},
		{
			Name:    "write-config-security-mode",
			Cmd:     0x2605,
			Payload: mustHex("84" + "04" + "00000100"),
			Expect:  [][]byte{mustHex("FE0166050062")},
			Window:  responseWindow,
		},
		{
			Name:    "af-register",
			Cmd:     0x2400,
			Payload: mustHex("14" + "05" + "0F00" + "0101" + "00020000" + "150000"),
			Expect:  [][]byte{mustHex("FE0164000065")},
			Window:  responseWindow,
		},
		{
			Name:    "zb-start-request",
			Cmd:     0x2600,
			Payload: nil,
			Expect:  [][]byte{mustHex("FE00660066"), mustHex("FE0145C0088C")},
			Window:  settleWindow,
			Settle:  settleWindow,
		},
		{
			Name:    "zb-get-device-info",
			Cmd:     0x6700,
			Payload: nil,
			Expect:  [][]byte{mustHex("FE0E670000FFFF")},
			Window:  settleWindow,
			Settle:  settleWindow,
		},
	}

	if pairMode {
		return steps
	}

	announce := make([]byte, 0, 32)
	announce = append(announce, mustHex("FFFF"+"1414060001000F1E")...)
	announce = append(announce, rcid...)
	announce = append(announce, mustHex("FBFB1100000D6030FBD30000000000000000"+"04010281"+"FEFE")...)
	steps = append(steps, Step{
		Name:    "af-data-request-announce",
		Cmd:     0x2401,
		Payload: announce,
		Expect: [][]byte{
			mustHex("FE0164010064"),
			mustHex("FE0145C0088C"),
		},
		Window: settleWindow,
		Settle: settleWindow,
	})
	return steps
}

// Transport is what Run needs from the dispatcher layer: send a command
// and collect the raw response bytes.
type Transport interface {
	Write(cmd uint16, payload []byte) error
	ReadUntilIdle(window time.Duration) ([]byte, error)
}

// Run executes script against t, sleeping Settle after each step, and
// reports whether every step's expected prefix was found in its response.
// It never retries a step; on a failed step it continues through the rest
// of the script (so later steps that don't depend on the failed one still
// get a chance) and the aggregate result reflects whether all steps
// verified.
func Run(t Transport, script []Step) (bool, error) {
	allVerified := true
	for _, step := range script {
		if err := t.Write(step.Cmd, step.Payload); err != nil {
			return false, err
		}
		resp, err := t.ReadUntilIdle(step.Window)
		if err != nil {
			return false, err
		}
		if !containsAny(resp, step.Expect) {
			allVerified = false
		}
		if step.Settle > 0 {
			time.Sleep(step.Settle)
		}
	}
	return allVerified, nil
}

func containsAny(buf []byte, candidates [][]byte) bool {
	for _, c := range candidates {
		if bytes.Contains(buf, c) {
			return true
		}
	}
	return false
}
