// Copyright 2016 by Thorsten von Eicken, see LICENSE file

// Package mtlink implements the MT dispatcher: the single point where a
// synchronous request/response exchange is realised over the otherwise
// asynchronous, frame-concatenating serial stream.
package mtlink

import (
	"time"

	"github.com/tve/yc600bridge/mtframe"
	"github.com/tve/yc600bridge/mtserial"
)

// Dispatcher sends one MT request at a time and collects whatever frames
// arrive within the response window.
type Dispatcher struct {
	transport mtserial.Transport
	idle      time.Duration // gap timeout used while collecting a response
}

// New returns a Dispatcher driving transport. idle is the gap timeout
// (~100-200ms per spec) used to decide a response has finished arriving.
func New(transport mtserial.Transport, idle time.Duration) *Dispatcher {
	return &Dispatcher{transport: transport, idle: idle}
}

// Request sends an MT frame with the given command and payload, then
// collects and decodes every frame that arrives within window. Frames
// with a bad CRC are returned with CRCValid=false rather than dropped;
// classifying and discarding them is the caller's job.
func (d *Dispatcher) Request(cmd uint16, payload []byte, window time.Duration) ([]mtframe.Frame, error) {
	if err := d.transport.Write(mtframe.Encode(cmd, payload)); err != nil {
		return nil, err
	}
	raw, err := d.transport.ReadUntilIdle(window, d.idle)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	frames, err := mtframe.DecodeAll(raw)
	if err != nil {
		// Whatever was decoded before the corrupt tail is still useful to
		// the caller; the corruption itself just means the batch should
		// not be trusted past that point.
		return frames, err
	}
	return frames, nil
}

// Drain discards anything currently buffered on the transport, used
// before issuing a fresh request so a stale response can't be mistaken
// for the new one.
func (d *Dispatcher) Drain(timeout time.Duration) error {
	return d.transport.Drain(timeout)
}

// WriteRaw writes pre-encoded bytes directly to the transport. Used by
// callers (the coordinator init script) that need to check a raw response
// prefix rather than a decoded frame.
func (d *Dispatcher) WriteRaw(b []byte) error {
	return d.transport.Write(b)
}

// ReadRaw collects whatever arrives within window without decoding it.
func (d *Dispatcher) ReadRaw(window time.Duration) ([]byte, error) {
	return d.transport.ReadUntilIdle(window, d.idle)
}
