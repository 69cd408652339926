// Copyright 2016 by Thorsten von Eicken, see LICENSE file

package yc600

import "io"

// readWriter adapts a separate io.Reader and io.Writer into the
// io.ReadWriter that mtserial's transports operate on. The core API takes
// reader and writer separately because that mirrors how the reference
// hardware is wired up (a UART object that's sometimes two distinct
// stream handles), but everything below the API boundary only needs a
// single combined stream.
type readWriter struct {
	io.Reader
	io.Writer
}

func combine(r io.Reader, w io.Writer) io.ReadWriter {
	return readWriter{Reader: r, Writer: w}
}
