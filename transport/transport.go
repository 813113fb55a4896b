// Package transport is the external I/O boundary above network/: a minimal
// Read/Write/Close seam that lets broker and dispatch run unmodified against
// either a real socket (transport.Conn, wrapping network.Connection) or an
// in-memory pair (transport.Pair, used by the harness and unit tests).
package transport

import "io"

// Transport is the minimal byte-stream boundary dispatch reads decoded
// packets from and writes encoded packets to.
type Transport interface {
	io.Reader
	io.Writer
	io.Closer
}
