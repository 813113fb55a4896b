package transport

import "github.com/axmq-ax/broker/network"

// Conn adapts a network.Connection (the teacher's real-socket type) to
// Transport.
type Conn struct {
	c *network.Connection
}

// NewConn wraps an established network.Connection as a Transport.
func NewConn(c *network.Connection) *Conn {
	return &Conn{c: c}
}

func (t *Conn) Read(b []byte) (int, error)  { return t.c.Read(b) }
func (t *Conn) Write(b []byte) (int, error) { return t.c.Write(b) }
func (t *Conn) Close() error                { return t.c.Close() }

// Underlying returns the wrapped network.Connection, for callers (the
// per-connection worker loop) that need connection metadata Transport
// doesn't expose, like RemoteAddr or keepalive deadlines.
func (t *Conn) Underlying() *network.Connection { return t.c }
