package harness

import (
	"bufio"
	"context"
	"time"

	"github.com/axmq-ax/broker/codec"
	"github.com/axmq-ax/broker/encoding"
	"github.com/axmq-ax/broker/transport"
)

// Observation is one packet the broker sent back to a simulated client,
// keyed by the client that received it -- the Go re-expression of the
// source's observer callback, delivered over ClientID's Observations
// channel instead of a socket-id-keyed dict (Design Note "Observer
// callbacks → channel of events").
type Observation struct {
	ClientID string
	Packet   codec.Packet
	Err      error
}

// Client is one simulated MQTT client: a transport.Pair endpoint driven
// directly by action functions, with a background pump decoding whatever
// the broker writes back into a bounded channel the harness reads from.
// The bound is deliberate back-pressure: a harness that falls behind blocks
// the pump on its channel send, and once the transport.Pair's buffer is full
// the broker's writes to this client block as well.
type Client struct {
	ID      string
	Version encoding.ProtocolVersion

	conn *transport.Pair
	r    *bufio.Reader

	Observations chan Observation

	packetID uint16
}

func newClient(id string, version encoding.ProtocolVersion, conn *transport.Pair) *Client {
	c := &Client{
		ID:           id,
		Version:      version,
		conn:         conn,
		r:            bufio.NewReader(conn),
		Observations: make(chan Observation, 32),
	}
	go c.pump()
	return c
}

func (c *Client) pump() {
	for {
		pkt, err := codec.Decode(c.r, c.Version)
		c.Observations <- Observation{ClientID: c.ID, Packet: pkt, Err: err}
		if err != nil {
			return
		}
	}
}

// Write encodes and sends pkt to the broker.
func (c *Client) Write(pkt codec.Packet) error {
	return pkt.Encode(c.conn, c.Version)
}

// Close tears down the underlying transport.
func (c *Client) Close() error {
	return c.conn.Close()
}

// NextPacketID returns the next packet identifier this client should use,
// wrapping past zero (MQTT-2.3.1-1: packet identifiers must be nonzero).
func (c *Client) NextPacketID() uint16 {
	c.packetID++
	if c.packetID == 0 {
		c.packetID = 1
	}
	return c.packetID
}

// WaitFor blocks until an Observation whose packet satisfies match arrives,
// or ctx is done. Non-matching observations in between are discarded --
// callers that care about ordering should not skip packets they need.
func WaitFor(ctx context.Context, c *Client, match func(codec.Packet) bool) (codec.Packet, error) {
	for {
		select {
		case obs := <-c.Observations:
			if obs.Err != nil {
				return codec.Packet{}, obs.Err
			}
			if match(obs.Packet) {
				return obs.Packet, nil
			}
		case <-ctx.Done():
			return codec.Packet{}, ctx.Err()
		}
	}
}

// WithTimeout is a convenience wrapper around WaitFor for the common case
// of a fixed per-call deadline.
func WithTimeout(c *Client, d time.Duration, match func(codec.Packet) bool) (codec.Packet, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return WaitFor(ctx, c, match)
}

// IsType returns a match predicate for WaitFor/WithTimeout that accepts any
// packet of the given type.
func IsType(t encoding.PacketType) func(codec.Packet) bool {
	return func(p codec.Packet) bool { return p.Type == t }
}
