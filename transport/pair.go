package transport

import (
	"io"
	"sync"
)

// Pair is an in-memory Transport pair connecting a simulated client
// directly to a broker.Broker, without a real socket — the harness's
// replacement for the Python original's "monkey-patchable client sockets."
// Writes on one side become reads on the other via a buffered channel of
// byte slices, preserving message boundaries (one Write == one Read) since
// callers always write exactly one encoded packet at a time.
type Pair struct {
	out    chan []byte
	in     chan []byte
	closed chan struct{}
	once   *sync.Once

	pending []byte
}

// NewPair creates two connected Transports; writes to one are readable
// from the other.
func NewPair(buffer int) (client, server *Pair) {
	ab := make(chan []byte, buffer)
	ba := make(chan []byte, buffer)
	closed := make(chan struct{})
	once := &sync.Once{}
	client = &Pair{out: ab, in: ba, closed: closed, once: once}
	server = &Pair{out: ba, in: ab, closed: closed, once: once}
	return client, server
}

// Write sends b as a single unit other-side reads will see in order.
func (p *Pair) Write(b []byte) (int, error) {
	cp := make([]byte, len(b))
	copy(cp, b)
	select {
	case p.out <- cp:
		return len(b), nil
	case <-p.closed:
		return 0, io.ErrClosedPipe
	}
}

// Read returns the next written chunk, copying into b up to len(b) bytes
// and buffering any remainder for the next call.
func (p *Pair) Read(b []byte) (int, error) {
	if len(p.pending) == 0 {
		select {
		case chunk, ok := <-p.in:
			if !ok {
				return 0, io.EOF
			}
			p.pending = chunk
		case <-p.closed:
			return 0, io.EOF
		}
	}

	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

// Close tears down both ends of the pair.
func (p *Pair) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}
