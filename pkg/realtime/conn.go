package realtime

import (
	"sync"

	"github.com/google/uuid"
	"github.com/mahaj/tutor-realtime/pkg/model"
)

// Conn is one live client connection as seen by the hub. The transport owns
// the socket; the hub only ever enqueues frames on it.
type Conn struct {
	ID       string
	Identity model.Identity

	// Buffered channel of outbound frames. Never closed; Done signals shutdown.
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func newConn(identity model.Identity, buffer int) *Conn {
	return &Conn{
		ID:       uuid.NewString(),
		Identity: identity,
		send:     make(chan []byte, buffer),
		done:     make(chan struct{}),
	}
}

// Outbound yields frames in the order the hub produced them.
func (c *Conn) Outbound() <-chan []byte {
	return c.send
}

// Done is closed once the connection has been closed by either side.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// deliver enqueues frame without blocking. A peer that cannot keep up is closed.
func (c *Conn) deliver(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		c.Close()
		return false
	}
}
