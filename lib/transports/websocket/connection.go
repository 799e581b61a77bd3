package websocket

import (
	"sync"
	"sync/atomic"

	"github.com/gofiber/contrib/websocket"
	"github.com/nbd-wtf/go-nostr"

	"github.com/HORNET-Storage/hornets-relay-core/lib/clients"
)

var _ clients.Connection = (*connection)(nil)

// connection serializes writes; broadcasts from other connections' handlers
// write concurrently with the owner's replies
type connection struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	closed  atomic.Bool
}

func newConnection(ws *websocket.Conn) *connection {
	return &connection{ws: ws}
}

func (c *connection) IsOpen() bool {
	return !c.closed.Load()
}

func (c *connection) Send(envelope nostr.Envelope) error {
	if c.closed.Load() {
		return nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(envelope)
}

func (c *connection) markClosed() {
	c.closed.Store(true)
}
