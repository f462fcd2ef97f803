package network

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"

	"PrivMesh/internal/logger"
)

// Conn is one live peer connection. It owns a send stream, a receive loop
// and a heartbeat timer; all three are released together on disconnect.
// Only the Manager holds references to a Conn.
type Conn struct {
	id   string     // id is the locally assigned peer identifier
	conn *quic.Conn // conn is the underlying QUIC connection
	mgr  *Manager   // mgr is the owning manager

	sendStream *quic.SendStream // sendStream is the ordered outbound stream, opened lazily
	mu         sync.Mutex       // mu serializes sends and guards sendStream

	closed atomic.Bool        // closed marks the terminal state
	ctx    context.Context    // ctx is cancelled on disconnect
	cancel context.CancelFunc // cancel releases the receive loop and heartbeat
}

// newConn wraps a QUIC connection under a fresh peer id.
func newConn(id string, qc *quic.Conn, mgr *Manager) *Conn {
	ctx, cancel := context.WithCancel(mgr.ctx)

	return &Conn{
		id:     id,
		conn:   qc,
		mgr:    mgr,
		ctx:    ctx,
		cancel: cancel,
	}
}

// ID returns the locally assigned peer identifier.
func (c *Conn) ID() string {
	return c.id
}

// Open reports whether the connection is still live.
func (c *Conn) Open() bool {
	return !c.closed.Load()
}

// send writes one frame on the ordered outbound stream.
// Frames to a single peer are delivered in send order.
func (c *Conn) send(kind byte, payload []byte) error {
	if c.closed.Load() {
		return fmt.Errorf("connection closed")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sendStream == nil {
		stream, err := c.conn.OpenUniStreamSync(c.ctx)
		if err != nil {
			return fmt.Errorf("open stream: %w", err)
		}
		c.sendStream = stream
	}

	if err := writeFrame(c.sendStream, kind, payload); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	return nil
}

// receiveLoop accepts the peer's ordered stream and reads frames until the
// connection fails or is closed.
func (c *Conn) receiveLoop() {
	stream, err := c.conn.AcceptUniStream(c.ctx)
	if err != nil {
		c.disconnect()
		return
	}

	for {
		kind, payload, err := readFrame(stream)
		if err != nil {
			logger.Debug("receive loop ended", "peer", c.id, "error", err)
			break
		}

		switch kind {
		case kindProbe:
			// Liveness probe; no reply expected.
		case kindMessage:
			c.mgr.handleInbound(c.id, payload)
		default:
			c.mgr.emitError("receive", fmt.Errorf("unknown frame kind 0x%02x from %s", kind, c.id))
		}
	}

	c.disconnect()
}

// heartbeatLoop sends a liveness probe every interval. A probe that cannot
// be sent, or a connection found already closed at probe time, triggers
// disconnection immediately; there is no reply deadline.
func (c *Conn) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if c.closed.Load() {
				c.disconnect()
				return
			}

			if err := c.send(kindProbe, nil); err != nil {
				logger.Debug("heartbeat probe failed", "peer", c.id, "error", err)
				c.disconnect()
				return
			}
		}
	}
}

// disconnect moves the connection to its terminal state exactly once:
// cancels the heartbeat and receive loop, closes the transport and removes
// the table entry.
func (c *Conn) disconnect() {
	if c.closed.Swap(true) {
		return
	}

	c.cancel()
	_ = c.conn.CloseWithError(0, "closed")
	c.mgr.dropConn(c)
}
