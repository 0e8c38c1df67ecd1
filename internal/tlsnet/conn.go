// Package tlsnet wraps a TLS 1.3 connection with the async read/write
// model spec.md §5 requires: blocking I/O happens on its own goroutine,
// and every result is handed back to the owning netthread.Thread via Post
// so the session's state machine only ever runs on one goroutine. It is
// grounded on the TLS config shape used in
// JeelKantaria-db-bouncer/internal/proxy/server.go and on the accept-loop
// structure of the teacher's internal/login/server.go.
package tlsnet

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
)

// readChunkSize bounds a single Read call's buffer. It has nothing to do
// with packet boundaries: the wire carries no outer framing, so Conn
// hands whatever bytes a Read returns straight to OnReadable and leaves
// finding packet boundaries to the caller, exactly as
// original_source/src/NECROAuth/Server/Auth/AuthSession.cpp's
// ReadCallback reads off the raw socket and lets ByteBuffer figure out
// how much of a packet has arrived.
const readChunkSize = 4096

// Poster is the subset of netthread.Thread a Conn needs: the ability to
// run a callback on the owning thread's single goroutine. Kept as its own
// interface so tlsnet does not need to know the thread's socket type
// parameter.
type Poster interface {
	Post(fn func())
}

// ErrOutboundQueueFull is returned by Send when the connection's outbound
// backlog has reached its configured cap. spec.md §9 calls out an
// unbounded outbound queue as a resource-exhaustion risk; callers should
// treat this as fatal for the connection.
var ErrOutboundQueueFull = errors.New("tlsnet: outbound queue full")

// Conn wraps one TLS connection's async read/write loops. Callers
// (authsession.Session) own the single goroutine all of Conn's callbacks
// are delivered on; Conn itself never touches session state directly.
type Conn struct {
	id   int
	conn *tls.Conn

	poster Poster

	outbound       chan []byte
	done           chan struct{}
	closeAfterSend atomic.Bool
	closed         atomic.Bool

	// pending counts payloads handed to Send but not yet fully written by
	// writeLoop. CloseAfterSend must not close while this is nonzero: a
	// zero outbound-channel length alone doesn't mean the last write
	// finished, only that writeLoop has dequeued it.
	pending atomic.Int32

	// OnReadable is invoked on the owning thread with each chunk of bytes
	// Read returns from the raw TLS stream. There is no framing at this
	// layer — the wire carries packets back to back with no length
	// envelope — so a single call may deliver part of a packet, exactly
	// one packet, or several; the caller (authsession.Session) is
	// responsible for accumulating and finding boundaries, the same way
	// AuthSession's ByteBuffer does in the source.
	// OnClosed is invoked on the owning thread with the error that ended
	// the read loop (io.EOF on a clean peer close), and also with the
	// error of a failed write; it can therefore run more than once for
	// one connection.
	OnReadable func(data []byte)
	OnClosed   func(err error)
}

// NewConn wraps conn for use from thread. The TLS handshake need not have
// run yet; HandshakeContext runs it.
// maxOutboundQueue bounds the number of payloads that may be queued for
// write before Send starts failing.
func NewConn(id int, conn *tls.Conn, poster Poster, maxOutboundQueue int) *Conn {
	return &Conn{
		id:       id,
		conn:     conn,
		poster:   poster,
		outbound: make(chan []byte, maxOutboundQueue),
		done:     make(chan struct{}),
	}
}

// ID returns the connection's thread-local identifier, used in log fields
// and metrics labels.
func (c *Conn) ID() int { return c.id }

// RemoteAddr returns the peer address, used for per-IP admission control.
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// HandshakeContext runs the TLS handshake to completion. Call this from a
// dedicated goroutine before Start, so the owning session's HANDSHAKING
// timeout has something to measure; Start's read loop would otherwise
// trigger the handshake lazily on its first Read.
func (c *Conn) HandshakeContext(ctx context.Context) error {
	return c.conn.HandshakeContext(ctx)
}

// Start launches the read and write goroutines. Must be called exactly
// once, after OnReadable/OnClosed are assigned.
func (c *Conn) Start() {
	go c.readLoop()
	go c.writeLoop()
}

func (c *Conn) readLoop() {
	buf := make([]byte, readChunkSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			c.poster.Post(func() {
				if c.OnReadable != nil {
					c.OnReadable(chunk)
				}
			})
		}
		if err != nil {
			c.poster.Post(func() {
				if c.OnClosed != nil {
					c.OnClosed(err)
				}
			})
			return
		}
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.outbound:
			_, err := c.conn.Write(payload)
			c.pending.Add(-1)
			if err != nil {
				c.poster.Post(func() {
					if c.OnClosed != nil {
						c.OnClosed(err)
					}
				})
				return
			}
			// SendCallback in the source closes the socket once the last
			// queued write completes and closeAfterSend was requested.
			if c.closeAfterSend.Load() && c.pending.Load() == 0 {
				c.Close()
				return
			}
		}
	}
}

// Send queues payload for write on this connection's write goroutine.
// Must only be called from the owning thread's goroutine. Returns
// ErrOutboundQueueFull if the backlog is at capacity; the caller should
// close the connection in that case rather than block.
func (c *Conn) Send(payload []byte) error {
	if c.closed.Load() {
		return fmt.Errorf("tlsnet: send on closed connection %d", c.id)
	}
	select {
	case c.outbound <- payload:
		c.pending.Add(1)
		return nil
	default:
		return ErrOutboundQueueFull
	}
}

// CloseAfterSend marks the connection to close once its outbound backlog
// drains, mirroring m_closeAfterSend in the source's AuthSession. Every
// terminal auth failure reply sets this (the source only set it on one of
// several failure paths; spec.md §9's redesign note fixes that
// inconsistency here).
func (c *Conn) CloseAfterSend() {
	c.closeAfterSend.Store(true)
	if c.pending.Load() == 0 {
		c.Close()
	}
}

// Close idempotently shuts down the connection. Safe to call multiple
// times and from any goroutine; a failed close attempt (after a prior
// transport error) is not retried, matching the abrupt-close fallback the
// source's two-phase shutdown degrades to on error.
func (c *Conn) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	close(c.done)
	_ = c.conn.Close()
}
