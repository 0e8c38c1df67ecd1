// Package hammer implements the load-generator client: many concurrent
// outbound TLS connections driving the same wire protocol as the auth
// server, reusing tlsnet.Conn and netthread.Thread in the client role
// rather than the server role. Grounded on
// original_source/src/NECROHammer/NECROHammer/Manager/HammerSocket.cpp,
// which documents itself as reusing "the socket/thread abstractions in
// the opposite role" (spec.md §1's companion load-generator client).
package hammer

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/silvematt/NECRO-MMO/internal/authsession"
	"github.com/silvematt/NECRO-MMO/internal/netmsg"
	"github.com/silvematt/NECRO-MMO/internal/tlsnet"
)

// status tracks a Client's position through the same one-way state
// machine a server-side authsession.Session walks, from the opposite
// side of the wire.
type status int

const (
	statusConnecting status = iota
	statusGatherInfo
	statusLoginAttempt
	statusAuthed
	statusFailed
)

// Config carries the login credentials and client-version triplet one
// Client presents to the server, mirroring HammerSocket's m_data fields.
type Config struct {
	Username              string
	Password              string
	ClientVersionMajor    uint8
	ClientVersionMinor    uint8
	ClientVersionRevision uint8
	HandshakeTimeout      time.Duration
}

// Result is delivered to OnDone exactly once per Client, reporting how
// far the attempt got and, on success, the issued key material.
type Result struct {
	Username   string
	Success    bool
	Err        error
	SessionKey [16]byte
	Greetcode  [16]byte
	Elapsed    time.Duration
}

// Client drives one simulated login end-to-end: dial, TLS-handshake as
// the client role, send LOGIN_GATHER_INFO, react to the server's reply by
// sending LOGIN_ATTEMPT, and report the outcome. It implements
// netthread.Socket so a netthread.Thread[*Client] can own a pool of them
// exactly the way NetworkThread[AuthSession] owns server-side sessions.
type Client struct {
	id     int
	conn   *tlsnet.Conn
	thread poster
	cfg    Config
	log    *slog.Logger

	status status
	start  time.Time

	ivPrefix uint32

	// inBuf accumulates raw TLS stream bytes between OnReadable calls.
	// There is no outer framing on the wire, so a reply can arrive split
	// across several reads; consume parses out exactly one reply shape
	// at a time the same way authsession.dispatch parses requests.
	inBuf *netmsg.Buffer

	done   bool
	OnDone func(Result)
}

type poster interface {
	Post(fn func())
}

// New constructs a Client ready for BeginHandshake. conn must already be
// dialed (but not yet TLS-handshaked) with tls.Config{} in client role.
func New(id int, conn *tlsnet.Conn, thread poster, cfg Config, log *slog.Logger) *Client {
	c := &Client{
		id:     id,
		conn:   conn,
		thread: thread,
		cfg:    cfg,
		log:    log.With("hammer_client", id, "username", cfg.Username),
		status: statusConnecting,
		start:  time.Now(),
		inBuf:  netmsg.New(),
	}
	conn.OnReadable = c.onReadable
	conn.OnClosed = c.onClosed
	return c
}

// BeginHandshake runs the client-role TLS handshake, then sends the
// initial LOGIN_GATHER_INFO frame, mirroring HammerSocket::Update's
// UnderlyingState::JUST_CONNECTED branch.
func (c *Client) BeginHandshake(ctx context.Context) {
	go func() {
		err := c.conn.HandshakeContext(ctx)
		c.thread.Post(func() {
			if c.done {
				return
			}
			if err != nil {
				c.finish(Result{Username: c.cfg.Username, Err: fmt.Errorf("hammer: handshake failed: %w", err)})
				return
			}
			c.conn.Start()
			c.status = statusGatherInfo
			c.sendGatherInfo()
		})
	}()
}

// Update implements netthread.Socket. Hammer clients don't idle-timeout
// the way server sessions do — a stuck client is a finding, not a fault —
// but a handshake that never completes is still bounded so a hung dial
// doesn't pin a slot forever.
func (c *Client) Update(now time.Time) error {
	if c.status == statusConnecting && now.Sub(c.start) > c.cfg.HandshakeTimeout {
		return fmt.Errorf("hammer: handshake timed out")
	}
	return nil
}

// Close implements netthread.Socket.
func (c *Client) Close() {
	c.conn.Close()
}

func (c *Client) onClosed(err error) {
	if c.done {
		return
	}
	if c.status != statusAuthed {
		c.finish(Result{Username: c.cfg.Username, Err: fmt.Errorf("hammer: connection closed before login completed: %w", err)})
	}
}

func (c *Client) sendGatherInfo() {
	username := c.cfg.Username
	frame := netmsg.New()
	frame.WriteUint8(authsession.OpLoginGatherInfo)
	frame.WriteUint16(uint16(len(username))) // varSize counts only the username bytes after the fixed header
	frame.WriteUint8(c.cfg.ClientVersionMajor)
	frame.WriteUint8(c.cfg.ClientVersionMinor)
	frame.WriteUint8(c.cfg.ClientVersionRevision)
	frame.WriteUint8(uint8(len(username)))
	frame.WriteBytes([]byte(username))
	c.send(frame.Bytes())
}

func (c *Client) sendLoginAttempt() {
	password := c.cfg.Password
	var ivBytes [4]byte
	binary.LittleEndian.PutUint32(ivBytes[:], c.ivPrefix)

	frame := netmsg.New()
	frame.WriteUint8(authsession.OpLoginAttempt)
	frame.WriteUint16(uint16(len(password))) // varSize counts only the password bytes after the fixed header
	frame.WriteBytes(ivBytes[:])
	frame.WriteUint8(uint8(len(password)))
	frame.WriteBytes([]byte(password))
	c.send(frame.Bytes())
}

func (c *Client) send(payload []byte) {
	if err := c.conn.Send(payload); err != nil {
		c.finish(Result{Username: c.cfg.Username, Err: fmt.Errorf("hammer: send failed: %w", err)})
	}
}

// onReadable accumulates one chunk of raw TLS stream bytes and lets
// consume pull out exactly one reply at a time, mirroring
// HammerSocket::AsyncReadCallback's handler-table dispatch, simplified to
// the two opcodes this client expects in order. There is no outer framing
// on the wire, so a reply may span more than one OnReadable call.
func (c *Client) onReadable(data []byte) {
	c.inBuf.WriteBytes(data)
	if err := c.consume(); err != nil {
		c.finish(Result{Username: c.cfg.Username, Err: err})
		return
	}
	c.inBuf.Compact()
}

// consume parses as many complete replies as inBuf currently holds. Each
// reply shape is fixed by c.status, since this client only ever expects
// one opcode at a time: LOGIN_GATHER_INFO's reply is a flat 2 bytes
// (kind+result); LOGIN_ATTEMPT's carries a u16 tailSize header before its
// variable tail, the same layout authsession.replyLoginAttempt writes.
func (c *Client) consume() error {
	for c.inBuf.Remaining() > 0 {
		raw := c.inBuf.UnreadBytes()
		kind := raw[0]

		switch c.status {
		case statusGatherInfo:
			if kind != authsession.OpLoginGatherInfo {
				return fmt.Errorf("hammer: unexpected opcode 0x%02x in status gather_info", kind)
			}
			if len(raw) < 2 {
				return nil // await more bytes
			}
			result := raw[1]
			if err := c.inBuf.Discard(2); err != nil {
				return err
			}
			c.handleGatherInfoReply(authsession.AuthResult(result))

		case statusLoginAttempt:
			if kind != authsession.OpLoginAttempt {
				return fmt.Errorf("hammer: unexpected opcode 0x%02x in status login_attempt", kind)
			}
			const headerSize = 4 // kind(1) + result(1) + tailSize(2)
			if len(raw) < headerSize {
				return nil // await more bytes
			}
			tailSize := binary.LittleEndian.Uint16(raw[2:4])
			total := headerSize + int(tailSize)
			if len(raw) < total {
				return nil // await more bytes
			}
			reply := raw[:total]
			result := reply[1]
			if err := c.inBuf.Discard(total); err != nil {
				return err
			}
			c.handleLoginAttemptReply(authsession.LoginProofResult(result), reply)

		default:
			return fmt.Errorf("hammer: unexpected data in status %d", c.status)
		}
	}
	return nil
}

func (c *Client) handleGatherInfoReply(result authsession.AuthResult) {
	if result != authsession.AuthSuccess {
		c.finish(Result{Username: c.cfg.Username, Err: fmt.Errorf("hammer: gather-info failed, result=%d", result)})
		return
	}
	c.status = statusLoginAttempt
	c.ivPrefix = randomIVPrefix()
	c.sendLoginAttempt()
}

func (c *Client) handleLoginAttemptReply(result authsession.LoginProofResult, frame []byte) {
	if result != authsession.LoginProofSuccess {
		c.finish(Result{Username: c.cfg.Username, Err: fmt.Errorf("hammer: login attempt failed, result=%d", result)})
		return
	}
	// kind(1) + result(1) + tailSize(2) + sessionKey(16) + greetcode(16)
	if len(frame) != 36 {
		c.finish(Result{Username: c.cfg.Username, Err: fmt.Errorf("hammer: success reply carried unexpected tail size %d", len(frame)-4)})
		return
	}
	var res Result
	res.Username = c.cfg.Username
	res.Success = true
	copy(res.SessionKey[:], frame[4:20])
	copy(res.Greetcode[:], frame[20:36])

	c.status = statusAuthed
	c.finish(res)
}

// finish reports res exactly once and closes the connection, mirroring
// HandlePacketAuthLoginGatherInfoResponse/HandlePacketAuthLoginProofResponse
// returning false (failure) or the explicit CloseSocket() call in the
// success path — either way, the attempt is over and the connection ends.
func (c *Client) finish(res Result) {
	if c.done {
		return
	}
	c.done = true
	res.Elapsed = time.Since(c.start)
	if c.OnDone != nil {
		c.OnDone(res)
	}
	c.conn.Close()
}

func randomIVPrefix() uint32 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return binary.LittleEndian.Uint32(b[:])
}
