// Package authsession implements the authentication protocol's state
// machine, grounded on
// original_source/src/NECROAuth/Server/Auth/AuthSession.cpp: opcode
// dispatch, the GATHER_INFO/LOGIN_ATTEMPT handlers, their DB-callback
// continuations, and the handshake/idle timeouts NetworkThread.tick
// drives.
package authsession

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"
	"weak"

	"github.com/silvematt/NECRO-MMO/internal/dbworker"
	"github.com/silvematt/NECRO-MMO/internal/metrics"
	"github.com/silvematt/NECRO-MMO/internal/netmsg"
	"github.com/silvematt/NECRO-MMO/internal/tlsnet"

	"sync/atomic"
)

// Config carries the handful of AuthServerConfig fields a Session's
// behavior depends on, kept narrow so this package doesn't need to import
// the whole config surface.
type Config struct {
	ClientVersionMajor    uint8
	ClientVersionMinor    uint8
	ClientVersionRevision uint8
	HandshakeTimeout      time.Duration
	IdleTimeout           time.Duration
}

func (c Config) versionTuple() [3]uint8 {
	return [3]uint8{c.ClientVersionMajor, c.ClientVersionMinor, c.ClientVersionRevision}
}

// accountData mirrors AccountData in the source: the fields a session
// accumulates as it moves through the login state machine. password is
// held only until the CHECK_PASSWORD result is compared against it.
type accountData struct {
	username       string
	accountID      int32
	sessionKey     [sessionKeySize]byte
	ivPrefix       uint32
	ivCounter      uint32
	clientIvPrefix uint32
	clientVersion  [3]uint8
	password       string
}

// dbEnqueuer is the *dbworker.Worker method a Session depends on, kept as
// its own interface so tests can substitute a recording fake without
// standing up a real database connection.
type dbEnqueuer interface {
	Enqueue(req dbworker.Request)
}

// Session is one authenticating connection. It implements
// netthread.Socket, so a netthread.Thread[*Session] can own and tick it;
// every method that touches session state is only ever called on that
// thread's goroutine (directly from Update/tick, or via Post from
// tlsnet.Conn's read/write goroutines or dbworker's callback delivery).
type Session struct {
	id       int
	remoteIP string
	conn     *tlsnet.Conn
	thread   dbworker.Poster
	worker   dbEnqueuer
	metrics  *metrics.Collector
	cfg      Config
	log      *slog.Logger

	status SocketStatus
	data   accountData

	inBuf *netmsg.Buffer

	handshakeStart time.Time
	lastActivity   time.Time

	peerClosed atomic.Bool
	closed     atomic.Bool

	weakSelf weak.Pointer[Session]
}

// New constructs a Session in StatusHandshaking. The caller must call
// BeginHandshake before the session will accept any traffic.
func New(id int, conn *tlsnet.Conn, thread dbworker.Poster, worker dbEnqueuer, m *metrics.Collector, cfg Config, log *slog.Logger) *Session {
	s := &Session{
		id:       id,
		remoteIP: conn.RemoteAddr().String(),
		conn:     conn,
		thread:   thread,
		worker:   worker,
		metrics:  m,
		cfg:      cfg,
		log:      log.With("session", id, "remote", conn.RemoteAddr().String()),
		status:   StatusHandshaking,
		inBuf:    netmsg.New(),
	}
	s.weakSelf = weak.Make(s)
	s.handshakeStart = time.Now()
	s.lastActivity = s.handshakeStart

	conn.OnReadable = s.onReadable
	conn.OnClosed = s.onClosed

	m.SetSessionState("", StatusHandshaking.String())
	return s
}

// BeginHandshake runs the TLS handshake on its own goroutine and, on
// success, promotes the session to GATHER_INFO and starts its async
// read/write loops. On failure the session is closed. Safe to call right
// after the session has been handed to its owning thread.
func (s *Session) BeginHandshake(ctx context.Context) {
	go func() {
		err := s.conn.HandshakeContext(ctx)
		s.thread.Post(func() {
			if s.closed.Load() {
				return
			}
			if err != nil {
				s.log.Debug("TLS handshake failed", "err", err)
				s.Close()
				return
			}
			s.transitionTo(StatusGatherInfo)
			s.lastActivity = time.Now()
			s.conn.Start()
		})
	}()
}

func (s *Session) transitionTo(next SocketStatus) {
	s.metrics.SetSessionState(s.status.String(), next.String())
	s.status = next
}

// Update implements netthread.Socket: it enforces the handshake and idle
// timeouts described in spec.md §4.6, and reports the peer-closed signal
// noticed by the connection's read goroutine.
func (s *Session) Update(now time.Time) error {
	if s.peerClosed.Load() {
		return fmt.Errorf("authsession: peer closed connection")
	}

	if s.status == StatusHandshaking {
		if now.Sub(s.handshakeStart) > s.cfg.HandshakeTimeout {
			return fmt.Errorf("authsession: handshake timed out")
		}
		return nil
	}

	if now.Sub(s.lastActivity) > s.cfg.IdleTimeout {
		return fmt.Errorf("authsession: idle timeout")
	}
	return nil
}

// Close implements netthread.Socket. Idempotent.
func (s *Session) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.metrics.SetSessionState(s.status.String(), "")
	s.conn.Close()
}

func (s *Session) onClosed(err error) {
	s.peerClosed.Store(true)
}

// onReadable accumulates one chunk of raw TLS stream bytes into inBuf and
// lets dispatch find packet boundaries from each packet's own kind/varSize
// header — the wire carries no outer length-prefix envelope, so a single
// call here may deliver part of a packet, exactly one, or several.
func (s *Session) onReadable(data []byte) {
	s.lastActivity = time.Now()
	s.inBuf.WriteBytes(data)

	if err := dispatch(s, s.inBuf); err != nil {
		s.log.Debug("closing session after protocol violation", "err", err)
		s.metrics.RecordProtocolViolation(err.Error())
		s.Close()
		return
	}
	s.inBuf.Compact()
}

func (s *Session) send(payload []byte) {
	if err := s.conn.Send(payload); err != nil {
		s.log.Debug("closing session, outbound queue full", "err", err)
		s.Close()
		return
	}
	s.lastActivity = time.Now()
}

func (s *Session) newCancelToken() dbworker.CancelToken {
	return cancelToken{ptr: s.weakSelf}
}

func randomSessionKey() ([sessionKeySize]byte, error) {
	var b [sessionKeySize]byte
	if _, err := rand.Read(b[:]); err != nil {
		return b, err
	}
	return b, nil
}

func randomIVPrefix() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}
