// Package authserver wires together the acceptor, socket manager, network
// threads, and database worker into one running process, and owns the
// three periodic timers described in spec.md §4.9. It is grounded on
// original_source/src/NECROAuth/Server/NECROServer.cpp's Init/Start/
// Update/Shutdown sequence, with the Go process-lifecycle shape (signal
// handling, context cancellation, supervised goroutines) adapted from the
// teacher's cmd/loginserver/main.go + internal/login/server.go and the
// errgroup-based supervision in the teacher's cmd/gameserver/main.go.
package authserver

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/silvematt/NECRO-MMO/internal/authsession"
	"github.com/silvematt/NECRO-MMO/internal/config"
	"github.com/silvematt/NECRO-MMO/internal/dbworker"
	"github.com/silvematt/NECRO-MMO/internal/logindb"
	"github.com/silvematt/NECRO-MMO/internal/metrics"
	"github.com/silvematt/NECRO-MMO/internal/netthread"
	"github.com/silvematt/NECRO-MMO/internal/socketmgr"
	"github.com/silvematt/NECRO-MMO/internal/tlsnet"
)

// sessionThread is the concrete netthread.Thread instantiation every
// auth-server connection is owned by.
type sessionThread = netthread.Thread[*authsession.Session]

// Server owns every long-lived subsystem: the database worker, the socket
// manager, one netthread.Thread per configured worker, and the acceptor.
// It mirrors NECROServer's role as the single object the old code reached
// via Server::Instance() — here it is constructed explicitly and passed
// down instead, per spec.md §9's "Global singletons" design note.
type Server struct {
	cfg config.AuthServerConfig
	log *slog.Logger
	met *metrics.Collector

	db       *dbworker.Worker
	sockMgr  *socketmgr.Manager
	threads  []*sessionThread
	acceptor *tlsnet.Acceptor

	nextSessionID int
}

// New builds every subsystem but starts nothing: the database worker isn't
// connected, no network thread goroutine is running, and the acceptor's
// listener is bound but nothing accepts from it yet. Call Run to bring the
// server up.
func New(cfg config.AuthServerConfig, log *slog.Logger) (*Server, error) {
	met := metrics.New()

	threadCount := cfg.NetworkThreadsCount
	if threadCount <= 0 {
		threadCount = runtime.NumCPU()
	}

	threads := make([]*sessionThread, threadCount)
	handles := make([]socketmgr.ThreadHandle, threadCount)
	for i := range threads {
		t := netthread.New[*authsession.Session](i, time.Millisecond, 256, log)
		threads[i] = t
		handles[i] = t
	}

	sockMgr := socketmgr.New(socketmgr.Config{
		MaxConnectedPerThread:          cfg.MaxConnectedPerThread,
		EnableSpamPrevention:           cfg.EnableSpamPrevention,
		MaxConnectionAttemptsPerMinute: cfg.MaxConnectionAttemptsPerMinute,
		CleanupInterval:                time.Duration(cfg.ConnectionAttemptCleanupIntMin) * time.Minute,
	}, handles, met, log)

	db := dbworker.New(dbworker.Config{
		DSN:              cfg.Database.DSN(),
		DownTimeout:      time.Duration(cfg.ConnectedIdleTimeoutMS) * time.Millisecond,
		ReconnectBackoff: time.Second,
	}, met, log)

	tlsCfg, err := tlsnet.ServerTLSConfig(cfg.TLSCertFile, cfg.TLSKeyFile)
	if err != nil {
		return nil, fmt.Errorf("authserver: loading TLS materials: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.ManagerServerPort)
	acceptor, err := tlsnet.Listen(addr, tlsCfg, log)
	if err != nil {
		return nil, fmt.Errorf("authserver: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		log:      log,
		met:      met,
		db:       db,
		sockMgr:  sockMgr,
		threads:  threads,
		acceptor: acceptor,
	}
	acceptor.OnAccept = s.onAccept
	return s, nil
}

// Metrics exposes the server's collector so cmd/authserver can serve it
// over HTTP without reaching into internals.
func (s *Server) Metrics() *metrics.Collector { return s.met }

// Run starts every subsystem and blocks until ctx is cancelled, then tears
// everything down in this order: stop acceptor, stop DB worker, signal each
// network thread to close its sessions, and wait for the acceptor loop and
// timer goroutines. It does not wait for the network-thread goroutines to
// exit, so sessions may still be closing when Run returns.
func (s *Server) Run(ctx context.Context) error {
	if err := s.db.Start(ctx); err != nil {
		return fmt.Errorf("authserver: starting database worker: %w", err)
	}

	for _, t := range s.threads {
		go t.Run()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.acceptor.Run()
	})
	g.Go(func() error {
		return s.runKeepAliveTimer(gctx)
	})
	g.Go(func() error {
		return s.runIPCleanupTimer(gctx)
	})
	g.Go(func() error {
		return s.runDBDrainTimer(gctx)
	})

	<-ctx.Done()
	s.log.Info("authserver shutting down")

	if err := s.acceptor.Close(); err != nil {
		s.log.Warn("error closing acceptor", "err", err)
	}

	s.db.Stop()
	s.db.Wait()
	if err := s.db.Close(ctx); err != nil {
		s.log.Warn("error closing database connection", "err", err)
	}

	for _, t := range s.threads {
		t.Stop()
	}

	_ = g.Wait()
	return nil
}

// onAccept implements the admission + dispatch sequence of
// SocketManager::SSLAsyncAcceptCallback (spec.md §4.5): pick the
// least-loaded thread, apply the capacity/per-IP gates, and on success
// construct a Session bound to that thread and kick off its TLS
// handshake. Runs on the acceptor's own goroutine.
func (s *Server) onAccept(conn *tls.Conn) {
	threadID, ok := s.sockMgr.Admit(conn.RemoteAddr())
	if !ok {
		_ = conn.Close()
		return
	}

	thread := s.threads[threadID]

	s.nextSessionID++
	id := s.nextSessionID

	tlsConn := tlsnet.NewConn(id, conn, thread, s.cfg.MaxOutboundQueueDepth)
	sess := authsession.New(id, tlsConn, thread, s.db, s.met, authsession.Config{
		ClientVersionMajor:    uint8(s.cfg.ClientVersionMajor),
		ClientVersionMinor:    uint8(s.cfg.ClientVersionMinor),
		ClientVersionRevision: uint8(s.cfg.ClientVersionRevision),
		HandshakeTimeout:      time.Duration(s.cfg.HandshakeAndIdleTimeoutMS) * time.Millisecond,
		IdleTimeout:           time.Duration(s.cfg.ConnectedIdleTimeoutMS) * time.Millisecond,
	}, s.log)

	thread.Enqueue(sess)

	// BeginHandshake launches its own goroutine and returns immediately, so
	// the timeout context must outlive this call; release it once the
	// deadline has passed rather than the instant this function returns.
	handshakeTimeout := time.Duration(s.cfg.HandshakeAndIdleTimeoutMS) * time.Millisecond
	handshakeCtx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
	time.AfterFunc(handshakeTimeout, cancel)
	sess.BeginHandshake(handshakeCtx)
}

// runKeepAliveTimer fires KEEP_ALIVE against the database worker so its
// persistent session does not idle out, per spec.md §4.9.
func (s *Server) runKeepAliveTimer(ctx context.Context) error {
	interval := time.Duration(s.cfg.DBAliveIntervalMS) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.db.Enqueue(dbworker.Request{
				QueryID:       logindb.KeepAlive,
				FireAndForget: true,
			})
		}
	}
}

// runIPCleanupTimer periodically evicts stale per-IP admission entries.
func (s *Server) runIPCleanupTimer(ctx context.Context) error {
	interval := time.Duration(s.cfg.IPCleanupIntervalMS) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sockMgr.CleanupStaleEntries()
		}
	}
}

// runDBDrainTimer is the only bridge between DB-worker results and
// session-thread state: it drains completed responses and posts each
// callback onto the originating session's own executor, preserving the
// one-executor-per-session invariant (spec.md §4.9, §5).
func (s *Server) runDBDrainTimer(ctx context.Context) error {
	interval := time.Duration(s.cfg.DBCallbackCheckIntervalMS) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, resp := range s.db.DrainResponses() {
				dbworker.Deliver(resp)
			}
			s.reportGauges()
		}
	}
}

// reportGauges refreshes the per-thread load and DB queue depth gauges.
// Piggybacked on the callback-drain timer rather than its own timer since
// both are cheap, approximate, non-critical-path reads.
func (s *Server) reportGauges() {
	for _, t := range s.threads {
		s.met.SetThreadLoad(t.ID(), t.Load())
	}
	s.met.DBQueueDepth.WithLabelValues("ingress").Set(float64(s.db.QueueDepth()))
}
