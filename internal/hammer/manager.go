package hammer

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/silvematt/NECRO-MMO/internal/netthread"
	"github.com/silvematt/NECRO-MMO/internal/tlsnet"
)

// clientThread is the client-role instantiation of the same generic
// netthread.Thread the auth server uses in the server role — spec.md §9's
// "hammer client's socket type is a second, independent instantiation of
// the same generic", not a second variant of one tagged union.
type clientThread = netthread.Thread[*Client]

// ManagerConfig controls one hammer run: how many simulated logins to
// drive, against which server, with which credentials.
type ManagerConfig struct {
	ServerAddr       string
	ClientTLSConfig  *tls.Config
	ThreadCount      int
	HandshakeTimeout time.Duration
	OutboundQueueCap int

	// Accounts is the pool of credentials each Client draws from, cycling
	// if ConnectionCount exceeds len(Accounts) — mirroring how a real load
	// test reuses a fixed seeded account set rather than minting one
	// per connection.
	Accounts []Account

	ConnectionCount int
	ClientVersion   [3]uint8
}

// Account is one set of credentials a Client authenticates with.
type Account struct {
	Username string
	Password string
}

// Manager drives ConnectionCount concurrent login attempts against one
// auth server, reusing netthread.Thread[*Client] as its worker pool the
// same way socketmgr.Manager distributes accepted sockets across
// netthread.Thread[*authsession.Session] on the server side.
type Manager struct {
	cfg     ManagerConfig
	log     *slog.Logger
	threads []*clientThread

	mu      sync.Mutex
	results []Result
}

// NewManager builds (but does not start) the thread pool a hammer run
// dials its connections through.
func NewManager(cfg ManagerConfig, log *slog.Logger) *Manager {
	if cfg.ThreadCount <= 0 {
		cfg.ThreadCount = 1
	}
	threads := make([]*clientThread, cfg.ThreadCount)
	for i := range threads {
		threads[i] = netthread.New[*Client](i, time.Millisecond, 256, log)
	}
	return &Manager{cfg: cfg, log: log, threads: threads}
}

// Run starts every worker thread, dials ConnectionCount connections
// spread round-robin across them, and blocks until every Client has
// reported a Result or ctx is cancelled. It returns the collected
// results in the order the attempts finished.
func (m *Manager) Run(ctx context.Context) ([]Result, error) {
	for _, t := range m.threads {
		go t.Run()
	}
	defer func() {
		for _, t := range m.threads {
			t.Stop()
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < m.cfg.ConnectionCount; i++ {
		account := m.cfg.Accounts[i%len(m.cfg.Accounts)]
		thread := m.threads[i%len(m.threads)]

		wg.Add(1)
		go func(id int, account Account, thread *clientThread) {
			defer wg.Done()
			m.dialOne(ctx, id, account, thread)
		}(i, account, thread)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return m.snapshotResults(), ctx.Err()
	}
	return m.snapshotResults(), nil
}

func (m *Manager) dialOne(ctx context.Context, id int, account Account, thread *clientThread) {
	dialer := &net.Dialer{}
	rawConn, err := dialer.DialContext(ctx, "tcp", m.cfg.ServerAddr)
	if err != nil {
		m.record(Result{Username: account.Username, Err: fmt.Errorf("hammer: dial failed: %w", err)})
		return
	}

	tlsConn := tls.Client(rawConn, m.cfg.ClientTLSConfig)
	conn := tlsnet.NewConn(id, tlsConn, thread, m.cfg.OutboundQueueCap)

	client := New(id, conn, thread, Config{
		Username:              account.Username,
		Password:              account.Password,
		ClientVersionMajor:    m.cfg.ClientVersion[0],
		ClientVersionMinor:    m.cfg.ClientVersion[1],
		ClientVersionRevision: m.cfg.ClientVersion[2],
		HandshakeTimeout:      m.cfg.HandshakeTimeout,
	}, m.log)

	resultCh := make(chan Result, 1)
	client.OnDone = func(r Result) { resultCh <- r }

	thread.Enqueue(client)
	hsCtx, cancel := context.WithTimeout(ctx, m.cfg.HandshakeTimeout)
	defer cancel()
	client.BeginHandshake(hsCtx)

	select {
	case r := <-resultCh:
		m.record(r)
	case <-ctx.Done():
		m.record(Result{Username: account.Username, Err: ctx.Err()})
	}
}

func (m *Manager) record(r Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, r)
}

func (m *Manager) snapshotResults() []Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Result, len(m.results))
	copy(out, m.results)
	return out
}
