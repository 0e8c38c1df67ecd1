// Package socketmgr decides which netthread.Thread a freshly accepted
// connection is handed to, and gates admission before that happens. It is
// grounded on
// original_source/src/NECROAuth/Server/Auth/SocketManager.cpp's
// least-loaded thread selection and capacity gate, and on
// TCPSocketManager.cpp's per-IP request-rate map (ported here since
// ENABLE_SPAM_PREVENTION is ambient admission control, not a feature the
// distilled spec's Non-goals exclude).
package socketmgr

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/silvematt/NECRO-MMO/internal/metrics"
)

// ThreadHandle is the subset of netthread.Thread the manager needs: its
// identifier and its load, for least-loaded selection.
// Kept generic-free so Manager doesn't need to know the owned socket type.
type ThreadHandle interface {
	ID() int
	Load() int
}

// Config controls admission policy, mirroring the relevant
// AuthServerConfig fields (duplicated here rather than imported to keep
// socketmgr decoupled from the config package's full surface).
type Config struct {
	MaxConnectedPerThread          int // -1 = unlimited
	EnableSpamPrevention           bool
	MaxConnectionAttemptsPerMinute int
	CleanupInterval                time.Duration
}

type ipRequestData struct {
	lastUpdate time.Time
	tries      int
}

// Manager picks a thread for each accepted connection and rejects
// connections that fail capacity or per-IP rate checks.
type Manager struct {
	cfg     Config
	log     *slog.Logger
	metrics *metrics.Collector

	threads []ThreadHandle

	mu        sync.Mutex
	ipHistory map[string]ipRequestData
}

// New returns a Manager that load-balances across threads. The threads
// need not be running yet; only their ID and Load are read.
func New(cfg Config, threads []ThreadHandle, m *metrics.Collector, log *slog.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		log:       log,
		metrics:   m,
		threads:   threads,
		ipHistory: make(map[string]ipRequestData),
	}
}

// Admit decides whether a connection from remoteAddr may proceed, and if
// so which thread should own it. ok is false when the connection should be
// closed immediately without ever reaching a thread.
func (m *Manager) Admit(remoteAddr net.Addr) (threadID int, ok bool) {
	id, load := m.leastLoaded()
	if m.cfg.MaxConnectedPerThread != -1 && load >= m.cfg.MaxConnectedPerThread {
		m.log.Debug("rejecting connection, thread at capacity", "thread", id, "load", load)
		m.metrics.AdmissionRejections.WithLabelValues("capacity").Inc()
		return 0, false
	}

	if m.cfg.EnableSpamPrevention && m.isSpam(remoteAddr) {
		m.log.Debug("rejecting connection, spam prevention triggered", "remote", remoteAddr)
		m.metrics.AdmissionRejections.WithLabelValues("spam").Inc()
		return 0, false
	}

	return id, true
}

// leastLoaded mirrors SocketManagerHandler's argmin-by-socket-count scan.
func (m *Manager) leastLoaded() (id int, load int) {
	minLoad := -1
	for _, t := range m.threads {
		l := t.Load()
		if minLoad == -1 || l < minLoad {
			minLoad = l
			id = t.ID()
		}
	}
	return id, minLoad
}

func (m *Manager) isSpam(remoteAddr net.Addr) bool {
	host := ipOf(remoteAddr)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	entry, found := m.ipHistory[host]
	if !found {
		m.ipHistory[host] = ipRequestData{lastUpdate: now, tries: 1}
		return false
	}

	entry.lastUpdate = now
	entry.tries++
	m.ipHistory[host] = entry

	return entry.tries > m.cfg.MaxConnectionAttemptsPerMinute
}

// CleanupStaleEntries drops IP history entries untouched for longer than
// cfg.CleanupInterval, mirroring IPRequestCleanupHandler in the source.
// Intended to be called periodically by authserver's timer loop.
func (m *Manager) CleanupStaleEntries() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for ip, data := range m.ipHistory {
		if now.Sub(data.lastUpdate) > m.cfg.CleanupInterval {
			delete(m.ipHistory, ip)
		}
	}
}

func ipOf(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
