// Package netthread implements the single-goroutine-per-thread execution
// model described in spec.md §5: each Thread owns a set of sockets and
// runs every operation on them from one goroutine, so a session's state
// never needs its own lock. It is grounded on
// original_source/src/shared/Sockets/NetworkThread.h, which owns a
// single-threaded boost::asio::io_context per thread; Post here plays the
// role io_context::post plays there.
package netthread

import (
	"log/slog"
	"time"
)

// Socket is anything a Thread can own and tick. Update is called once per
// tick with the current time and returns an error when the socket should
// be removed (timeout, protocol violation, peer close).
type Socket interface {
	Update(now time.Time) error
	Close()
}

// Thread runs one goroutine that owns a set of sockets of type S and a job
// queue ("executor"). Every mutation of a socket owned by this Thread must
// happen inside a job run through Post, so callers on other goroutines
// never touch socket state directly.
type Thread[S Socket] struct {
	id  int
	log *slog.Logger

	jobs chan func()

	sockets       map[S]struct{}
	queuedSockets chan S

	tickInterval time.Duration

	done chan struct{}
}

// New returns a Thread identified by id, ticking its owned sockets every
// tickInterval. jobQueueDepth bounds the executor channel; a thread whose
// queue fills up blocks its own Post callers, which is deliberate back
// pressure rather than unbounded growth.
func New[S Socket](id int, tickInterval time.Duration, jobQueueDepth int, log *slog.Logger) *Thread[S] {
	return &Thread[S]{
		id:            id,
		log:           log.With("netthread", id),
		jobs:          make(chan func(), jobQueueDepth),
		sockets:       make(map[S]struct{}),
		queuedSockets: make(chan S, jobQueueDepth),
		tickInterval:  tickInterval,
		done:          make(chan struct{}),
	}
}

// ID returns the thread's identifier, used by socketmgr for least-loaded
// selection and by metrics labels.
func (t *Thread[S]) ID() int { return t.id }

// Load returns the number of sockets currently owned by this thread. It is
// read without synchronization from other goroutines for load-balancing
// purposes only — an approximate count is acceptable there, matching
// SocketManagerHandler's argmin-by-socket-count selection in the source.
func (t *Thread[S]) Load() int { return len(t.sockets) }

// Post enqueues fn to run on this Thread's goroutine. Safe to call from any
// goroutine; this is the Go analogue of io_context::post used throughout
// the source to hop a continuation back onto its owning thread.
func (t *Thread[S]) Post(fn func()) {
	select {
	case t.jobs <- fn:
	case <-t.done:
	}
}

// Enqueue hands a freshly accepted socket to this thread. It is promoted
// into the owned set on the next Run iteration, mirroring the queued-socket
// handoff NetworkThread.h performs between the acceptor and the owning
// thread.
func (t *Thread[S]) Enqueue(s S) {
	select {
	case t.queuedSockets <- s:
	case <-t.done:
		s.Close()
	}
}

// Run is the Thread's goroutine body: drain jobs, promote queued sockets,
// and tick owned sockets on tickInterval until ctx-equivalent Stop is
// called. Callers should run this in its own goroutine.
func (t *Thread[S]) Run() {
	ticker := time.NewTicker(t.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			for s := range t.sockets {
				s.Close()
			}
			return

		case fn := <-t.jobs:
			fn()

		case s := <-t.queuedSockets:
			t.sockets[s] = struct{}{}

		case now := <-ticker.C:
			t.tick(now)
		}
	}
}

func (t *Thread[S]) tick(now time.Time) {
	for s := range t.sockets {
		if err := s.Update(now); err != nil {
			t.log.Debug("removing socket after Update error", "err", err)
			delete(t.sockets, s)
			s.Close()
		}
	}
}

// Stop signals Run to close every owned socket and return. It does not
// block until Run has actually exited.
func (t *Thread[S]) Stop() {
	close(t.done)
}
