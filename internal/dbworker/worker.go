// Package dbworker implements the auth server's single dedicated database
// goroutine, grounded almost structurally whole on
// original_source/src/database/DB/DatabaseWorker.h: a swap-based ingress
// queue woken by a condition variable, a persistent connection that
// reconnects on failure, and an egress queue drained by a caller on a
// timer rather than delivered immediately.
package dbworker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/silvematt/NECRO-MMO/internal/logindb"
	"github.com/silvematt/NECRO-MMO/internal/metrics"
)

// Config controls connection and request-abandonment behavior.
type Config struct {
	DSN string

	// DownTimeout bounds how long a request will wait for a reconnect
	// before being dropped, mirroring
	// DB_REQUEST_TIMEOUT_IF_MYSQL_DOWN_MS = 10000 in the source.
	DownTimeout time.Duration

	// ReconnectBackoff is the pause between failed reconnect attempts.
	ReconnectBackoff time.Duration
}

// Worker runs one goroutine that serializes every database request onto a
// single persistent connection.
type Worker struct {
	cfg       Config
	catalogue logindb.Catalogue
	log       *slog.Logger
	metrics   *metrics.Collector

	conn *pgx.Conn

	mu      sync.Mutex
	cond    *sync.Cond
	ingress []Request
	running bool

	respMu sync.Mutex
	egress []Response

	done chan struct{}
}

// New returns a Worker that is not yet connected or running; call Start.
func New(cfg Config, m *metrics.Collector, log *slog.Logger) *Worker {
	if cfg.ReconnectBackoff == 0 {
		cfg.ReconnectBackoff = time.Second
	}
	w := &Worker{
		cfg:       cfg,
		catalogue: logindb.Catalogue{},
		log:       log,
		metrics:   m,
		done:      make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Start opens the persistent connection and launches the worker
// goroutine. Returns an error if the initial connection attempt fails;
// after that, failures are handled by reconnect-with-backoff inside the
// loop rather than surfaced to the caller.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.connect(ctx); err != nil {
		return err
	}
	w.mu.Lock()
	w.running = true
	w.mu.Unlock()

	go w.run(ctx)
	return nil
}

func (w *Worker) connect(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, w.cfg.DSN)
	if err != nil {
		return err
	}
	w.conn = conn
	return nil
}

func (w *Worker) recreateConnection(ctx context.Context) {
	if w.conn != nil {
		_ = w.conn.Close(ctx)
		w.conn = nil
	}
}

// Enqueue hands a request to the worker. Safe to call from any goroutine.
func (w *Worker) Enqueue(req Request) {
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}
	w.mu.Lock()
	w.ingress = append(w.ingress, req)
	w.mu.Unlock()
	w.cond.Signal()
}

// Stop tells the worker loop to exit once its current backlog drains.
// Does not block until the goroutine has exited; call Wait for that.
func (w *Worker) Stop() {
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
	w.cond.Signal()
}

// Wait blocks until the worker goroutine has exited.
func (w *Worker) Wait() { <-w.done }

// Close releases the underlying connection. Call after Wait returns.
func (w *Worker) Close(ctx context.Context) error {
	if w.conn == nil {
		return nil
	}
	return w.conn.Close(ctx)
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)

	for {
		w.mu.Lock()
		for len(w.ingress) == 0 && w.running {
			w.cond.Wait()
		}
		if len(w.ingress) == 0 && !w.running {
			w.mu.Unlock()
			return
		}

		batch := w.ingress
		w.ingress = nil
		w.mu.Unlock()

		for _, req := range batch {
			w.execute(ctx, req)
		}
	}
}

func (w *Worker) execute(ctx context.Context, req Request) {
	if req.CancelToken != nil && req.CancelToken.Expired() {
		return
	}

	if w.conn == nil {
		for {
			if err := w.connect(ctx); err == nil {
				break
			}
			time.Sleep(w.cfg.ReconnectBackoff)

			if time.Since(req.CreatedAt) > w.cfg.DownTimeout {
				w.log.Warn("dropping db request, database unreachable past timeout", "query", req.QueryID)
				return
			}
			if req.CancelToken != nil && req.CancelToken.Expired() {
				return
			}
		}
	}

	stmt, err := w.catalogue.SQL(req.QueryID)
	if err != nil {
		w.log.Error("unknown db query id", "query", req.QueryID, "err", err)
		return
	}

	start := time.Now()

	if req.FireAndForget {
		if _, err := w.conn.Exec(ctx, stmt, req.Args...); err != nil {
			w.log.Error("db exec failed", "query", req.QueryID, "err", err)
			w.recreateConnection(ctx)
		}
		w.metrics.ObserveDBRequestDuration(req.QueryID.String(), time.Since(start))
		return
	}

	result := w.query(ctx, stmt, req)
	w.metrics.ObserveDBRequestDuration(req.QueryID.String(), time.Since(start))
	w.deliver(req, result)
}

func (w *Worker) query(ctx context.Context, stmt string, req Request) Result {
	rows, err := w.conn.Query(ctx, stmt, req.Args...)
	if err != nil {
		w.log.Error("db query failed", "query", req.QueryID, "err", err)
		w.recreateConnection(ctx)
		return Result{Err: err}
	}
	defer rows.Close()

	var result Result
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			result.Err = err
			break
		}
		result.Rows = append(result.Rows, vals)
	}
	if result.Err == nil {
		result.Err = rows.Err()
	}
	return result
}

func (w *Worker) deliver(req Request, result Result) {
	w.respMu.Lock()
	w.egress = append(w.egress, Response{Request: req, Result: result})
	w.respMu.Unlock()
}

// DrainResponses swaps out and returns every response queued since the
// last call, mirroring GetResponseQueue's swap-based drain in the source.
// Intended to be called periodically by authserver's callback-check timer.
func (w *Worker) DrainResponses() []Response {
	w.respMu.Lock()
	defer w.respMu.Unlock()
	out := w.egress
	w.egress = nil
	return out
}

// QueueDepth reports the number of requests currently waiting to be
// picked up by the worker goroutine, used for the DB queue depth gauge.
func (w *Worker) QueueDepth() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.ingress)
}

// Deliver posts resp's result onto the originating session's thread,
// unless the session has since gone away — the second of the two
// weak_ptr::lock() checks the source performs (once before running the
// query, once again here before touching session state).
func Deliver(resp Response) {
	if resp.Request.OnResult == nil {
		return
	}
	if resp.Request.CancelToken != nil && resp.Request.CancelToken.Expired() {
		return
	}
	resp.Request.Poster.Post(func() {
		resp.Request.OnResult(resp.Result)
	})
}
