package dbworker

import (
	"time"

	"github.com/silvematt/NECRO-MMO/internal/logindb"
)

// CancelToken reports whether the session that originated a request has
// gone away. It is the Go analogue of the source's
// std::weak_ptr<AuthSession>::expired(), kept as its own interface (rather
// than importing authsession directly) to avoid an import cycle: authsession
// imports dbworker to enqueue requests, so dbworker cannot import it back.
type CancelToken interface {
	Expired() bool
}

// Poster delivers a callback onto the goroutine that owns the originating
// session, mirroring boost::asio::post(req.m_callbackContexRef, ...) in the
// source. Satisfied by *netthread.Thread[S] for any S.
type Poster interface {
	Post(fn func())
}

// Result is the outcome of executing one Request.
type Result struct {
	// Rows holds one []any per returned row, column order matching the
	// statement's SELECT list. Empty for fire-and-forget requests.
	Rows [][]any
	Err  error
}

// Request is one unit of database work, mirroring DBRequest in the
// source: a statement id, bind parameters, and either a fire-and-forget
// flag or a callback delivered back onto the originating session's
// thread.
type Request struct {
	QueryID       logindb.QueryID
	Args          []any
	FireAndForget bool

	// CreatedAt seeds DB_REQUEST_TIMEOUT_IF_MYSQL_DOWN_MS-style
	// abandonment: a request older than the worker's configured down
	// timeout is dropped rather than retried forever. Set by Enqueue if
	// left zero.
	CreatedAt time.Time

	// CancelToken, when non-nil, is checked both before execution and
	// again before delivery; either check failing silently drops the
	// request, matching the source's double weak_ptr::lock() check.
	CancelToken CancelToken

	// Poster and OnResult are only used for non-fire-and-forget requests.
	Poster   Poster
	OnResult func(Result)
}

// Response pairs a completed Request with its Result, queued by the
// worker until authserver's callback-check timer drains and delivers it.
type Response struct {
	Request Request
	Result  Result
}
