package dbworker

import (
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	expired atomic.Bool
}

func (f *fakeToken) Expired() bool { return f.expired.Load() }

type inlinePoster struct{}

func (inlinePoster) Post(fn func()) { fn() }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDeliverSkipsWhenCancelTokenExpired(t *testing.T) {
	token := &fakeToken{}
	token.expired.Store(true)

	called := false
	resp := Response{
		Request: Request{
			CancelToken: token,
			Poster:      inlinePoster{},
			OnResult:    func(Result) { called = true },
		},
	}

	Deliver(resp)

	require.False(t, called)
}

func TestDeliverRunsOnResultWhenNotCancelled(t *testing.T) {
	token := &fakeToken{}

	var got Result
	resp := Response{
		Request: Request{
			CancelToken: token,
			Poster:      inlinePoster{},
			OnResult:    func(r Result) { got = r },
		},
		Result: Result{Rows: [][]any{{int32(7)}}},
	}

	Deliver(resp)

	require.Equal(t, [][]any{{int32(7)}}, got.Rows)
}

func TestDeliverSkipsWhenOnResultNil(t *testing.T) {
	// Fire-and-forget responses never reach Deliver in practice (the
	// worker never queues them), but Deliver must still no-op safely.
	require.NotPanics(t, func() {
		Deliver(Response{Request: Request{Poster: inlinePoster{}}})
	})
}

func TestWorkerDrainResponsesSwapsAndClears(t *testing.T) {
	w := New(Config{}, nil, discardLogger())
	w.deliver(Request{QueryID: 0}, Result{Rows: [][]any{{1}}})
	w.deliver(Request{QueryID: 1}, Result{Rows: [][]any{{2}}})

	first := w.DrainResponses()
	require.Len(t, first, 2)

	second := w.DrainResponses()
	require.Empty(t, second)
}

func TestWorkerQueueDepthReflectsEnqueued(t *testing.T) {
	w := New(Config{}, nil, discardLogger())
	w.mu.Lock()
	w.ingress = append(w.ingress, Request{}, Request{})
	w.mu.Unlock()

	require.Equal(t, 2, w.QueueDepth())
}
