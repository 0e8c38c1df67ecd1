package netthread

import (
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeSocket struct {
	closed    atomic.Bool
	expireAt  time.Time
	updateErr error
}

func (f *fakeSocket) Update(now time.Time) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	if !f.expireAt.IsZero() && now.After(f.expireAt) {
		return errors.New("expired")
	}
	return nil
}

func (f *fakeSocket) Close() { f.closed.Store(true) }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestThreadPostRunsOnOwningGoroutine(t *testing.T) {
	th := New[*fakeSocket](1, time.Hour, 8, testLogger())
	go th.Run()
	defer th.Stop()

	done := make(chan struct{})
	th.Post(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("posted job never ran")
	}
}

func TestThreadEnqueuePromotesSocketAndLoadReflectsIt(t *testing.T) {
	th := New[*fakeSocket](1, time.Hour, 8, testLogger())
	go th.Run()
	defer th.Stop()

	s := &fakeSocket{}
	th.Enqueue(s)

	require.Eventually(t, func() bool {
		done := make(chan int, 1)
		th.Post(func() { done <- th.Load() })
		return <-done == 1
	}, time.Second, 10*time.Millisecond)
}

func TestThreadTickRemovesSocketWhenUpdateErrors(t *testing.T) {
	th := New[*fakeSocket](1, 10*time.Millisecond, 8, testLogger())
	go th.Run()
	defer th.Stop()

	s := &fakeSocket{updateErr: errors.New("boom")}
	th.Enqueue(s)

	require.Eventually(t, func() bool {
		return s.closed.Load()
	}, time.Second, 10*time.Millisecond)
}

func TestThreadStopClosesOwnedSockets(t *testing.T) {
	th := New[*fakeSocket](1, time.Hour, 8, testLogger())
	go th.Run()

	s := &fakeSocket{}
	th.Enqueue(s)
	require.Eventually(t, func() bool {
		done := make(chan int, 1)
		th.Post(func() { done <- th.Load() })
		return <-done == 1
	}, time.Second, 10*time.Millisecond)

	th.Stop()

	require.Eventually(t, func() bool {
		return s.closed.Load()
	}, time.Second, 10*time.Millisecond)
}
