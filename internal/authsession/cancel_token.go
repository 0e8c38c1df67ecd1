package authsession

import "weak"

// cancelToken is the dbworker.CancelToken implementation sessions hand to
// every non-fire-and-forget request. It is the literal rendering of
// spec.md §9.1's "re-upgrade inside the callback and early-return on
// failure": a weak.Pointer resolves to nil once the Session is no longer
// strongly reachable, and the explicit closed flag covers the window
// where the GC hasn't collected it yet but the owning thread has already
// torn it down.
type cancelToken struct {
	ptr weak.Pointer[Session]
}

// Expired reports whether the session this token refers to has gone away.
func (t cancelToken) Expired() bool {
	s := t.ptr.Value()
	return s == nil || s.closed.Load()
}
