package ekho

import (
	"runtime"
	"sync"
)

// registry is the process-wide (Endpoint, conv) -> *Session table. Go
// has no compiler-enforced weak reference; the map holds each *Session
// directly, and entries leave it in these ways:
//
//  1. Session.Close removes its own entry before returning.
//  2. The session's updater removes the entry when it exits, on dead
//     link or once both directions are closed and flushed.
//  3. insert and insertIfAbsent attach a runtime.SetFinalizer to each
//     Session that removes its entry. Because the map and the running
//     updater both reference the Session, the finalizer does not run
//     while the session is registered: a Session dropped by its owner
//     without Close stays registered until case 2 applies.
type registry struct {
	sessions sync.Map // sessionKey -> *Session
	count    int64    // approximate; see activeCount
	mu       sync.Mutex
}

func newRegistry() *registry {
	return &registry{}
}

// insert adds sess under key, arming the finalizer safety net.
// Unconditional: callers that already know key is free (the dispatcher,
// which only calls this after a registry.lookup miss on its own single
// consumer goroutine) use this directly.
func (r *registry) insert(key sessionKey, sess *Session) {
	r.sessions.Store(key, sess)
	r.mu.Lock()
	r.count++
	r.mu.Unlock()
	metricsActiveSessions.Inc()
	runtime.SetFinalizer(sess, func(s *Session) {
		r.remove(key)
	})
}

// insertIfAbsent adds sess under key only if key is not already
// registered, atomically with respect to other insertIfAbsent/insert
// calls. It reports whether sess won the race. Connect uses this to
// detect a colliding conv pick without a separate lookup-then-insert
// window another goroutine could land in.
func (r *registry) insertIfAbsent(key sessionKey, sess *Session) bool {
	if _, loaded := r.sessions.LoadOrStore(key, sess); loaded {
		return false
	}
	r.mu.Lock()
	r.count++
	r.mu.Unlock()
	metricsActiveSessions.Inc()
	runtime.SetFinalizer(sess, func(s *Session) {
		r.remove(key)
	})
	return true
}

// lookup returns the session for key, if one is registered.
func (r *registry) lookup(key sessionKey) (*Session, bool) {
	v, ok := r.sessions.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// remove drops key's entry, if present. Safe to call more than once.
func (r *registry) remove(key sessionKey) {
	if _, existed := r.sessions.LoadAndDelete(key); existed {
		r.mu.Lock()
		r.count--
		r.mu.Unlock()
		metricsActiveSessions.Dec()
	}
}

// activeCount reports the number of sessions currently registered.
func (r *registry) activeCount() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// each invokes fn for every currently-registered session. fn must not
// mutate the registry.
func (r *registry) each(fn func(sessionKey, *Session)) {
	r.sessions.Range(func(k, v any) bool {
		fn(k.(sessionKey), v.(*Session))
		return true
	})
}

// CloseAllSessions closes every currently-registered session, draining
// each one's close handshake. Process entry points call this on
// shutdown so a SIGTERM doesn't drop every in-flight session's FIN on
// the floor.
func CloseAllSessions() {
	if !globalsReady() {
		return
	}
	var wg sync.WaitGroup
	_DEFAULT_REGISTRY.each(func(_ sessionKey, sess *Session) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sess.Close()
		}()
	})
	wg.Wait()
}
