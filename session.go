package ekho

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/ekho-go/ekho/carrier"
	"github.com/ekho-go/ekho/kcp"
)

// closeTimeout bounds how long Close waits for a clean FIN/flush
// handshake before tearing the session down anyway, so a dead or
// unresponsive peer can never make Close hang forever.
const closeTimeout = 60 * time.Second

// ErrSessionClosed is returned by Send once the local direction has
// been half-closed or the session has been torn down, and by Recv once
// the session has been torn down or both directions are closed.
var ErrSessionClosed = errors.New("ekho: session closed")

// Session is one multiplexed, reliable, ordered byte-stream
// conversation with a peer. It owns one ARQ control block, appears in
// the process registry under (peer, conv), and runs its own update
// goroutine.
type Session struct {
	key sessionKey
	car carrier.Carrier

	mu      sync.Mutex
	control *kcp.ControlBlock

	localClosing bool
	peerClosing  bool

	recvReady chan struct{} // signaled (best-effort) after Input/close changes rcv state
	kick      chan struct{} // signaled after Send/Close to wake the updater early

	die     chan struct{}
	dieOnce sync.Once

	// lastStat* are the control block's cumulative Stats() counts last
	// time reportStats ran, so each call can Add only the delta into
	// the process-wide Prometheus counters instead of double-counting.
	lastStatRetransmits     uint64
	lastStatFastRetransmits uint64
	lastStatLost            uint64
}

// Peer returns the remote endpoint this session talks to.
func (s *Session) Peer() Endpoint { return s.key.peer }

// Conv returns the conversation id.
func (s *Session) Conv() uint32 { return s.key.conv }

func newSession(key sessionKey, car carrier.Carrier, cfg kcp.Config) *Session {
	s := &Session{
		key:       key,
		car:       car,
		recvReady: make(chan struct{}, 1),
		kick:      make(chan struct{}, 1),
		die:       make(chan struct{}),
	}
	s.control = kcp.NewControlBlock(key.conv, cfg, s.output)
	return s
}

// output is the ARQ control block's callback: seal the frame and hand
// it to the carrier. Called with s.mu held, so the updater runs inside
// the same lock that guards the control block.
func (s *Session) output(frame []byte) {
	sealed := _DEFAULT_ENVELOPE.seal(frame)
	metricsSegmentsSent.Inc()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.car.Send(ctx, s.key.peer.IP(), sealed); err != nil {
		glog.Warningf("ekho: session %s: carrier send failed: %+v", s.key, err)
	}
}

// convRandMu guards convRandSrc, the source Connect draws candidate
// convs from. It is a package variable rather than a local rand.Rand
// so tests can seed it deterministically to drive a reproducible
// collision.
var (
	convRandMu  sync.Mutex
	convRandSrc = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// randomConv draws one candidate 32-bit conv. conv is observable
// plaintext (it's the first four bytes of every ARQ frame, read before
// the envelope is opened) and exists only to multiplex sessions, not to
// resist guessing, so a non-cryptographic source is the right tool.
func randomConv() uint32 {
	convRandMu.Lock()
	defer convRandMu.Unlock()
	return convRandSrc.Uint32()
}

// reportStats diffs the control block's cumulative Stats() against
// what was last reported and adds the delta into the process-wide
// retransmit/fast-retransmit/loss counters. Called with s.mu held,
// right after Update so a flush's events are visible immediately.
func (s *Session) reportStats() {
	retransmits, fastRetransmits, lost := s.control.Stats()
	if d := retransmits - s.lastStatRetransmits; d != 0 {
		metricsSegmentsRetransmitted.Add(float64(d))
		s.lastStatRetransmits = retransmits
	}
	if d := fastRetransmits - s.lastStatFastRetransmits; d != 0 {
		metricsFastRetransmits.Add(float64(d))
		s.lastStatFastRetransmits = fastRetransmits
	}
	if d := lost - s.lastStatLost; d != 0 {
		metricsSegmentsLost.Add(float64(d))
		s.lastStatLost = lost
	}
}

// Connect actively opens a new session to peer, picking a random
// 32-bit conv not already present in the registry and retrying on
// collision, then registers it and starts its updater. The peer learns
// of the session from the first PUSH segment Send produces (the far
// side's first-push gate), there is no separate handshake.
func Connect(car carrier.Carrier, peer Endpoint, cfg kcp.Config) (*Session, error) {
	if !globalsReady() {
		return nil, errors.New("ekho: InitGlobals was never called")
	}
	for {
		s, err := connectWithConv(peer, randomConv(), car, cfg)
		if err == nil {
			return s, nil
		}
	}
}

// connectWithConv is Connect's explicit-conv form: it registers exactly
// the conv the caller supplies instead of picking one at random,
// failing if that (peer, conv) pair is already registered — the
// programmer-error precondition the data model assigns to constructing
// a session directly under a caller-chosen conv. Connect's retry loop
// calls this for each candidate; tests that need a specific,
// deterministic conv call it directly too.
func connectWithConv(peer Endpoint, conv uint32, car carrier.Carrier, cfg kcp.Config) (*Session, error) {
	if !globalsReady() {
		return nil, errors.New("ekho: InitGlobals was never called")
	}
	key := sessionKey{peer: peer, conv: conv}
	s := newSession(key, car, cfg)
	if !_DEFAULT_REGISTRY.insertIfAbsent(key, s) {
		return nil, errors.Errorf("ekho: session %s already exists", key)
	}
	go s.updateLoop()
	return s, nil
}

// incoming constructs a session for a conv the dispatcher has just
// seen a first PUSH for. Unlike Connect this never fails on a
// duplicate key (the dispatcher checked first) and is only ever called
// from the dispatch loop.
func incoming(car carrier.Carrier, peer Endpoint, conv uint32, cfg kcp.Config) *Session {
	key := sessionKey{peer: peer, conv: conv}
	s := newSession(key, car, cfg)
	_DEFAULT_REGISTRY.insert(key, s)
	go s.updateLoop()
	return s
}

// input feeds one decrypted ARQ frame to the control block. Called by
// the dispatcher, never directly by application code.
func (s *Session) input(data []byte) {
	s.mu.Lock()
	err := s.control.Input(data)
	s.mu.Unlock()
	if err != nil {
		glog.V(1).Infof("ekho: session %s: malformed input: %+v", s.key, err)
		return
	}
	s.notify(s.recvReady)
	s.notify(s.kick)
}

func (s *Session) notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Send enqueues buf for reliable delivery. A zero-length buf is the
// in-band half-close signal: it is not available as a way to send an
// empty application message.
func (s *Session) Send(buf []byte) error {
	s.mu.Lock()
	if s.localClosing {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	select {
	case <-s.die:
		s.mu.Unlock()
		return ErrSessionClosed
	default:
	}
	if len(buf) == 0 {
		s.localClosing = true
	}
	err := s.control.Send(buf)
	s.mu.Unlock()
	if err != nil {
		return errors.Wrap(err, "ekho: send")
	}
	metricsBytesOut.Add(float64(len(buf)))
	s.notify(s.kick)
	return nil
}

// Recv blocks until the next in-order message is available, the
// session is closed, or ctx is done. A zero-length, nil-error return
// is the peer's FIN.
func (s *Session) Recv(ctx context.Context) ([]byte, error) {
	for {
		s.mu.Lock()
		buf, err := s.control.Recv()
		closed := s.peerClosing && s.localClosing
		s.mu.Unlock()

		if err == nil {
			metricsBytesIn.Add(float64(len(buf)))
			if len(buf) == 0 {
				s.mu.Lock()
				s.peerClosing = true
				s.mu.Unlock()
			}
			return buf, nil
		}
		if closed {
			return nil, ErrSessionClosed
		}

		select {
		case <-s.recvReady:
		case <-s.die:
			return nil, ErrSessionClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close half-closes the local direction (if not already done) and
// drains the receive queue itself until the peer's FIN is observed (or
// closeTimeout fires), rather than requiring the caller to have already
// read to EOF; any application data left unread at that point is
// discarded. This mirrors the drain loop in the session this package
// is modeled on (`while !peer_closing { let _ = recv().await }`).
// When both directions are closed and everything is flushed, or when
// closeTimeout fires first, the session is torn down and removed from
// the registry.
func (s *Session) Close() error {
	_ = s.Send(nil) // idempotent: Send is a no-op past the first empty call

	deadline := time.NewTimer(closeTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

waitFlush:
	for {
		s.mu.Lock()
		for {
			buf, err := s.control.Recv()
			if err != nil {
				break
			}
			if len(buf) == 0 {
				s.peerClosing = true
			}
		}
		done := s.localClosing && s.peerClosing && s.control.AllFlushed()
		s.mu.Unlock()
		if done {
			break waitFlush
		}
		select {
		case <-s.recvReady:
		case <-ticker.C:
		case <-deadline.C:
			glog.Warningf("ekho: session %s: close timed out, tearing down anyway", s.key)
			break waitFlush
		}
	}

	s.dieOnce.Do(func() { close(s.die) })
	_DEFAULT_REGISTRY.remove(s.key)
	return nil
}

// updateLoop is the per-session scheduler: it calls Update whenever
// Check says there's work, and exits once the control block is
// dead-linked or the session has been torn down and fully flushed.
func (s *Session) updateLoop() {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-s.die:
			return
		case <-s.kick:
		case <-timer.C:
		}

		s.mu.Lock()
		now := nowMillis()
		s.control.Update(now)
		s.reportStats()
		dead := s.control.DeadLink()
		bothClosedAndFlushed := s.localClosing && s.peerClosing && s.control.AllFlushed()
		next := s.control.Check(now)
		s.mu.Unlock()

		if dead {
			glog.Warningf("ekho: session %s: dead link, tearing down", s.key)
			s.dieOnce.Do(func() { close(s.die) })
			_DEFAULT_REGISTRY.remove(s.key)
			return
		}
		if bothClosedAndFlushed {
			s.dieOnce.Do(func() { close(s.die) })
			_DEFAULT_REGISTRY.remove(s.key)
			return
		}

		wait := time.Duration(next-now) * time.Millisecond
		if wait < 0 {
			wait = 0
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)
	}
}

var processStart = time.Now()

// nowMillis is the control block's clock: milliseconds since process
// start, matching kcp-go.v2's convention of an arbitrary but
// monotonically increasing epoch rather than wall-clock time.
func nowMillis() uint32 {
	return uint32(time.Since(processStart).Milliseconds())
}
