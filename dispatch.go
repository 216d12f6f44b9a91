package ekho

import (
	"context"
	"net"
	"time"

	"github.com/golang/glog"

	"github.com/ekho-go/ekho/carrier"
	"github.com/ekho-go/ekho/kcp"
)

const defaultBounceTimeout = 5 * time.Second

// Dispatcher is the single-consumer demultiplex loop: one goroutine
// reads every inbound packet off a Carrier, opens the envelope, and
// either routes the frame to an existing Session, mints a new one for
// a legitimate first PUSH, or bounces/throttles it if the envelope
// doesn't open.
type Dispatcher struct {
	car      carrier.Carrier
	cfg      kcp.Config
	incoming chan *Session
}

// NewDispatcher builds a dispatcher over car. cfg is applied to every
// session the dispatcher mints for an inbound first-push; incoming, if
// non-nil, is where newly-accepted sessions are published for a
// passive listener (cmd/ekho's accept loop reads from this).
func NewDispatcher(car carrier.Carrier, cfg kcp.Config, incoming chan *Session) *Dispatcher {
	return &Dispatcher{car: car, cfg: cfg, incoming: incoming}
}

// Run reads from the carrier until ctx is done or the carrier closes.
// Sessions for inbound first-pushes are registered from this one
// goroutine; Connect registers its sessions from the caller's
// goroutine. Readers elsewhere never block writers.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		src, sealed, err := d.car.Recv(ctx)
		if err != nil {
			return err
		}
		d.handle(src, sealed)
	}
}

func (d *Dispatcher) handle(src net.IP, sealed []byte) {
	peer, ok := EndpointFromIP(src)
	if !ok {
		glog.V(1).Infof("ekho: dispatch: non-IPv4 source %s, dropping", src)
		return
	}

	frame, err := _DEFAULT_ENVELOPE.open(sealed)
	if err != nil {
		metricsDecryptFailures.Inc()
		d.bounce(peer, sealed)
		return
	}

	conv, cmd, sn, ok := kcp.PeekHeader(frame)
	if !ok {
		glog.V(1).Infof("ekho: dispatch: malformed frame from %s, dropping", peer)
		return
	}

	key := sessionKey{peer: peer, conv: conv}
	sess, exists := _DEFAULT_REGISTRY.lookup(key)
	if !exists {
		// First-push gate: only an sn==0 PUSH may create a session;
		// anything else for an unknown key — a
		// stray ACK, a probe, a retransmitted PUSH whose sn==0 copy we
		// already missed — is dropped rather than spawning a phantom
		// session that can never be driven to completion.
		if cmd != kcp.CmdPush || sn != 0 {
			glog.V(2).Infof("ekho: dispatch: non-first-push for unknown session %s, dropping", key)
			return
		}
		sess = incoming(d.car, peer, conv, d.cfg)
		if d.incoming != nil {
			select {
			case d.incoming <- sess:
			default:
				glog.Warningf("ekho: dispatch: incoming channel full, dropping accept for %s", key)
			}
		}
	}

	sess.input(frame)
}

// bounce re-echoes an undecryptable packet byte-identical, the
// camouflage property: to an outside observer without the key, this
// responder looks exactly like a normal host replying to a ping,
// whether the "ping" was real or was garbage. Repeated failures from
// the same source past the configured rate are dropped instead, so the
// responder can't be abused as an ICMP reflector.
func (d *Dispatcher) bounce(peer Endpoint, sealed []byte) {
	if !_DEFAULT_BOUNCE_THROTTLE.allow(peer) {
		metricsBounceThrottled.Inc()
		return
	}
	type bouncer interface {
		Bounce(dst net.IP, frame []byte) error
	}
	b, ok := d.car.(bouncer)
	if !ok {
		// Carrier.Memory has no wire-level echo distinction to preserve
		// in tests; a plain Send back to the source is an adequate
		// stand-in for exercising the throttle/metrics behavior.
		ctx, cancel := context.WithTimeout(context.Background(), defaultBounceTimeout)
		defer cancel()
		_ = d.car.Send(ctx, peer.IP(), sealed)
		metricsBounced.Inc()
		return
	}
	if err := b.Bounce(peer.IP(), sealed); err != nil {
		glog.V(1).Infof("ekho: dispatch: bounce to %s failed: %+v", peer, err)
		return
	}
	metricsBounced.Inc()
}
