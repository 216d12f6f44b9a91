package carrier

import (
	"context"
	"math/rand"
	"net"
	"sync"
)

// MemoryConfig tunes the adverse-network behavior Memory simulates.
// All three probabilities are independent per frame and evaluated in
// LossRate, ReorderRate, DupRate order.
type MemoryConfig struct {
	LossRate    float64 // probability a frame is silently dropped
	DupRate     float64 // probability a frame is delivered twice
	ReorderRate float64 // probability a frame is held back one slot
	Rand        *rand.Rand
}

// frame is one in-flight datagram, addressed the way carrier.Memory's
// registry resolves peers: by the string form of the source/dest IP.
type frame struct {
	from net.IP
	data []byte
}

// Network is an in-process carrier: every endpoint sharing a *Network
// can address every other endpoint registered on it by IP. It exists
// purely so reliability and ordering properties can be driven by
// deterministic, repeatable loss/duplication/reordering instead of a
// real network.
type Network struct {
	mu      sync.Mutex
	peers   map[string]*Memory
	cfg     MemoryConfig
	held    *heldFrame // at most one frame held back at a time, per Network
}

// heldFrame is a frame whose delivery was deferred by ReorderRate: it
// is released once one more frame has been sent on the network,
// simulating a single out-of-order arrival rather than unbounded
// reordering.
type heldFrame struct {
	src  *Memory
	dst  net.IP
	data []byte
}

// NewNetwork builds a shared in-process network with the given adverse
// conditions applied uniformly to every Send on it.
func NewNetwork(cfg MemoryConfig) *Network {
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(1))
	}
	return &Network{peers: make(map[string]*Memory), cfg: cfg}
}

// Memory is one endpoint's handle onto a shared Network.
type Memory struct {
	net  *Network
	self net.IP
	ch   chan frame
	done chan struct{}
	once sync.Once
}

// NewEndpoint registers ip on net and returns its Carrier handle.
func (n *Network) NewEndpoint(ip net.IP) *Memory {
	m := &Memory{net: n, self: ip, ch: make(chan frame, 256), done: make(chan struct{})}
	n.mu.Lock()
	n.peers[ip.String()] = m
	n.mu.Unlock()
	return m
}

func (m *Memory) deliverTo(dst net.IP, payload []byte) {
	n := m.net
	n.mu.Lock()
	peer, ok := n.peers[dst.String()]
	n.mu.Unlock()
	if !ok {
		return // no listener at dst; a real network would just drop it
	}
	cp := append([]byte(nil), payload...)
	select {
	case peer.ch <- frame{from: m.self, data: cp}:
	case <-peer.done:
	default:
		// full buffer: drop, same as an overwhelmed real NIC queue.
	}
}

func (m *Memory) Send(ctx context.Context, dst net.IP, frameData []byte) error {
	n := m.net
	n.mu.Lock()
	_, known := n.peers[dst.String()]
	cfg := n.cfg
	var released *heldFrame
	if n.held != nil {
		released, n.held = n.held, nil
	}
	n.mu.Unlock()

	// whatever was held back by a previous Send is delivered after this
	// one is processed — it arrives "late" relative to the frame that
	// bumped it, which is exactly what ReorderRate simulates. A Send
	// that releases a held frame is never held itself.
	if released != nil {
		defer released.src.deliverTo(released.dst, released.data)
	}
	select {
	case <-m.done:
		return errClosed
	default:
	}
	if !known {
		return nil
	}

	if cfg.LossRate > 0 && cfg.Rand.Float64() < cfg.LossRate {
		return nil
	}
	if released == nil && cfg.ReorderRate > 0 && cfg.Rand.Float64() < cfg.ReorderRate {
		n.mu.Lock()
		n.held = &heldFrame{src: m, dst: dst, data: append([]byte(nil), frameData...)}
		n.mu.Unlock()
		return nil
	}

	m.deliverTo(dst, frameData)
	if cfg.DupRate > 0 && cfg.Rand.Float64() < cfg.DupRate {
		m.deliverTo(dst, frameData)
	}
	return nil
}

func (m *Memory) Recv(ctx context.Context) (net.IP, []byte, error) {
	select {
	case f := <-m.ch:
		return f.from, f.data, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case <-m.done:
		return nil, nil, errClosed
	}
}

func (m *Memory) Close() error {
	m.once.Do(func() { close(m.done) })
	return nil
}

var errClosed = &closedError{}

type closedError struct{}

func (*closedError) Error() string { return "carrier: closed" }
