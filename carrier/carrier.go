// Package carrier implements component A: the transport of opaque
// frames to and from a peer IPv4 address, camouflaged as ICMP Echo
// traffic. Carrier knows nothing about sessions, ARQ, or encryption —
// it only moves bytes to and from a peer.
package carrier

import (
	"context"
	"net"
)

// Carrier abstracts sending and receiving raw frames keyed by peer
// IPv4 address. RawSocket is the real ICMP-backed implementation;
// Memory is a deterministic in-process stand-in used by every session
// and dispatch test in this module, since a raw socket's loss and
// reordering behavior cannot be driven deterministically in CI.
type Carrier interface {
	// Send hands frame to the carrier for delivery to dst. It may
	// return before the frame is actually on the wire. Neither
	// implementation queues outbound frames in a channel of its own:
	// RawSocket writes each frame with one sendto call, and Memory
	// never blocks, dropping a frame whose destination buffer is full.
	Send(ctx context.Context, dst net.IP, frame []byte) error

	// Recv blocks until a frame arrives from some peer, ctx is
	// canceled, or the carrier is closed.
	Recv(ctx context.Context) (src net.IP, frame []byte, err error)

	// Close releases the carrier's underlying resources. Send and Recv
	// return errors after Close.
	Close() error
}
