//go:build linux

package carrier

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

const (
	ipv4HeaderLen = 20

	// recvPollInterval bounds how long a blocked Recv takes to notice
	// ctx cancellation or Close, the same poll-for-interruption
	// approach uping's listener uses in place of a second FD it can
	// write to wake the blocking read.
	recvPollInterval = 200 * time.Millisecond
)

// RawSocketConfig configures a RawSocket.
type RawSocketConfig struct {
	Interface      string // bind to this interface via SO_BINDTODEVICE, empty = any
	Identifier     uint16 // ICMP echo identifier this process uses
	RecvBufferSize int    // SO_RCVBUF, 0 = kernel default
	SendBufferSize int    // SO_SNDBUF, 0 = kernel default
}

// RawSocket sends and receives frames as the data payload of ICMP Echo
// Request/Reply packets over a raw AF_INET socket, directly grounded
// on malbeclabs-doublezero's uping sender/listener: IP_HDRINCL so the
// IPv4 header is crafted by hand (with a manual Internet checksum),
// golang.org/x/net/icmp to marshal/parse the ICMP message itself, and
// a capability check before the socket is opened.
type RawSocket struct {
	fd     int
	seq    uint32 // atomic
	ident  uint16
	closed chan struct{}
	once   sync.Once
	mu     sync.Mutex // guards fd use across concurrent Send/Recv
}

// NewRawSocket opens a raw ICMP socket. The caller must hold
// CAP_NET_RAW (see RequirePrivileges).
func NewRawSocket(cfg RawSocketConfig) (*RawSocket, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_RAW, unix.IPPROTO_ICMP)
	if err != nil {
		return nil, errors.Wrap(err, "carrier: open raw socket")
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_HDRINCL, 1); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "carrier: set IP_HDRINCL")
	}
	if cfg.Interface != "" {
		if err := unix.BindToDevice(fd, cfg.Interface); err != nil {
			unix.Close(fd)
			return nil, errors.Wrap(err, "carrier: bind to device")
		}
	}
	if cfg.RecvBufferSize > 0 {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, cfg.RecvBufferSize)
	}
	if cfg.SendBufferSize > 0 {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, cfg.SendBufferSize)
	}
	tv := unix.Timeval{Sec: 0, Usec: int64(recvPollInterval / time.Microsecond)}
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "carrier: set SO_RCVTIMEO")
	}

	ident := cfg.Identifier
	if ident == 0 {
		ident = uint16(unix.Getpid() & 0xffff)
	}
	return &RawSocket{fd: fd, ident: ident, closed: make(chan struct{})}, nil
}

// Send wraps frame as an ICMP Echo Request's payload and writes it to
// dst. The sequence number increments on every call; it is not
// meaningful to the ARQ layer above (that has its own sequence
// numbers) and exists only to look like ordinary ping traffic.
func (r *RawSocket) Send(ctx context.Context, dst net.IP, frame []byte) error {
	return r.sendICMP(dst, ipv4.ICMPTypeEcho, frame)
}

// Bounce re-emits frame as an ICMP Echo Reply to dst, used by the
// camouflage path when an inbound packet fails envelope
// authentication and must be echoed back unchanged.
func (r *RawSocket) Bounce(dst net.IP, frame []byte) error {
	return r.sendICMP(dst, ipv4.ICMPTypeEchoReply, frame)
}

func (r *RawSocket) sendICMP(dst net.IP, typ icmp.Type, payload []byte) error {
	dst4 := dst.To4()
	if dst4 == nil {
		return errors.New("carrier: destination must be IPv4")
	}
	seq := int(uint16(atomic.AddUint32(&r.seq, 1)))

	msg := icmp.Message{
		Type: typ,
		Code: 0,
		Body: &icmp.Echo{ID: int(r.ident), Seq: seq, Data: payload},
	}
	icmpBytes, err := msg.Marshal(nil)
	if err != nil {
		return errors.Wrap(err, "carrier: marshal ICMP echo")
	}

	packet := make([]byte, ipv4HeaderLen+len(icmpBytes))
	buildIPv4Header(packet[:ipv4HeaderLen], dst4, len(packet))
	copy(packet[ipv4HeaderLen:], icmpBytes)

	var addr unix.SockaddrInet4
	copy(addr.Addr[:], dst4)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := unix.Sendto(r.fd, packet, 0, &addr); err != nil {
		return errors.Wrap(err, "carrier: sendto")
	}
	return nil
}

// Recv blocks until an ICMP Echo Request or Reply carrying a
// large-enough payload arrives, ctx is canceled, or Close is called.
// Packets that are too short to be ours, or that aren't ICMP echo
// traffic at all, are silently skipped — the carrier layer has no
// opinion about what counts as "ours"; that's the envelope's job.
func (r *RawSocket) Recv(ctx context.Context) (net.IP, []byte, error) {
	buf := make([]byte, 65535)
	for {
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-r.closed:
			return nil, nil, errClosed
		default:
		}

		n, from, err := unix.Recvfrom(r.fd, buf, 0)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
				continue
			}
			return nil, nil, errors.Wrap(err, "carrier: recvfrom")
		}
		src, payload, ok := parseICMPEcho(buf[:n])
		if !ok {
			continue
		}
		if sa, ok := from.(*unix.SockaddrInet4); ok {
			src = net.IP(append([]byte(nil), sa.Addr[:]...))
		}
		return src, payload, nil
	}
}

func (r *RawSocket) Close() error {
	r.once.Do(func() {
		close(r.closed)
		unix.Close(r.fd)
	})
	return nil
}

// parseICMPEcho strips the IPv4 header a raw socket hands back and
// parses the remainder as an ICMP message, returning the embedded
// source address from the IP header and the echo payload. ok is false
// for anything that isn't a long-enough ICMP echo request/reply.
func parseICMPEcho(packet []byte) (net.IP, []byte, bool) {
	if len(packet) < ipv4HeaderLen {
		return nil, nil, false
	}
	ihl := int(packet[0]&0x0f) * 4
	if ihl < ipv4HeaderLen || len(packet) < ihl {
		return nil, nil, false
	}
	src := net.IP(append([]byte(nil), packet[12:16]...))

	msg, err := icmp.ParseMessage(unix.IPPROTO_ICMP, packet[ihl:])
	if err != nil {
		return nil, nil, false
	}
	echo, ok := msg.Body.(*icmp.Echo)
	if !ok {
		return nil, nil, false
	}
	switch msg.Type {
	case ipv4.ICMPTypeEcho, ipv4.ICMPTypeEchoReply:
	default:
		return nil, nil, false
	}
	return src, append([]byte(nil), echo.Data...), true
}

// buildIPv4Header fills hdr (must be ipv4HeaderLen bytes) with a
// minimal IPv4 header addressed to dst; the kernel fills in the source
// address and recomputes the IP checksum since IP_HDRINCL still lets
// it do that on most kernels, but we compute a correct one anyway so
// the packet is well-formed if that ever changes.
func buildIPv4Header(hdr []byte, dst net.IP, totalLen int) {
	hdr[0] = 0x45 // version 4, IHL 5
	hdr[1] = 0
	binary.BigEndian.PutUint16(hdr[2:], uint16(totalLen))
	binary.BigEndian.PutUint16(hdr[4:], 0) // identification
	binary.BigEndian.PutUint16(hdr[6:], 0) // flags/fragment offset
	hdr[8] = 64                            // TTL
	hdr[9] = unix.IPPROTO_ICMP
	binary.BigEndian.PutUint16(hdr[10:], 0) // checksum, filled below
	copy(hdr[12:16], []byte{0, 0, 0, 0})    // source: kernel fills this in
	copy(hdr[16:20], dst)
	binary.BigEndian.PutUint16(hdr[10:], internetChecksum(hdr))
}

// internetChecksum computes the RFC 1071 Internet checksum.
func internetChecksum(data []byte) uint16 {
	var sum uint32
	n := len(data)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(data[i])<<8 | uint32(data[i+1])
	}
	if n%2 == 1 {
		sum += uint32(data[n-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}
