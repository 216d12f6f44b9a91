// Package kcp implements the ARQ control block: a KCP-style sliding
// window reliability engine operating on opaque byte frames. It knows
// nothing about ICMP, encryption, or session multiplexing — it only
// turns unreliable, unordered, possibly-duplicated frames into an
// ordered, reliable byte stream.
package kcp

import "encoding/binary"

// Segment commands, matching the wire layout byte-for-byte.
const (
	cmdPush = 81 // push data
	cmdAck  = 82 // acknowledge
	cmdWAsk = 83 // window probe (ask)
	cmdWIns = 84 // window size (tell)
)

// probe flags, set on the control block and cleared after flush.
const (
	askSend = 1 // need to send cmdWAsk
	askTell = 2 // need to send cmdWIns
)

// segmentOverhead is the fixed 24-byte header size described in the
// wire format: conv:u32 | cmd:u8 | frg:u8 | wnd:u16 | ts:u32 | sn:u32 | una:u32 | len:u32.
const segmentOverhead = 24

// segment is one ARQ frame, header plus payload.
type segment struct {
	conv uint32
	cmd  uint8
	frg  uint8
	wnd  uint16
	ts   uint32
	sn   uint32
	una  uint32
	data []byte

	// send-side bookkeeping, unused on segments built from input.
	resendTS uint32
	rto      uint32
	fastack  uint32
	xmit     uint32
}

func (s *segment) encode(ptr []byte) []byte {
	binary.LittleEndian.PutUint32(ptr, s.conv)
	ptr[4] = s.cmd
	ptr[5] = s.frg
	binary.LittleEndian.PutUint16(ptr[6:], s.wnd)
	binary.LittleEndian.PutUint32(ptr[8:], s.ts)
	binary.LittleEndian.PutUint32(ptr[12:], s.sn)
	binary.LittleEndian.PutUint32(ptr[16:], s.una)
	binary.LittleEndian.PutUint32(ptr[20:], uint32(len(s.data)))
	return ptr[segmentOverhead:]
}

// decodeSegmentHeader reads one header from data, returning the parsed
// fields and the remainder of data following the header. ok is false
// if data is too short to contain a header.
func decodeSegmentHeader(data []byte) (seg segment, rest []byte, ok bool) {
	if len(data) < segmentOverhead {
		return segment{}, data, false
	}
	seg.conv = binary.LittleEndian.Uint32(data)
	seg.cmd = data[4]
	seg.frg = data[5]
	seg.wnd = binary.LittleEndian.Uint16(data[6:])
	seg.ts = binary.LittleEndian.Uint32(data[8:])
	seg.sn = binary.LittleEndian.Uint32(data[12:])
	seg.una = binary.LittleEndian.Uint32(data[16:])
	length := binary.LittleEndian.Uint32(data[20:])
	rest = data[segmentOverhead:]
	if uint32(len(rest)) < length {
		return segment{}, data, false
	}
	seg.data = rest[:length]
	rest = rest[length:]
	return seg, rest, true
}

// PeekHeader reads just the first segment's conv/cmd/sn out of a
// decrypted ARQ frame, without allocating or validating payload
// length. The dispatcher uses this to decide whether a frame belongs
// to an existing session or is eligible to start a new one (the
// first-push gate: only cmd==PUSH with sn==0 may create a session).
func PeekHeader(data []byte) (conv uint32, cmd uint8, sn uint32, ok bool) {
	if len(data) < segmentOverhead {
		return 0, 0, 0, false
	}
	conv = binary.LittleEndian.Uint32(data)
	cmd = data[4]
	sn = binary.LittleEndian.Uint32(data[12:])
	return conv, cmd, sn, true
}

// CmdPush is the exported form of the PUSH command byte, for callers
// outside the package that need to recognize it (the dispatcher's
// first-push gate).
const CmdPush = cmdPush

func itimediff(later, earlier uint32) int32 {
	return int32(later - earlier)
}

func imin(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

func imax(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

func ibound(lower, middle, upper uint32) uint32 {
	return imin(imax(lower, middle), upper)
}
