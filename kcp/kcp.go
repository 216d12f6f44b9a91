package kcp

const (
	rtoMin     = 100   // lower clamp on rto, ms (nodelay mode lowers this)
	rtoNoDelay = 30    // lower clamp on rto in nodelay mode, ms
	rtoDefault = 200   // initial rto before any RTT sample, ms
	rtoMax     = 60000 // upper clamp on rto, ms

	mtuDefault  = 1400
	wndSndDef   = 32
	wndRcvDef   = 32
	intervalDef = 100 // ms between flushes

	deadLinkDefault = 20 // xmit count past which a segment kills the link

	thresholdInit = 2
	thresholdMin  = 2

	probeInitWait  = 7000   // ms before first window probe
	probeLimitWait = 120000 // ms cap on window-probe backoff

	defaultSendQueueLimit = 1 << 16 // segments; bounds Send() growth
)

// Config holds the tunable knobs for one ControlBlock.
type Config struct {
	MTU               int  `toml:"mtu"` // 1-1500
	Nodelay           bool `toml:"nodelay"` // aggressive RTO backoff
	Interval          int  `toml:"interval"` // flush tick, ms
	Resend            int  `toml:"resend"` // fast-retransmit threshold (fastack count)
	CongestionControl bool `toml:"congestion_control"`
	RTO               int `toml:"rto"` // initial rto, ms (0 = default)
	RTOMin            int `toml:"rto_min"` // rto floor, ms (0 = default for the nodelay setting)
	SendWindow        int `toml:"send_window_size"` // segments
	RecvWindow        int `toml:"recv_window_size"` // segments
	DeadLinkThreshold int `toml:"dead_link_threshold"` // xmit count; 0 = default
}

func (c Config) withDefaults() Config {
	if c.MTU <= 0 {
		c.MTU = mtuDefault
	}
	if c.Interval <= 0 {
		c.Interval = intervalDef
	}
	if c.Interval > 5000 {
		c.Interval = 5000
	}
	if c.SendWindow <= 0 {
		c.SendWindow = wndSndDef
	}
	if c.RecvWindow <= 0 {
		c.RecvWindow = wndRcvDef
	}
	if c.DeadLinkThreshold <= 0 {
		c.DeadLinkThreshold = deadLinkDefault
	}
	return c
}

// ackEntry is one pending ACK to piggyback on the next flush.
type ackEntry struct {
	sn uint32
	ts uint32
}

// Output receives one ready-to-send frame of one or more concatenated
// segments (each carrying its own header), at most MTU bytes long; the
// caller is responsible for anything below the ARQ layer (encryption,
// carrying it over ICMP, etc).
type Output func(frame []byte)

// ControlBlock is the per-session KCP-style ARQ state machine: sliding
// send/receive windows, RTO estimation, and congestion control over an
// opaque segment stream. It is not safe for concurrent use; callers
// (the session layer) serialize access with a mutex.
type ControlBlock struct {
	cfg  Config
	conv uint32
	mtu  uint32
	mss  uint32

	sndUna, sndNxt, rcvNxt uint32

	rxRTTVar, rxSRTT int32
	rxRTO, rxMinRTO  uint32

	sndWnd, rcvWnd, rmtWnd uint32
	cwnd, ssthresh         uint32
	incr                   uint32
	nocwnd                 bool

	current   uint32 // ms, updated by Update
	interval  uint32
	tsFlush   uint32
	updated   bool
	tsProbe   uint32
	probeWait uint32
	probe     uint32

	nodelay    bool
	fastresend int32
	deadLink   uint32
	dead       bool

	sndQueue []segment
	rcvQueue []segment
	sndBuf   []segment
	rcvBuf   []segment
	acklist  []ackEntry

	buffer []byte
	output Output

	// Cumulative counts of events flush has observed, read by Stats.
	// Never reset, so callers diff successive reads to drive monotonic
	// counters of their own (e.g. Prometheus counters).
	statRetransmits     uint64
	statFastRetransmits uint64
	statLost            uint64
}

// NewControlBlock constructs a control block for one session. conv must
// match on both ends of the conversation. output is called with each
// framed segment flush produces; it must not block on anything that
// could re-enter the control block while it holds its lock.
func NewControlBlock(conv uint32, cfg Config, output Output) *ControlBlock {
	cfg = cfg.withDefaults()
	kcp := &ControlBlock{
		cfg:      cfg,
		conv:     conv,
		mtu:      uint32(cfg.MTU),
		mss:      uint32(cfg.MTU) - segmentOverhead,
		sndWnd:   uint32(cfg.SendWindow),
		rcvWnd:   uint32(cfg.RecvWindow),
		rmtWnd:   wndRcvDef,
		rxRTO:    rtoDefault,
		rxMinRTO: rtoMin,
		interval: uint32(cfg.Interval),
		tsFlush:  uint32(cfg.Interval),
		ssthresh: thresholdInit,
		deadLink: uint32(cfg.DeadLinkThreshold),
		nodelay:  cfg.Nodelay,
		nocwnd:   !cfg.CongestionControl,
		output:   output,
	}
	kcp.cwnd = kcp.sndWnd
	if cfg.Nodelay {
		kcp.rxMinRTO = rtoNoDelay
	}
	if cfg.RTOMin > 0 {
		kcp.rxMinRTO = uint32(cfg.RTOMin)
	}
	if cfg.RTO > 0 {
		kcp.rxRTO = uint32(cfg.RTO)
	}
	if cfg.Resend > 0 {
		kcp.fastresend = int32(cfg.Resend)
	}
	kcp.buffer = make([]byte, (kcp.mtu+segmentOverhead)*3)
	return kcp
}

// PeekSize reports the length of the next fully-received message in
// rcvQueue, or -1 if the head message is incomplete (not all of its
// fragments have arrived yet).
func (kcp *ControlBlock) PeekSize() int {
	if len(kcp.rcvQueue) == 0 {
		return -1
	}
	seg := &kcp.rcvQueue[0]
	if seg.frg == 0 {
		return len(seg.data)
	}
	if len(kcp.rcvQueue) < int(seg.frg)+1 {
		return -1
	}
	length := 0
	for i := range kcp.rcvQueue {
		s := &kcp.rcvQueue[i]
		length += len(s.data)
		if s.frg == 0 {
			break
		}
	}
	return length
}

// ErrNotAvailable is returned by Recv when the head message is not yet
// fully reassembled.
var ErrNotAvailable = notAvailableError{}

type notAvailableError struct{}

func (notAvailableError) Error() string { return "kcp: not available" }

// Recv pops the next in-order, possibly multi-fragment message. A
// zero-length return (nil error) is the peer's FIN.
func (kcp *ControlBlock) Recv() ([]byte, error) {
	if len(kcp.rcvQueue) == 0 {
		return nil, ErrNotAvailable
	}
	size := kcp.PeekSize()
	if size < 0 {
		return nil, ErrNotAvailable
	}

	fastRecover := len(kcp.rcvQueue) >= int(kcp.rcvWnd)

	buf := make([]byte, 0, size)
	count := 0
	for i := range kcp.rcvQueue {
		seg := &kcp.rcvQueue[i]
		buf = append(buf, seg.data...)
		count++
		if seg.frg == 0 {
			break
		}
	}
	kcp.rcvQueue = kcp.rcvQueue[count:]

	kcp.moveReceiveBuf()

	if len(kcp.rcvQueue) < int(kcp.rcvWnd) && fastRecover {
		kcp.probe |= askTell
	}
	return buf, nil
}

// moveReceiveBuf shifts in-order segments from rcvBuf into rcvQueue,
// advancing rcvNxt.
func (kcp *ControlBlock) moveReceiveBuf() {
	count := 0
	for i := range kcp.rcvBuf {
		seg := &kcp.rcvBuf[i]
		if seg.sn == kcp.rcvNxt && len(kcp.rcvQueue) < int(kcp.rcvWnd) {
			kcp.rcvNxt++
			count++
		} else {
			break
		}
	}
	kcp.rcvQueue = append(kcp.rcvQueue, kcp.rcvBuf[:count]...)
	kcp.rcvBuf = kcp.rcvBuf[count:]
}

// ErrQueueFull is returned by Send when admitting buf would grow
// sndQueue past its configured bound.
var ErrQueueFull = queueFullError{}

type queueFullError struct{}

func (queueFullError) Error() string { return "kcp: send queue full" }

// Send splits buf into <= mss fragments with descending frg (last
// fragment frg=0) and appends them to sndQueue. A zero-length buf is
// the in-band FIN and must be enqueued and delivered like any other
// message, so (unlike upstream KCP, which rejects empty sends) this
// produces exactly one zero-length segment.
func (kcp *ControlBlock) Send(buf []byte) error {
	if len(buf) == 0 {
		if len(kcp.sndQueue) >= defaultSendQueueLimit {
			return ErrQueueFull
		}
		kcp.sndQueue = append(kcp.sndQueue, segment{frg: 0, data: []byte{}})
		return nil
	}

	count := (len(buf) + int(kcp.mss) - 1) / int(kcp.mss)
	if count == 0 {
		count = 1
	}
	if count > 255 {
		return queueFullError{}
	}
	if len(kcp.sndQueue)+count > defaultSendQueueLimit {
		return ErrQueueFull
	}

	for i := 0; i < count; i++ {
		size := int(kcp.mss)
		if len(buf) < size {
			size = len(buf)
		}
		data := make([]byte, size)
		copy(data, buf[:size])
		kcp.sndQueue = append(kcp.sndQueue, segment{frg: uint8(count - i - 1), data: data})
		buf = buf[size:]
	}
	return nil
}

// updateRTT applies the Jacobson/Karels estimator: rttvar = 3/4 rttvar
// + 1/4 |srtt-rtt|, srtt = 7/8 srtt + 1/8 rtt, rto = clamp(srtt +
// max(interval, 4*rttvar), min, max).
func (kcp *ControlBlock) updateRTT(rtt int32) {
	if kcp.rxSRTT == 0 {
		kcp.rxSRTT = rtt
		kcp.rxRTTVar = rtt / 2
	} else {
		delta := rtt - kcp.rxSRTT
		if delta < 0 {
			delta = -delta
		}
		kcp.rxRTTVar = (3*kcp.rxRTTVar + delta) / 4
		kcp.rxSRTT = (7*kcp.rxSRTT + rtt) / 8
	}
	rto := uint32(kcp.rxSRTT) + imax(kcp.interval, uint32(4*kcp.rxRTTVar))
	kcp.rxRTO = ibound(kcp.rxMinRTO, rto, rtoMax)
}

func (kcp *ControlBlock) shrinkBuf() {
	if len(kcp.sndBuf) > 0 {
		kcp.sndUna = kcp.sndBuf[0].sn
	} else {
		kcp.sndUna = kcp.sndNxt
	}
}

func (kcp *ControlBlock) parseAck(sn uint32) {
	if itimediff(sn, kcp.sndUna) < 0 || itimediff(sn, kcp.sndNxt) >= 0 {
		return
	}
	for i := range kcp.sndBuf {
		if kcp.sndBuf[i].sn == sn {
			kcp.sndBuf = append(kcp.sndBuf[:i], kcp.sndBuf[i+1:]...)
			break
		}
		if itimediff(sn, kcp.sndBuf[i].sn) < 0 {
			break
		}
	}
}

// parseFastack increments fastack on every unacked segment with
// sn < the given sn, feeding the fast-retransmit rule.
func (kcp *ControlBlock) parseFastack(sn uint32) {
	if itimediff(sn, kcp.sndUna) < 0 || itimediff(sn, kcp.sndNxt) >= 0 {
		return
	}
	for i := range kcp.sndBuf {
		seg := &kcp.sndBuf[i]
		if itimediff(sn, seg.sn) < 0 {
			break
		} else if seg.sn != sn {
			seg.fastack++
		}
	}
}

func (kcp *ControlBlock) parseUna(una uint32) {
	count := 0
	for i := range kcp.sndBuf {
		if itimediff(una, kcp.sndBuf[i].sn) > 0 {
			count++
		} else {
			break
		}
	}
	kcp.sndBuf = kcp.sndBuf[count:]
}

func (kcp *ControlBlock) ackPush(sn, ts uint32) {
	kcp.acklist = append(kcp.acklist, ackEntry{sn, ts})
}

func (kcp *ControlBlock) parseData(seg segment) {
	sn := seg.sn
	if itimediff(sn, kcp.rcvNxt+kcp.rcvWnd) >= 0 || itimediff(sn, kcp.rcvNxt) < 0 {
		return
	}

	insertAt := len(kcp.rcvBuf)
	repeat := false
	for i := len(kcp.rcvBuf) - 1; i >= 0; i-- {
		if kcp.rcvBuf[i].sn == sn {
			repeat = true
			break
		}
		if itimediff(sn, kcp.rcvBuf[i].sn) > 0 {
			insertAt = i + 1
			break
		}
		insertAt = i
	}

	if !repeat {
		kcp.rcvBuf = append(kcp.rcvBuf, segment{})
		copy(kcp.rcvBuf[insertAt+1:], kcp.rcvBuf[insertAt:])
		kcp.rcvBuf[insertAt] = seg
	}

	kcp.moveReceiveBuf()
}

// errMalformed is returned by Input when data is too short to hold a
// segment header, or holds a header with an unrecognized cmd.
var errMalformed = malformedError{}

type malformedError struct{}

func (malformedError) Error() string { return "kcp: malformed segment" }

// errConvMismatch is returned by Input when a decoded segment's conv
// doesn't match this control block's own, e.g. two sessions' frames
// crossed in transit or the dispatcher routed a frame to the wrong key.
var errConvMismatch = convMismatchError{}

type convMismatchError struct{}

func (convMismatchError) Error() string { return "kcp: conv mismatch" }

// Input parses one or more concatenated segments out of a decrypted
// ARQ frame. It never blocks and never calls output.
func (kcp *ControlBlock) Input(data []byte) error {
	if len(data) < segmentOverhead {
		return errMalformed
	}
	una := kcp.sndUna
	var maxack uint32
	var ackSeen bool

	for len(data) > 0 {
		seg, rest, ok := decodeSegmentHeader(data)
		if !ok {
			return errMalformed
		}
		data = rest
		if seg.conv != kcp.conv {
			return errConvMismatch
		}
		switch seg.cmd {
		case cmdPush, cmdAck, cmdWAsk, cmdWIns:
		default:
			return errMalformed
		}

		kcp.rmtWnd = uint32(seg.wnd)
		kcp.parseUna(seg.una)
		kcp.shrinkBuf()

		switch seg.cmd {
		case cmdAck:
			if itimediff(kcp.current, seg.ts) >= 0 {
				kcp.updateRTT(itimediff(kcp.current, seg.ts))
			}
			kcp.parseAck(seg.sn)
			kcp.shrinkBuf()
			if !ackSeen || itimediff(seg.sn, maxack) > 0 {
				maxack = seg.sn
				ackSeen = true
			}
		case cmdPush:
			if itimediff(seg.sn, kcp.rcvNxt+kcp.rcvWnd) < 0 {
				kcp.ackPush(seg.sn, seg.ts)
				if itimediff(seg.sn, kcp.rcvNxt) >= 0 {
					owned := segment{conv: seg.conv, cmd: seg.cmd, frg: seg.frg, wnd: seg.wnd, ts: seg.ts, sn: seg.sn, una: seg.una}
					owned.data = append([]byte(nil), seg.data...)
					kcp.parseData(owned)
				}
			}
		case cmdWAsk:
			kcp.probe |= askTell
		case cmdWIns:
			// no-op: peer is telling us its window, already applied above.
		}
	}

	if ackSeen {
		kcp.parseFastack(maxack)
	}

	if itimediff(kcp.sndUna, una) > 0 && kcp.cfg.CongestionControl {
		kcp.growCongestionWindow()
	}
	return nil
}

func (kcp *ControlBlock) growCongestionWindow() {
	if kcp.cwnd >= kcp.rmtWnd {
		return
	}
	mss := kcp.mss
	if kcp.cwnd < kcp.ssthresh {
		kcp.cwnd++
		kcp.incr += mss
	} else {
		if kcp.incr < mss {
			kcp.incr = mss
		}
		kcp.incr += (mss*mss)/kcp.incr + mss/16
		if (kcp.cwnd+1)*mss <= kcp.incr {
			kcp.cwnd++
		}
	}
	if kcp.cwnd > kcp.rmtWnd {
		kcp.cwnd = kcp.rmtWnd
		kcp.incr = kcp.rmtWnd * mss
	}
}

// wndUnused is the advertised receive window:
// max(rcv_wnd - len(rcv_queue), 0).
func (kcp *ControlBlock) wndUnused() uint16 {
	if len(kcp.rcvQueue) < int(kcp.rcvWnd) {
		return uint16(int(kcp.rcvWnd) - len(kcp.rcvQueue))
	}
	return 0
}

// flush computes and emits all pending outbound segments, in order:
// ACKs first, then a window probe if warranted, then newly admitted
// data segments, then retransmissions.
func (kcp *ControlBlock) flush() {
	if kcp.dead {
		return
	}

	var base segment
	base.conv = kcp.conv
	base.cmd = cmdAck
	base.wnd = kcp.wndUnused()
	base.una = kcp.rcvNxt

	buffer := kcp.buffer
	ptr := buffer
	flushFrame := func() {
		size := len(buffer) - len(ptr)
		if size > 0 {
			frame := make([]byte, size)
			copy(frame, buffer[:size])
			kcp.output(frame)
		}
		ptr = buffer
	}
	// fits reports whether need more bytes keep the current frame within mtu.
	fits := func(need int) bool { return len(buffer)-len(ptr)+need <= int(kcp.mtu) }

	for _, ack := range kcp.acklist {
		if !fits(segmentOverhead) {
			flushFrame()
		}
		base.sn, base.ts = ack.sn, ack.ts
		ptr = base.encode(ptr)
	}
	kcp.acklist = nil
	flushFrame()

	// window probe, if the peer's advertised window has been zero.
	current := kcp.current
	if kcp.rmtWnd == 0 {
		if kcp.probeWait == 0 {
			kcp.probeWait = probeInitWait
			kcp.tsProbe = current + kcp.probeWait
		} else if itimediff(current, kcp.tsProbe) >= 0 {
			if kcp.probeWait < probeInitWait {
				kcp.probeWait = probeInitWait
			}
			kcp.probeWait += kcp.probeWait / 2
			if kcp.probeWait > probeLimitWait {
				kcp.probeWait = probeLimitWait
			}
			kcp.tsProbe = current + kcp.probeWait
			kcp.probe |= askSend
		}
	} else {
		kcp.tsProbe = 0
		kcp.probeWait = 0
	}

	if kcp.probe&askSend != 0 {
		base.cmd = cmdWAsk
		ptr = base.encode(ptr)
		flushFrame()
	}
	if kcp.probe&askTell != 0 {
		base.cmd = cmdWIns
		ptr = base.encode(ptr)
		flushFrame()
	}
	kcp.probe = 0

	// admit new segments bounded by min(snd_wnd, rmt_wnd[, cwnd]).
	cwnd := imin(kcp.sndWnd, kcp.rmtWnd)
	if kcp.cfg.CongestionControl {
		cwnd = imin(kcp.cwnd, cwnd)
	}
	newCount := 0
	for i := range kcp.sndQueue {
		if itimediff(kcp.sndNxt, kcp.sndUna+cwnd) >= 0 {
			break
		}
		seg := kcp.sndQueue[i]
		seg.conv = kcp.conv
		seg.cmd = cmdPush
		seg.sn = kcp.sndNxt
		kcp.sndBuf = append(kcp.sndBuf, seg)
		kcp.sndNxt++
		newCount++
	}
	kcp.sndQueue = kcp.sndQueue[newCount:]

	resend := uint32(kcp.fastresend)
	if kcp.fastresend <= 0 {
		resend = 0xffffffff
	}

	var lost bool
	var change int

	firstNew := len(kcp.sndBuf) - newCount
	for i := firstNew; i < len(kcp.sndBuf); i++ {
		seg := &kcp.sndBuf[i]
		seg.xmit++
		seg.rto = kcp.rxRTO
		seg.resendTS = current + seg.rto
		seg.ts = current
		seg.wnd = base.wnd
		seg.una = kcp.rcvNxt
		if !fits(segmentOverhead + len(seg.data)) {
			flushFrame()
		}
		ptr = seg.encode(ptr)
		ptr = ptr[copy(ptr, seg.data):]
	}

	for i := 0; i < firstNew; i++ {
		seg := &kcp.sndBuf[i]
		needSend := false
		if itimediff(current, seg.resendTS) >= 0 {
			needSend = true
			seg.xmit++
			if kcp.nodelay {
				seg.rto += kcp.rxRTO / 2
			} else {
				seg.rto += kcp.rxRTO
			}
			lost = true
			kcp.statLost++
			kcp.statRetransmits++
		} else if seg.fastack >= resend {
			needSend = true
			seg.xmit++
			seg.fastack = 0
			seg.rto = kcp.rxRTO
			change++
			kcp.statFastRetransmits++
			kcp.statRetransmits++
		}
		if !needSend {
			continue
		}
		seg.resendTS = current + seg.rto
		seg.ts = current
		seg.wnd = base.wnd
		seg.una = kcp.rcvNxt
		if !fits(segmentOverhead + len(seg.data)) {
			flushFrame()
		}
		ptr = seg.encode(ptr)
		ptr = ptr[copy(ptr, seg.data):]

		if seg.xmit > kcp.deadLink {
			kcp.dead = true
		}
	}
	flushFrame()

	if !kcp.cfg.CongestionControl {
		return
	}
	if change != 0 {
		inflight := kcp.sndNxt - kcp.sndUna
		kcp.ssthresh = imax(inflight/2, thresholdMin)
		kcp.cwnd = kcp.ssthresh + resend
		kcp.incr = kcp.cwnd * kcp.mss
	}
	if lost {
		kcp.ssthresh = imax(cwnd/2, thresholdMin)
		kcp.cwnd = 1
		kcp.incr = kcp.mss
	}
	if kcp.cwnd < 1 {
		kcp.cwnd = 1
		kcp.incr = kcp.mss
	}
}

// Update advances the control block's clock to now (ms) and flushes if
// its scheduled flush time has arrived. Callers should call Update
// roughly every Config.Interval ms, or use Check to learn exactly when.
func (kcp *ControlBlock) Update(now uint32) {
	kcp.current = now
	if !kcp.updated {
		kcp.updated = true
		kcp.tsFlush = now
	}
	slap := itimediff(now, kcp.tsFlush)
	if slap >= 10000 || slap < -10000 {
		kcp.tsFlush = now
		slap = 0
	}
	if slap >= 0 {
		kcp.tsFlush += kcp.interval
		if itimediff(now, kcp.tsFlush) >= 0 {
			kcp.tsFlush = now + kcp.interval
		}
		kcp.flush()
	}
}

// Check reports the timestamp (ms, same clock as Update) at which the
// next Update call would have work to do — the earliest timestamp at
// which flush would have work to do.
func (kcp *ControlBlock) Check(now uint32) uint32 {
	if !kcp.updated {
		return now
	}
	tsFlush := kcp.tsFlush
	if itimediff(now, tsFlush) >= 10000 || itimediff(now, tsFlush) < -10000 {
		tsFlush = now
	}
	if itimediff(now, tsFlush) >= 0 {
		return now
	}
	tmFlush := itimediff(tsFlush, now)
	tmPacket := int32(0x7fffffff)
	for i := range kcp.sndBuf {
		diff := itimediff(kcp.sndBuf[i].resendTS, now)
		if diff <= 0 {
			return now
		}
		if diff < tmPacket {
			tmPacket = diff
		}
	}
	minimal := uint32(tmPacket)
	if tmPacket >= tmFlush {
		minimal = uint32(tmFlush)
	}
	if minimal >= kcp.interval {
		minimal = kcp.interval
	}
	return now + minimal
}

// WaitSnd reports how many segments are queued or in flight.
func (kcp *ControlBlock) WaitSnd() int {
	return len(kcp.sndBuf) + len(kcp.sndQueue)
}

// AllFlushed reports whether there is nothing left to send or
// retransmit — used by Session.Close to know when it may tear down.
func (kcp *ControlBlock) AllFlushed() bool {
	return len(kcp.sndQueue) == 0 && len(kcp.sndBuf) == 0
}

// DeadLink reports whether a single segment has been retransmitted
// past the configured threshold.
func (kcp *ControlBlock) DeadLink() bool { return kcp.dead }

// Stats reports cumulative counts observed by flush: segments
// retransmitted for any reason, the subset retransmitted because of
// the fast-retransmit rule rather than RTO expiry, and RTO expiries
// (the loss signal congestion control reacts to). Counts never reset;
// callers diff successive reads to drive their own monotonic counters.
func (kcp *ControlBlock) Stats() (retransmits, fastRetransmits, lost uint64) {
	return kcp.statRetransmits, kcp.statFastRetransmits, kcp.statLost
}

// Conv returns the conversation id this control block was built with.
func (kcp *ControlBlock) Conv() uint32 { return kcp.conv }

// MSS returns the maximum single-segment payload size.
func (kcp *ControlBlock) MSS() int { return int(kcp.mss) }

// SendWindow returns the configured local send window, in segments.
func (kcp *ControlBlock) SendWindow() int { return int(kcp.sndWnd) }
