package kcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// link is a tiny deterministic two-sided pipe: each side's output goes
// straight into the other side's input queue, driven by the test.
type link struct {
	toA, toB [][]byte
}

func newPair(t *testing.T, conv uint32, cfgA, cfgB Config) (*ControlBlock, *ControlBlock, *link) {
	t.Helper()
	l := &link{}
	a := NewControlBlock(conv, cfgA, func(frame []byte) {
		l.toB = append(l.toB, append([]byte(nil), frame...))
	})
	b := NewControlBlock(conv, cfgB, func(frame []byte) {
		l.toA = append(l.toA, append([]byte(nil), frame...))
	})
	return a, b, l
}

func (l *link) deliver(t *testing.T, a, b *ControlBlock) {
	t.Helper()
	for _, f := range l.toA {
		require.NoError(t, a.Input(f))
	}
	l.toA = nil
	for _, f := range l.toB {
		require.NoError(t, b.Input(f))
	}
	l.toB = nil
}

func tick(a, b *ControlBlock, now uint32) {
	a.Update(now)
	b.Update(now)
}

func TestSendRecvSmallMessage(t *testing.T) {
	a, b, l := newPair(t, 1, Config{}, Config{})

	require.NoError(t, a.Send([]byte("hello, ekho")))
	now := uint32(0)
	for i := 0; i < 5; i++ {
		now += 100
		tick(a, b, now)
		l.deliver(t, a, b)
	}

	got, err := b.Recv()
	require.NoError(t, err)
	assert.Equal(t, "hello, ekho", string(got))
}

func TestSendRecvFragmentedMessage(t *testing.T) {
	cfg := Config{MTU: 100}
	a, b, l := newPair(t, 2, cfg, cfg)

	payload := make([]byte, 500)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, a.Send(payload))

	now := uint32(0)
	for i := 0; i < 10; i++ {
		now += 100
		tick(a, b, now)
		l.deliver(t, a, b)
	}

	got, err := b.Recv()
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestEmptySendIsFIN(t *testing.T) {
	a, b, l := newPair(t, 3, Config{}, Config{})

	require.NoError(t, a.Send(nil))
	now := uint32(0)
	for i := 0; i < 5; i++ {
		now += 100
		tick(a, b, now)
		l.deliver(t, a, b)
	}

	got, err := b.Recv()
	require.NoError(t, err)
	assert.Len(t, got, 0)
}

func TestPeekSizeIncompleteMessage(t *testing.T) {
	cfg := Config{MTU: 100}
	a, b, l := newPair(t, 4, cfg, cfg)

	payload := make([]byte, 300)
	require.NoError(t, a.Send(payload))

	// 300 bytes at mss 76 is four fragments, one frame each at MTU 100.
	// Hand b only the first frame: the message is still incomplete.
	a.Update(100)
	require.NotEmpty(t, l.toB)
	require.NoError(t, b.Input(l.toB[0]))
	assert.Equal(t, -1, b.PeekSize())
	_, err := b.Recv()
	assert.Equal(t, ErrNotAvailable, err)

	// Once the remaining frames arrive, the whole message is visible.
	for _, f := range l.toB[1:] {
		require.NoError(t, b.Input(f))
	}
	l.toB = nil
	assert.Equal(t, len(payload), b.PeekSize())
}

func TestRTTUpdateShrinksRTO(t *testing.T) {
	kcp := NewControlBlock(5, Config{}, func([]byte) {})
	initial := kcp.rxRTO
	kcp.updateRTT(20)
	kcp.updateRTT(20)
	kcp.updateRTT(20)
	assert.Less(t, kcp.rxRTO, initial)
}

func TestDeadLinkTripsAfterRepeatedLoss(t *testing.T) {
	cfg := Config{DeadLinkThreshold: 2, Interval: 10}
	a := NewControlBlock(6, cfg, func([]byte) {})
	require.NoError(t, a.Send([]byte("x")))

	now := uint32(0)
	for i := 0; i < 20 && !a.DeadLink(); i++ {
		now += 1000
		a.Update(now)
	}
	assert.True(t, a.DeadLink())
}

func TestInputRejectsTruncatedSegment(t *testing.T) {
	a := NewControlBlock(8, Config{}, func([]byte) {})
	err := a.Input(make([]byte, segmentOverhead-1))
	assert.Equal(t, errMalformed, err)
}

func TestInputRejectsConvMismatch(t *testing.T) {
	a := NewControlBlock(9, Config{}, func([]byte) {})

	seg := segment{conv: 99, cmd: cmdPush, wnd: 128, sn: 0, una: 0}
	buf := make([]byte, segmentOverhead)
	seg.encode(buf)

	err := a.Input(buf)
	assert.Equal(t, errConvMismatch, err)
}

func TestWaitSndDrainsAfterFlush(t *testing.T) {
	a, b, l := newPair(t, 7, Config{}, Config{})
	require.NoError(t, a.Send([]byte("drain me")))
	assert.Greater(t, a.WaitSnd(), 0)

	now := uint32(0)
	for i := 0; i < 5; i++ {
		now += 100
		tick(a, b, now)
		l.deliver(t, a, b)
	}
	assert.True(t, a.AllFlushed())
}
