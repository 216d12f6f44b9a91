package ekho

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekho-go/ekho/kcp"
)

func TestDispatchAcceptsFirstPushOnly(t *testing.T) {
	aCar, bCar, _, bIP := setupPair(t)
	incoming := _DEFAULT_INCOMING

	cancel := runDispatcher(t, bCar, incoming)
	defer cancel()

	bPeer, _ := EndpointFromIP(bIP)
	a, err := connectWithConv(bPeer, 42, aCar, fastKCP)
	require.NoError(t, err)
	require.NoError(t, a.Send([]byte("first push")))

	select {
	case <-incoming:
	case <-time.After(2 * time.Second):
		t.Fatal("first PUSH did not mint a session")
	}
	// Both ends share this process's registry: a's outbound session
	// plus the one the dispatcher minted for b.
	assert.EqualValues(t, 2, _DEFAULT_REGISTRY.activeCount())
}

func TestDispatchDropsNonFirstPushForUnknownKey(t *testing.T) {
	aCar, bCar, _, bIP := setupPair(t)
	incoming := _DEFAULT_INCOMING

	cancel := runDispatcher(t, bCar, incoming)
	defer cancel()

	// Build a PUSH segment with sn=1 directly (bypassing Connect, which
	// always starts a conversation at sn=0) to simulate a stray
	// non-first segment for a conv the responder has never seen.
	seg := encodeTestSegment(t, 99, kcp.CmdPush, 1)
	sealed := _DEFAULT_ENVELOPE.seal(seg)
	ctx, c := context.WithTimeout(context.Background(), time.Second)
	defer c()
	require.NoError(t, aCar.Send(ctx, bIP, sealed))

	select {
	case <-incoming:
		t.Fatal("non-first-push for unknown key must not mint a session")
	case <-time.After(200 * time.Millisecond):
	}
	assert.EqualValues(t, 0, _DEFAULT_REGISTRY.activeCount())
}

func TestDispatchBouncesUndecryptablePacket(t *testing.T) {
	aCar, bCar, _, bIP := setupPair(t)
	cancel := runDispatcher(t, bCar, nil)
	defer cancel()

	ctx, c := context.WithTimeout(context.Background(), time.Second)
	defer c()
	garbage := make([]byte, 64)
	for i := range garbage {
		garbage[i] = byte(i)
	}
	require.NoError(t, aCar.Send(ctx, bIP, garbage))

	ctx2, c2 := context.WithTimeout(context.Background(), time.Second)
	defer c2()
	from, echoed, err := aCar.Recv(ctx2)
	require.NoError(t, err)
	assert.Equal(t, bIP.String(), from.String())
	assert.Equal(t, garbage, echoed)
}

func TestDispatchBounceThrottleCapsRepeatedFailures(t *testing.T) {
	aCar, bCar, _, bIP := setupPair(t)
	_DEFAULT_BOUNCE_THROTTLE = newBounceThrottle(2, time.Minute, time.Minute)
	cancel := runDispatcher(t, bCar, nil)
	defer cancel()

	garbage := []byte("not a valid envelope")
	for i := 0; i < 5; i++ {
		ctx, c := context.WithTimeout(context.Background(), time.Second)
		require.NoError(t, aCar.Send(ctx, bIP, garbage))
		c()
	}

	bounced := 0
	for {
		ctx, c := context.WithTimeout(context.Background(), 300*time.Millisecond)
		_, _, err := aCar.Recv(ctx)
		c()
		if err != nil {
			break
		}
		bounced++
	}
	assert.Equal(t, 2, bounced)
}

// encodeTestSegment builds a single raw ARQ frame with the given
// conv/cmd/sn and empty payload, for tests that need to drive the
// dispatcher with a segment Connect/Send would never produce on its
// own.
func encodeTestSegment(t *testing.T, conv uint32, cmd uint8, sn uint32) []byte {
	t.Helper()
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint32(buf[0:], conv)
	buf[4] = cmd
	binary.LittleEndian.PutUint32(buf[12:], sn)
	return buf
}
