package ekho

import (
	"context"
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekho-go/ekho/carrier"
	"github.com/ekho-go/ekho/kcp"
)

// fastKCP is a tight config so tests don't wait on the 100ms default
// flush interval.
var fastKCP = kcp.Config{Interval: 10, Nodelay: true}

// setupPair wires InitGlobals with a fresh envelope/registry/throttle
// and returns two carrier.Memory endpoints on a shared network, ready
// for Connect/incoming.
func setupPair(t *testing.T) (aCar, bCar carrier.Carrier, aIP, bIP net.IP) {
	t.Helper()
	key, err := generateKey()
	require.NoError(t, err)
	env, err := newEnvelope(key)
	require.NoError(t, err)
	InitGlobals(env, newRegistry(), make(chan *Session, 8), newBounceThrottle(100, time.Minute, time.Minute))

	nw := carrier.NewNetwork(carrier.MemoryConfig{})
	aIP = net.IPv4(10, 1, 2, 1)
	bIP = net.IPv4(10, 1, 2, 2)
	return nw.NewEndpoint(aIP), nw.NewEndpoint(bIP), aIP, bIP
}

func runDispatcher(t *testing.T, car carrier.Carrier, incoming chan *Session) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	d := NewDispatcher(car, fastKCP, incoming)
	go d.Run(ctx)
	return cancel
}

func TestSessionRoundTripBothDirections(t *testing.T) {
	aCar, bCar, _, bIP := setupPair(t)
	incoming := _DEFAULT_INCOMING

	// Both sides need their dispatch loop running: b's to accept the
	// inbound first-push and feed a's segments to its control block,
	// a's to feed b's ACKs and replies back to a's control block.
	cancelB := runDispatcher(t, bCar, incoming)
	defer cancelB()
	cancelA := runDispatcher(t, aCar, nil)
	defer cancelA()

	bPeer, ok := EndpointFromIP(bIP)
	require.True(t, ok)
	a, err := connectWithConv(bPeer, 1, aCar, fastKCP)
	require.NoError(t, err)

	require.NoError(t, a.Send([]byte("hello from a")))

	var b *Session
	select {
	case b = <-incoming:
	case <-time.After(2 * time.Second):
		t.Fatal("responder never accepted inbound session")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := b.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello from a", string(msg))

	require.NoError(t, b.Send([]byte("hello from b")))
	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	reply, err := a.Recv(ctx2)
	require.NoError(t, err)
	assert.Equal(t, "hello from b", string(reply))

	// b.Close()/a.Close() each drain their own receive queue internally
	// to observe the peer's FIN; nothing here reads it out first.
	require.NoError(t, b.Close())
	require.NoError(t, a.Close())
}

func TestSessionCloseHandshakeCompletes(t *testing.T) {
	aCar, bCar, _, bIP := setupPair(t)
	incoming := _DEFAULT_INCOMING

	cancelB := runDispatcher(t, bCar, incoming)
	defer cancelB()
	cancelA := runDispatcher(t, aCar, nil)
	defer cancelA()

	bPeer, _ := EndpointFromIP(bIP)
	a, err := connectWithConv(bPeer, 7, aCar, fastKCP)
	require.NoError(t, err)

	require.NoError(t, a.Send([]byte("x")))
	var b *Session
	select {
	case b = <-incoming:
	case <-time.After(2 * time.Second):
		t.Fatal("no inbound session accepted")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = b.Recv(ctx)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- a.Close() }()

	// b.Close drains its own receive queue to observe a's FIN instead
	// of requiring the test to read it out first.
	require.NoError(t, b.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(closeTimeout):
		t.Fatal("Close on a never returned")
	}
}

func TestConnectWithConvRejectsDuplicateKey(t *testing.T) {
	aCar, _, _, bIP := setupPair(t)
	bPeer, _ := EndpointFromIP(bIP)

	_, err := connectWithConv(bPeer, 1, aCar, fastKCP)
	require.NoError(t, err)

	_, err = connectWithConv(bPeer, 1, aCar, fastKCP)
	assert.Error(t, err)
}

// TestConnectRetriesOnConvCollision drives S3: pre-populate the
// registry with the first conv a seeded source will generate, then
// confirm Connect silently retries and lands on the second.
func TestConnectRetriesOnConvCollision(t *testing.T) {
	aCar, _, _, bIP := setupPair(t)
	bPeer, _ := EndpointFromIP(bIP)

	seeded := rand.New(rand.NewSource(1))
	firstConv := seeded.Uint32()
	secondConv := seeded.Uint32()

	convRandMu.Lock()
	prevSrc := convRandSrc
	convRandSrc = rand.New(rand.NewSource(1))
	convRandMu.Unlock()
	defer func() {
		convRandMu.Lock()
		convRandSrc = prevSrc
		convRandMu.Unlock()
	}()

	_, err := connectWithConv(bPeer, firstConv, aCar, fastKCP)
	require.NoError(t, err)

	a, err := Connect(aCar, bPeer, fastKCP)
	require.NoError(t, err)
	assert.Equal(t, secondConv, a.Conv())
}

func TestSendAfterLocalCloseIsRejected(t *testing.T) {
	aCar, _, _, bIP := setupPair(t)
	bPeer, _ := EndpointFromIP(bIP)

	a, err := connectWithConv(bPeer, 1, aCar, fastKCP)
	require.NoError(t, err)

	require.NoError(t, a.Send(nil))
	err = a.Send([]byte("too late"))
	assert.ErrorIs(t, err, ErrSessionClosed)
}
