package ekho

import (
	"context"
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekho-go/ekho/carrier"
)

// TestRetransmitMetricsIncreaseOnLossyExchange drives a real exchange
// over a network that drops a third of its frames, so RTO expiries and
// fast-retransmits both have a chance to fire, then checks the
// exported counters rose and never slid back, sampling partway through
// the exchange to catch a monotonicity regression rather than just
// comparing start and end.
func TestRetransmitMetricsIncreaseOnLossyExchange(t *testing.T) {
	key, err := generateKey()
	require.NoError(t, err)
	env, err := newEnvelope(key)
	require.NoError(t, err)
	InitGlobals(env, newRegistry(), make(chan *Session, 8), newBounceThrottle(100, time.Minute, time.Minute))

	nw := carrier.NewNetwork(carrier.MemoryConfig{
		LossRate: 0.3,
		Rand:     rand.New(rand.NewSource(1)),
	})
	aIP := net.IPv4(10, 9, 9, 1)
	bIP := net.IPv4(10, 9, 9, 2)
	aCar := nw.NewEndpoint(aIP)
	bCar := nw.NewEndpoint(bIP)

	incoming := _DEFAULT_INCOMING
	cancelB := runDispatcher(t, bCar, incoming)
	defer cancelB()
	cancelA := runDispatcher(t, aCar, nil)
	defer cancelA()

	bPeer, ok := EndpointFromIP(bIP)
	require.True(t, ok)
	a, err := connectWithConv(bPeer, 55, aCar, fastKCP)
	require.NoError(t, err)

	retransmitsBefore := testutil.ToFloat64(metricsSegmentsRetransmitted)
	lostBefore := testutil.ToFloat64(metricsSegmentsLost)

	var b *Session
	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i)
	}

	// Send enough traffic, across enough RTO cycles, that a 30% loss
	// rate is overwhelmingly likely to force at least one retransmit.
	for i := 0; i < 20; i++ {
		require.NoError(t, a.Send(payload))
		if b == nil {
			select {
			case b = <-incoming:
			case <-time.After(2 * time.Second):
				t.Fatal("responder never accepted inbound session")
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		msg, err := b.Recv(ctx)
		cancel()
		require.NoError(t, err)
		assert.Len(t, msg, len(payload))
	}

	retransmitsMid := testutil.ToFloat64(metricsSegmentsRetransmitted)
	lostMid := testutil.ToFloat64(metricsSegmentsLost)
	assert.GreaterOrEqualf(t, retransmitsMid, retransmitsBefore,
		"retransmit counter must never decrease")
	assert.GreaterOrEqualf(t, lostMid, lostBefore,
		"loss counter must never decrease")
	assert.Greaterf(t, retransmitsMid, retransmitsBefore,
		"expected at least one retransmit over a 30%% loss rate")
	assert.Greaterf(t, lostMid, lostBefore,
		"expected at least one RTO expiry over a 30%% loss rate")

	// Give the updaters one more pass and confirm the counters hold
	// steady or climb further, never slide backwards.
	time.Sleep(100 * time.Millisecond)
	retransmitsAfter := testutil.ToFloat64(metricsSegmentsRetransmitted)
	lostAfter := testutil.ToFloat64(metricsSegmentsLost)
	assert.GreaterOrEqual(t, retransmitsAfter, retransmitsMid)
	assert.GreaterOrEqual(t, lostAfter, lostMid)

	require.NoError(t, b.Close())
	require.NoError(t, a.Close())
}
