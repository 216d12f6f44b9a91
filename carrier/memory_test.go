package carrier

import (
	"context"
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDeliversFrameUnmodified(t *testing.T) {
	nw := NewNetwork(MemoryConfig{})
	a := nw.NewEndpoint(net.IPv4(10, 0, 0, 1))
	b := nw.NewEndpoint(net.IPv4(10, 0, 0, 2))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Send(ctx, net.IPv4(10, 0, 0, 2), []byte("payload")))

	from, data, err := b.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", from.String())
	assert.Equal(t, "payload", string(data))
}

func TestMemorySendToUnknownPeerDoesNotBlock(t *testing.T) {
	nw := NewNetwork(MemoryConfig{})
	a := nw.NewEndpoint(net.IPv4(10, 0, 0, 1))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := a.Send(ctx, net.IPv4(10, 0, 0, 9), []byte("nobody home"))
	assert.NoError(t, err)
}

func TestMemoryLossRateDropsEveryFrame(t *testing.T) {
	nw := NewNetwork(MemoryConfig{LossRate: 1, Rand: rand.New(rand.NewSource(1))})
	a := nw.NewEndpoint(net.IPv4(10, 0, 0, 1))
	b := nw.NewEndpoint(net.IPv4(10, 0, 0, 2))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, a.Send(context.Background(), net.IPv4(10, 0, 0, 2), []byte("x")))

	_, _, err := b.Recv(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryDupRateDeliversTwice(t *testing.T) {
	nw := NewNetwork(MemoryConfig{DupRate: 1, Rand: rand.New(rand.NewSource(1))})
	a := nw.NewEndpoint(net.IPv4(10, 0, 0, 1))
	b := nw.NewEndpoint(net.IPv4(10, 0, 0, 2))

	require.NoError(t, a.Send(context.Background(), net.IPv4(10, 0, 0, 2), []byte("x")))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, _, err := b.Recv(ctx)
	require.NoError(t, err)
	_, _, err = b.Recv(ctx)
	require.NoError(t, err)
}

func TestMemoryReorderHoldsOneFrameBack(t *testing.T) {
	nw := NewNetwork(MemoryConfig{ReorderRate: 1, Rand: rand.New(rand.NewSource(1))})
	a := nw.NewEndpoint(net.IPv4(10, 0, 0, 1))
	b := nw.NewEndpoint(net.IPv4(10, 0, 0, 2))

	require.NoError(t, a.Send(context.Background(), net.IPv4(10, 0, 0, 2), []byte("first")))
	require.NoError(t, a.Send(context.Background(), net.IPv4(10, 0, 0, 2), []byte("second")))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, data1, err := b.Recv(ctx)
	require.NoError(t, err)
	_, data2, err := b.Recv(ctx)
	require.NoError(t, err)

	// "first" was held back by ReorderRate and released by the second
	// Send, so it arrives after "second".
	assert.Equal(t, "second", string(data1))
	assert.Equal(t, "first", string(data2))
}

func TestMemoryCloseUnblocksRecv(t *testing.T) {
	nw := NewNetwork(MemoryConfig{})
	a := nw.NewEndpoint(net.IPv4(10, 0, 0, 1))

	done := make(chan error, 1)
	go func() {
		_, _, err := a.Recv(context.Background())
		done <- err
	}()

	require.NoError(t, a.Close())
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Recv did not unblock after Close")
	}
}
