package netio

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func pipeWriter(t *testing.T, backoff BackoffPolicy, probe SendQueueProbe, rps float64) (*Writer, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })
	return New(client, false, probe, backoff, rps), server
}

func TestWriteAll(t *testing.T) {
	w, server := pipeWriter(t, BackoffPolicy{}, nil, 0)
	done := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 5)
		n, _ := server.Read(buf)
		done <- buf[:n]
	}()
	require.NoError(t, w.Write(context.Background(), []byte("hello")))
	require.Equal(t, []byte("hello"), <-done)
}

func TestFixedBackoffAboveThreshold(t *testing.T) {
	probe := func(net.Conn) (int, int, bool) { return 90, 100, true }
	w, _ := pipeWriter(t, BackoffPolicy{Kind: BackoffFixed, FixedMS: 5, HighWaterPercent: 0.8}, probe, 0)
	// A SmallBypassBytes-sized write reaches the small-write stride, so
	// this call actually probes.
	ms := w.autoSleepMS(SmallBypassBytes)
	require.Equal(t, int64(5), ms)
}

func TestFixedBackoffBelowThreshold(t *testing.T) {
	probe := func(net.Conn) (int, int, bool) { return 10, 100, true }
	w, _ := pipeWriter(t, BackoffPolicy{Kind: BackoffFixed, FixedMS: 5, HighWaterPercent: 0.8}, probe, 0)
	require.Equal(t, int64(0), w.autoSleepMS(SmallBypassBytes))
}

func TestAdaptiveBackoffSaturates(t *testing.T) {
	probe := func(net.Conn) (int, int, bool) { return 95, 100, true }
	w, _ := pipeWriter(t, BackoffPolicy{Kind: BackoffAdaptive, MaxMS: 8, HighWaterPercent: 0.5}, probe, 0)
	// Each LargeProbeStrideBytes-sized write reaches the large-write
	// stride, so every call probes.
	var last int64
	for i := 0; i < 20; i++ {
		last = w.autoSleepMS(LargeProbeStrideBytes)
	}
	require.Equal(t, int64(8), last)
}

func TestAdaptiveBackoffDecaysToZero(t *testing.T) {
	above := func(net.Conn) (int, int, bool) { return 95, 100, true }
	below := func(net.Conn) (int, int, bool) { return 5, 100, true }
	w, _ := pipeWriter(t, BackoffPolicy{Kind: BackoffAdaptive, MaxMS: 8, HighWaterPercent: 0.5}, above, 0)
	for i := 0; i < 10; i++ {
		w.autoSleepMS(LargeProbeStrideBytes)
	}
	w.probe = below
	var last int64
	for i := 0; i < 10; i++ {
		last = w.autoSleepMS(LargeProbeStrideBytes)
	}
	require.Equal(t, int64(0), last)
}

func TestRateLimitDisablesBackpressure(t *testing.T) {
	w, _ := pipeWriter(t, BackoffPolicy{Kind: BackoffFixed, FixedMS: 5}, nil, 1000)
	require.Equal(t, BackoffNone, w.backoff.Kind)
}

func TestShutdownUDPNoop(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	require.NoError(t, err)
	defer conn.Close()
	w := New(conn, true, nil, BackoffPolicy{}, 0)
	require.NoError(t, w.Shutdown())
}

func TestDrainUntilEmptyUnsupportedReturnsImmediately(t *testing.T) {
	w, _ := pipeWriter(t, BackoffPolicy{}, nil, 0)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, w.DrainUntilEmpty(ctx))
}
