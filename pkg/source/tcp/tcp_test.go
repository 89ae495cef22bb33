package tcp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/user/fluxgate/pkg/framing"
)

func startAcceptor(t *testing.T, mode framing.Mode) (*Acceptor, *Reader, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	acc := NewAcceptor(ln, 1, mode, nil)
	reader := NewReader("tcp-0", nil, acc.registry, acc.RegistrationChannel(0), 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go acc.Run(ctx)

	return acc, reader, ln.Addr().String()
}

// TestLineFramingScenario covers spec scenario S2: a client sending
// "hello\nworld\n" over a line-framed connection must yield two events
// tagged with the client's address.
func TestLineFramingScenario(t *testing.T) {
	_, reader, addr := startAcceptor(t, framing.ModeLine)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("hello\nworld\n"))
	require.NoError(t, err)

	ctx := context.Background()
	var payloads []string
	deadline := time.Now().Add(2 * time.Second)
	for len(payloads) < 2 && time.Now().Before(deadline) {
		batch, err := reader.Receive(ctx)
		require.NoError(t, err)
		for _, ev := range batch {
			payloads = append(payloads, string(ev.Payload))
			require.NotEmpty(t, ev.Tags["access_ip"])
			require.NotEmpty(t, ev.UpsIP)
		}
	}
	require.Equal(t, []string{"hello", "world"}, payloads)
}

// TestLengthFramingScenario covers spec scenario S3: a client sending
// "5 hello6 world!" over a length-framed connection must yield "hello"
// and "world!".
func TestLengthFramingScenario(t *testing.T) {
	_, reader, addr := startAcceptor(t, framing.ModeLen)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("5 hello6 world!"))
	require.NoError(t, err)

	ctx := context.Background()
	var payloads []string
	deadline := time.Now().Add(2 * time.Second)
	for len(payloads) < 2 && time.Now().Before(deadline) {
		batch, err := reader.Receive(ctx)
		require.NoError(t, err)
		for _, ev := range batch {
			payloads = append(payloads, string(ev.Payload))
		}
	}
	require.Equal(t, []string{"hello", "world!"}, payloads)
}
