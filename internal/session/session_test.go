package session

import (
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hevsocks/socks5d/internal/buffer"
	"github.com/hevsocks/socks5d/internal/metrics"
	"github.com/hevsocks/socks5d/internal/reactor"
)

func newTestEnv(t *testing.T) (*reactor.Loop, *buffer.Pool, *metrics.Metrics) {
	t.Helper()
	loop := reactor.NewLoop(64)
	go loop.Run()
	t.Cleanup(loop.Close)

	pool := buffer.NewPool(512, 16)
	mx := metrics.New(prometheus.NewRegistry())
	return loop, pool, mx
}

func echoServer(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				io.Copy(c, c)
				c.Close()
			}(conn)
		}
	}()
	return ln
}

func packConnectReq(ip net.IP, port uint16) []byte {
	v4 := ip.To4()
	buf := make([]byte, 4+4+2)
	buf[0] = 0x05
	buf[1] = 0x01 // CONNECT
	buf[2] = 0x00
	buf[3] = 0x01 // ATYP_IPV4
	copy(buf[4:8], v4)
	binary.BigEndian.PutUint16(buf[8:10], port)
	return buf
}

func readFull(t *testing.T, conn net.Conn, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	_, err := io.ReadFull(conn, buf)
	require.NoError(t, err)
	return buf
}

func TestSessionHandshakeConnectAndRelay(t *testing.T) {
	loop, pool, mx := newTestEnv(t)
	ln := echoServer(t)
	defer ln.Close()

	remoteAddr := ln.Addr().(*net.TCPAddr)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	closed := make(chan metrics.Outcome, 1)
	_, err := New(loop, pool, mx, serverConn, "", func(s *Session, outcome metrics.Outcome) {
		closed <- outcome
	}, 1)
	require.NoError(t, err)

	// auth negotiation
	_, err = clientConn.Write([]byte{0x05, 0x01, 0x00})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x05, 0x00}, readFull(t, clientConn, 2))

	// request: CONNECT to the echo server's IPv4 address
	req := packConnectReq(remoteAddr.IP, uint16(remoteAddr.Port))
	_, err = clientConn.Write(req)
	require.NoError(t, err)

	res := readFull(t, clientConn, 10)
	assert.Equal(t, byte(0x05), res[0])
	assert.Equal(t, byte(0x00), res[1], "expected REP_SUCCESS")

	// relay phase: whatever we send comes back through the echo server
	payload := []byte("hello through the proxy")
	_, err = clientConn.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, payload, readFull(t, clientConn, len(payload)))

	clientConn.Close()

	select {
	case outcome := <-closed:
		assert.Equal(t, metrics.OutcomeRelayClosed, outcome)
	case <-time.After(2 * time.Second):
		t.Fatal("session never closed after client disconnect")
	}
}

func TestSessionRejectsUnsupportedAuthMethod(t *testing.T) {
	loop, pool, mx := newTestEnv(t)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	closed := make(chan metrics.Outcome, 1)
	_, err := New(loop, pool, mx, serverConn, "", func(s *Session, outcome metrics.Outcome) {
		closed <- outcome
	}, 2)
	require.NoError(t, err)

	// offer only username/password (0x02), which this proxy never accepts
	_, err = clientConn.Write([]byte{0x05, 0x01, 0x02})
	require.NoError(t, err)

	buf := make([]byte, 1)
	_, err = clientConn.Read(buf)
	assert.Error(t, err, "connection should be closed without a reply")

	select {
	case outcome := <-closed:
		assert.Equal(t, metrics.OutcomeHandshakeFailed, outcome)
	case <-time.After(2 * time.Second):
		t.Fatal("session never closed on unacceptable auth method")
	}
}

func TestSessionRejectsUnsupportedAtyp(t *testing.T) {
	loop, pool, mx := newTestEnv(t)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	closed := make(chan metrics.Outcome, 1)
	_, err := New(loop, pool, mx, serverConn, "", func(s *Session, outcome metrics.Outcome) {
		closed <- outcome
	}, 3)
	require.NoError(t, err)

	_, err = clientConn.Write([]byte{0x05, 0x01, 0x00})
	require.NoError(t, err)
	readFull(t, clientConn, 2)

	// ATYP_IPV6 request: unsupported since connect is IPv4-only
	req := make([]byte, 4+16+2)
	req[0] = 0x05
	req[1] = 0x01
	req[3] = 0x04 // ATYP_IPV6
	_, err = clientConn.Write(req)
	require.NoError(t, err)

	res := readFull(t, clientConn, 22)
	assert.Equal(t, byte(0x08), res[1], "expected REP_ATYPE_NOT_SUPPORTED")

	select {
	case outcome := <-closed:
		assert.Equal(t, metrics.OutcomeHandshakeFailed, outcome)
	case <-time.After(2 * time.Second):
		t.Fatal("session never closed after unsupported ATYP reply")
	}
}

func TestSessionRejectsUnsupportedCommand(t *testing.T) {
	loop, pool, mx := newTestEnv(t)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	closed := make(chan metrics.Outcome, 1)
	_, err := New(loop, pool, mx, serverConn, "", func(s *Session, outcome metrics.Outcome) {
		closed <- outcome
	}, 4)
	require.NoError(t, err)

	_, err = clientConn.Write([]byte{0x05, 0x01, 0x00})
	require.NoError(t, err)
	readFull(t, clientConn, 2)

	req := packConnectReq(net.IPv4(1, 2, 3, 4), 80)
	req[1] = 0x02 // BIND, not supported
	_, err = clientConn.Write(req)
	require.NoError(t, err)

	res := readFull(t, clientConn, 10)
	assert.Equal(t, byte(0x07), res[1], "expected REP_COMMAND_NOT_SUPPORTED")

	select {
	case outcome := <-closed:
		assert.Equal(t, metrics.OutcomeHandshakeFailed, outcome)
	case <-time.After(2 * time.Second):
		t.Fatal("session never closed after command-not-supported reply")
	}
}

func TestSessionIdleTracking(t *testing.T) {
	loop, pool, mx := newTestEnv(t)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	sess, err := New(loop, pool, mx, serverConn, "", nil, 5)
	require.NoError(t, err)

	sess.SetIdle()
	assert.True(t, sess.IsIdle())

	_, err = clientConn.Write([]byte{0x05, 0x01, 0x00})
	require.NoError(t, err)
	readFull(t, clientConn, 2)

	assert.False(t, sess.IsIdle(), "forward progress should clear the idle flag")
}
