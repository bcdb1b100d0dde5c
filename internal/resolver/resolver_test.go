package resolver

import (
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hevsocks/socks5d/internal/buffer"
	"github.com/hevsocks/socks5d/internal/reactor"
)

// fakeDNSServer answers every A query for "example.com." with a fixed IP,
// and drops everything else (simulating a timeout-producing failure mode).
func fakeDNSServer(t *testing.T, answerIP net.IP) string {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 512)
		for {
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			req := new(dns.Msg)
			if err := req.Unpack(buf[:n]); err != nil {
				continue
			}
			if len(req.Question) == 0 {
				continue
			}
			q := req.Question[0]
			if q.Name != "example.com." {
				continue
			}

			resp := new(dns.Msg)
			resp.SetReply(req)
			resp.Answer = append(resp.Answer, &dns.A{
				Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
				A:   answerIP,
			})
			out, err := resp.Pack()
			if err != nil {
				continue
			}
			conn.WriteToUDP(out, addr)
		}
	}()

	return conn.LocalAddr().String()
}

func TestQueryAsyncResolvesARecord(t *testing.T) {
	want := net.IPv4(93, 184, 216, 34)
	server := fakeDNSServer(t, want)

	loop := reactor.NewLoop(8)
	go loop.Run()
	t.Cleanup(loop.Close)

	pool := buffer.NewPool(512, 4)
	r, err := New(loop, pool, server)
	require.NoError(t, err)
	t.Cleanup(r.Destroy)

	done := make(chan struct{})
	var gotIP net.IP
	var gotErr error

	err = r.QueryAsync("example.com", reactor.PriorityNormal, func(ip net.IP, qerr error) {
		gotIP, gotErr = ip, qerr
		close(done)
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("query never completed")
	}

	require.NoError(t, gotErr)
	require.True(t, gotIP.Equal(want))
}

func TestQueryAsyncNoAnswerForUnknownName(t *testing.T) {
	server := fakeDNSServer(t, net.IPv4(1, 2, 3, 4))

	loop := reactor.NewLoop(8)
	go loop.Run()
	t.Cleanup(loop.Close)

	pool := buffer.NewPool(512, 4)
	r, err := New(loop, pool, server)
	require.NoError(t, err)

	done := make(chan struct{})
	var gotErr error
	err = r.QueryAsync("nonexistent.invalid", reactor.PriorityNormal, func(ip net.IP, qerr error) {
		gotErr = qerr
		close(done)
	})
	require.NoError(t, err)

	select {
	case <-done:
		t.Fatal("fake server silently drops unknown names; query should not have completed")
	case <-time.After(150 * time.Millisecond):
	}
	_ = gotErr

	// The response read is still outstanding when Destroy cancels it; the
	// receive buffer it was using must still come back to the pool.
	r.Destroy()
	assert.Eventually(t, func() bool {
		return pool.InUse() == 0
	}, time.Second, 10*time.Millisecond, "cancelled query's buffer should be freed back to the pool")
}
