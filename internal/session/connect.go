package session

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/hevsocks/socks5d/internal/metrics"
	"github.com/hevsocks/socks5d/internal/reactor"
	"github.com/hevsocks/socks5d/internal/resolver"
	"github.com/hevsocks/socks5d/internal/socks5"
	"github.com/hevsocks/socks5d/internal/sockopt"
)

const connectTimeout = 15 * time.Second

// beginResolve instantiates a Resolver for the RESOLVING phase. It is
// destroyed synchronously from inside onResolved before the connect is
// initiated — a Resolver never outlives its one query.
func (s *Session) beginResolve(domain string) {
	s.state = stateResolving

	r, err := resolver.New(s.loop, s.pool, s.dnsServer)
	if err != nil {
		s.destroy(metrics.OutcomeDNSFailed)
		return
	}
	s.resolver = r

	if err := r.QueryAsync(domain, reactor.PriorityNormal, s.onResolved); err != nil {
		s.destroy(metrics.OutcomeDNSFailed)
	}
}

func (s *Session) onResolved(ip net.IP, err error) {
	s.clearIdle()

	if s.resolver != nil {
		s.resolver.Destroy()
		s.resolver = nil
	}

	if s.state == stateClosed {
		return
	}

	if err != nil || ip == nil {
		s.destroy(metrics.OutcomeDNSFailed)
		return
	}

	s.dstIP = ip
	s.beginConnect(net.JoinHostPort(ip.String(), strconv.Itoa(int(s.dstPort))))
}

// beginConnect dials target asynchronously: the dial itself runs on a
// helper goroutine (parked on the runtime netpoller exactly like a
// PollableFD read), and its result is posted back onto the loop. gen lets a
// destroyed session's late dial result be dropped instead of acted on, so a
// session that's already torn down never receives a late callback.
func (s *Session) beginConnect(target string) {
	s.state = stateConnecting

	ctx, cancel := context.WithCancel(context.Background())
	s.connectGen++
	gen := s.connectGen
	s.connectCancel = cancel

	go func() {
		d := net.Dialer{
			Timeout: connectTimeout,
			Control: sockopt.Control,
		}
		conn, err := d.DialContext(ctx, "tcp4", target)

		s.loop.Post(reactor.PriorityNormal, func() {
			if s.state == stateClosed || gen != s.connectGen {
				if conn != nil {
					conn.Close()
				}
				return
			}
			s.connectCancel = nil
			s.onConnected(conn, err)
		})
	}()
}

func (s *Session) onConnected(conn net.Conn, err error) {
	s.clearIdle()

	if err != nil || conn == nil {
		s.destroy(metrics.OutcomeConnectFailed)
		return
	}

	s.remoteConn = conn
	s.remotePFD = reactor.New(s.loop, conn)

	buf, ok := s.pool.Alloc()
	if !ok {
		s.mx.BufferPoolExhausted()
		s.destroy(metrics.OutcomeConnectFailed)
		return
	}
	s.buf0 = buf
	s.buf0.Offset = 0

	addr := s.dstIP.To4()
	if addr == nil {
		addr = s.dstIP.To16()
	}
	n := socks5.ResPack(s.buf0.Data(), socks5.RepSuccess, socks5.AtypIPv4, addr, s.dstPort)
	s.buf0.Length = n

	s.state = stateWriteRes
	if !s.writeClient(s.buf0, n, s.onWriteResDone) {
		s.destroy(metrics.OutcomeConnectFailed)
	}
}
