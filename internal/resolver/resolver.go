// Package resolver implements the asynchronous single-question A-record
// resolver the session state machine uses for SOCKS5 domain destinations.
// It is built directly on the reactor's PollableFD and buffer pool, and
// uses github.com/miekg/dns for wire (de)serialization instead of
// hand-rolled packet bytes.
package resolver

import (
	"errors"
	"net"

	"github.com/miekg/dns"

	"github.com/hevsocks/socks5d/internal/buffer"
	"github.com/hevsocks/socks5d/internal/reactor"
)

// ErrNoAnswer is returned when the response contains zero A records.
var ErrNoAnswer = errors.New("resolver: no A record in response")

// ErrMismatchedID is returned when a response's DNS transaction id doesn't
// match the outstanding query — treated the same as any other failure.
var ErrMismatchedID = errors.New("resolver: mismatched transaction id")

// ErrPoolExhausted is returned when the shared buffer pool has no buffers
// left for the query or response.
var ErrPoolExhausted = errors.New("resolver: buffer pool exhausted")

// Resolver holds a single outstanding query against one configured DNS
// server, reached over a connected UDP socket. A Resolver should live only
// as long as its one query — the Session destroys it synchronously inside
// the query's completion callback.
type Resolver struct {
	pfd  *reactor.PollableFD
	pool *buffer.Pool

	// sendBuf/recvBuf track whichever buffer is currently in flight on pfd,
	// so Destroy can return it to the pool even when the PollableFD cancels
	// the op silently (no callback) instead of running it to completion.
	sendBuf *buffer.Buffer
	recvBuf *buffer.Buffer
}

// New connects (in the UDP sense) to server ("host:port") and wraps the
// socket for async use on loop.
func New(loop *reactor.Loop, pool *buffer.Pool, server string) (*Resolver, error) {
	conn, err := net.Dial("udp4", server)
	if err != nil {
		return nil, err
	}
	return &Resolver{pfd: reactor.New(loop, conn), pool: pool}, nil
}

// QueryAsync sends a type-A/class-IN question for name and delivers the
// first A record's address via cb, or a nil IP with an error on a send or
// receive failure, malformed response, mismatched id, or zero answers. There
// is no timeout: a query that gets no reply stays outstanding until Destroy
// cancels it. Only one query may be outstanding per Resolver.
func (r *Resolver) QueryAsync(name string, priority reactor.Priority, cb func(ip net.IP, err error)) error {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeA)
	msg.RecursionDesired = true

	packed, err := msg.Pack()
	if err != nil {
		return err
	}

	sendBuf, ok := r.pool.Alloc()
	if !ok {
		return ErrPoolExhausted
	}
	sendBuf.Offset = 0
	sendBuf.Length = len(packed)
	copy(sendBuf.Data(), packed)
	r.sendBuf = sendBuf

	wantID := msg.Id

	err = r.pfd.WriteAsync(sendBuf.Data(), sendBuf.Length, priority, func(n int, werr error) {
		r.pool.Free(r.sendBuf)
		r.sendBuf = nil
		if werr != nil || n <= 0 {
			cb(nil, werr)
			return
		}

		recvBuf, ok := r.pool.Alloc()
		if !ok {
			cb(nil, ErrPoolExhausted)
			return
		}
		recvBuf.Offset = 0
		recvBuf.Length = recvBuf.Cap()
		r.recvBuf = recvBuf

		rerr := r.pfd.ReadAsync(recvBuf.Data(), recvBuf.Length, priority, func(n int, rerr error) {
			r.pool.Free(r.recvBuf)
			r.recvBuf = nil
			if rerr != nil || n <= 0 {
				cb(nil, rerr)
				return
			}

			resp := new(dns.Msg)
			if uerr := resp.Unpack(recvBuf.Data()[:n]); uerr != nil {
				cb(nil, uerr)
				return
			}
			if resp.Id != wantID {
				cb(nil, ErrMismatchedID)
				return
			}

			for _, rr := range resp.Answer {
				if a, ok := rr.(*dns.A); ok {
					cb(a.A.To4(), nil)
					return
				}
			}
			cb(nil, ErrNoAnswer)
		})
		if rerr != nil {
			r.pool.Free(r.recvBuf)
			r.recvBuf = nil
			cb(nil, rerr)
		}
	})
	if err != nil {
		r.pool.Free(r.sendBuf)
		r.sendBuf = nil
		return err
	}
	return nil
}

// Destroy cancels any outstanding query silently and releases the socket.
// Whichever buffer was in flight (the query's send buffer, or the
// response's receive buffer once the query has been sent) is returned to
// the pool here, since the cancelled op's callback never runs to free it.
func (r *Resolver) Destroy() {
	r.pfd.Destroy()
	if r.sendBuf != nil {
		r.pool.Free(r.sendBuf)
		r.sendBuf = nil
	}
	if r.recvBuf != nil {
		r.pool.Free(r.recvBuf)
		r.recvBuf = nil
	}
}
