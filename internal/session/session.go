// Package session implements the per-connection SOCKS5 state machine:
// handshake, destination resolution, upstream connect, and bidirectional
// relay, all driven by callbacks dispatched from a single shared
// reactor.Loop.
package session

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/hevsocks/socks5d/internal/buffer"
	"github.com/hevsocks/socks5d/internal/metrics"
	"github.com/hevsocks/socks5d/internal/reactor"
	"github.com/hevsocks/socks5d/internal/resolver"
)

// state is the session's position in its handshake/connect/relay lifecycle.
type state int

const (
	stateReadAuthReq state = iota
	stateWriteAuthRes
	stateReadReq
	stateResolving
	stateConnecting
	stateWriteRes
	stateRelaying
	stateClosed
)

// CloseNotify is invoked exactly once when a Session tears itself down,
// reporting why so the Server can both drop it from its session set and
// record the outcome in metrics.
type CloseNotify func(s *Session, outcome metrics.Outcome)

// Session is the per-client state machine. All of its fields are touched
// only from callbacks run on loop's goroutine, so none of them need a lock
// except idleStreak (read from the Server's sweeper, which runs on the same
// loop — but kept atomic so the invariant holds even if that changes).
type Session struct {
	ID uint64

	loop *reactor.Loop
	pool *buffer.Pool
	mx   *metrics.Metrics

	dnsServer string
	onClose   CloseNotify

	clientConn net.Conn
	clientPFD  *reactor.PollableFD

	remoteConn net.Conn
	remotePFD  *reactor.PollableFD

	buf0 *buffer.Buffer
	buf1 *buffer.Buffer

	resolver *resolver.Resolver

	connectCancel func()
	connectGen    uint64

	dstIP   net.IP
	dstPort uint16

	state         state
	closeAfterRes bool

	idleStreak atomic.Int32

	destroyOnce sync.Once
}

// New accepts ownership of clientConn and starts the handshake by issuing
// the first client read. It returns an error if the initial buffer
// allocation fails or the first read cannot be armed; clientConn's pollable
// wrapper has then already been destroyed, and no close notification is sent.
func New(loop *reactor.Loop, pool *buffer.Pool, mx *metrics.Metrics, clientConn net.Conn, dnsServer string, onClose CloseNotify, id uint64) (*Session, error) {
	s := &Session{
		ID:         id,
		loop:       loop,
		pool:       pool,
		mx:         mx,
		dnsServer:  dnsServer,
		onClose:    onClose,
		clientConn: clientConn,
		clientPFD:  reactor.New(loop, clientConn),
		state:      stateReadAuthReq,
	}

	buf, ok := pool.Alloc()
	if !ok {
		s.clientPFD.Destroy()
		return nil, errPoolExhausted
	}
	s.buf0 = buf

	if !s.armReadAuthReq(authHeaderSize) {
		s.pool.Free(s.buf0)
		s.buf0 = nil
		s.clientPFD.Destroy()
		return nil, errSessionStartFailed
	}

	s.mx.SessionStarted()
	return s, nil
}

// SetIdle is called by the Server's sweeper once per tick on every session
// it does not evict, extending its idle streak by one. Any forward progress
// in between resets the streak to zero.
func (s *Session) SetIdle() {
	s.idleStreak.Add(1)
}

// IsIdle reports whether the session has made no progress since the last
// sweep tick.
func (s *Session) IsIdle() bool {
	return s.idleStreak.Load() > 0
}

// IdleStreak reports how many consecutive sweep ticks have found this
// session idle. The Server compares this against its configured threshold
// (derived from idle_timeout/sweep_interval) to decide eviction.
func (s *Session) IdleStreak() int32 {
	return s.idleStreak.Load()
}

func (s *Session) clearIdle() {
	s.idleStreak.Store(0)
}

// destroy tears the session down exactly once: closes both sockets,
// returns any held buffers to the pool, destroys the pollable wrappers and
// any transient resolver or pending connect, then notifies the owner.
func (s *Session) destroy(outcome metrics.Outcome) {
	s.destroyOnce.Do(func() {
		s.state = stateClosed

		if s.connectCancel != nil {
			s.connectCancel()
			s.connectCancel = nil
		}
		if s.resolver != nil {
			s.resolver.Destroy()
			s.resolver = nil
		}

		s.clientPFD.Destroy()
		if s.remotePFD != nil {
			s.remotePFD.Destroy()
		} else if s.remoteConn != nil {
			s.remoteConn.Close()
		}

		if s.buf0 != nil {
			s.pool.Free(s.buf0)
			s.buf0 = nil
		}
		if s.buf1 != nil {
			s.pool.Free(s.buf1)
			s.buf1 = nil
		}

		s.mx.SessionEnded(outcome)

		if s.onClose != nil {
			s.onClose(s, outcome)
		}
	})
}

// Close tears the session down from outside the handshake/relay chain,
// e.g. the Server evicting an idle session.
func (s *Session) Close() {
	s.destroy(metrics.OutcomeIdleEvicted)
}
