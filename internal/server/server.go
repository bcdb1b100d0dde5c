// Package server owns the listening socket, the live-session arena, and the
// idle-eviction sweep.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/hevsocks/socks5d/internal/buffer"
	"github.com/hevsocks/socks5d/internal/idutil"
	"github.com/hevsocks/socks5d/internal/metrics"
	"github.com/hevsocks/socks5d/internal/reactor"
	"github.com/hevsocks/socks5d/internal/session"
	"github.com/hevsocks/socks5d/internal/sockopt"
)

// Server accepts SOCKS5 clients on one listening socket, running every
// session against a single shared reactor.Loop.
type Server struct {
	loop      *reactor.Loop
	pool      *buffer.Pool
	mx        *metrics.Metrics
	ln        net.Listener
	dnsServer string
	sweep     *reactor.TimeoutSource
	ids       idutil.Generator

	idleThreshold int32

	sessions map[uint64]*session.Session
}

// Listen binds addr:port with the same listen-socket tuning
// (SO_REUSEADDR, etc.) applied to upstream connections.
func Listen(addr string, port int) (net.Listener, error) {
	lc := net.ListenConfig{Control: sockopt.Control}
	return lc.Listen(context.Background(), "tcp4", fmt.Sprintf("%s:%d", addr, port))
}

// New wires up a Server around an already-listening socket. It begins
// accepting immediately; the idle sweep starts ticking at sweepInterval,
// evicting a session once it has gone consecutively idle for at least
// idleTimeout (rounded up to a whole number of sweep ticks, at least one).
func New(loop *reactor.Loop, pool *buffer.Pool, mx *metrics.Metrics, ln net.Listener, dnsServer string, idleTimeout, sweepInterval time.Duration) *Server {
	srv := &Server{
		loop:          loop,
		pool:          pool,
		mx:            mx,
		ln:            ln,
		dnsServer:     dnsServer,
		idleThreshold: idleTicks(idleTimeout, sweepInterval),
		sessions:      make(map[uint64]*session.Session),
	}

	srv.sweep = reactor.NewTimeoutSource(loop, sweepInterval, reactor.PriorityLow, srv.onSweep)

	go srv.acceptLoop()

	return srv
}

// acceptLoop runs on its own goroutine (Accept blocks), but every new
// connection is handed to the session arena via loop.Post at high
// priority — above the idle sweep — so a burst of new clients is always
// serviced before an eviction pass.
func (srv *Server) acceptLoop() {
	for {
		conn, err := srv.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("[server] accept error: %v", err)
			continue
		}
		srv.loop.Post(reactor.PriorityHigh, func() { srv.onAccept(conn) })
	}
}

func (srv *Server) onAccept(conn net.Conn) {
	id := srv.ids.Next()
	sess, err := session.New(srv.loop, srv.pool, srv.mx, conn, srv.dnsServer, srv.onSessionClosed, id)
	if err != nil {
		log.Printf("[server] session %d: failed to start: %v", id, err)
		conn.Close()
		return
	}
	srv.sessions[id] = sess
	log.Printf("[server] session %d accepted from %s", id, conn.RemoteAddr())
}

func (srv *Server) onSessionClosed(sess *session.Session, outcome metrics.Outcome) {
	delete(srv.sessions, sess.ID)
	log.Printf("[server] session %d closed: %s", sess.ID, outcome)
}

// onSweep evicts a session whose idle streak has already reached the
// configured threshold; otherwise its streak is extended by one tick. Runs
// on the loop goroutine, same as every session callback, so no session
// state needs a lock beyond the atomic idle counter.
func (srv *Server) onSweep() {
	for id, sess := range srv.sessions {
		if sess.IdleStreak() >= srv.idleThreshold {
			sess.Close()
			delete(srv.sessions, id)
			continue
		}
		sess.SetIdle()
	}
}

// idleTicks converts an idle_timeout duration into a whole number of
// sweep_interval ticks a session must sit idle through before eviction,
// rounding up and never returning less than one tick.
func idleTicks(idleTimeout, sweepInterval time.Duration) int32 {
	if sweepInterval <= 0 || idleTimeout <= sweepInterval {
		return 1
	}
	ticks := (idleTimeout + sweepInterval - 1) / sweepInterval
	if ticks < 1 {
		ticks = 1
	}
	return int32(ticks)
}

// Count reports the number of live sessions.
func (srv *Server) Count() int {
	return len(srv.sessions)
}

// Close stops the sweep, closes the listen socket (ending acceptLoop), and
// tears down every live session. The teardown itself runs on the loop
// goroutine — the same invariant every other session mutation obeys — so
// Close blocks until it has run there.
func (srv *Server) Close() error {
	srv.sweep.Stop()
	lnErr := srv.ln.Close()

	done := make(chan struct{})
	srv.loop.Post(reactor.PriorityHigh, func() {
		for id, sess := range srv.sessions {
			sess.Close()
			delete(srv.sessions, id)
		}
		close(done)
	})
	<-done

	return lnErr
}
