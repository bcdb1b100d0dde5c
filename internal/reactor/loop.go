// Package reactor is a single-goroutine event loop: one goroutine
// dispatches every completion callback, so handler code never has to
// reason about concurrent access to session state. Readiness itself is
// provided by Go's runtime netpoller — the helper goroutines PollableFD
// spawns block on net.Conn.Read/Write, which park on the netpoller rather
// than an OS thread, and only ever communicate a result back to the loop
// goroutine.
package reactor

// Priority orders callback dispatch within one run of the loop. Higher
// values are drained first (listener accept above the idle-timeout sweep).
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

type job struct {
	fn func()
}

// Loop is the single-threaded dispatcher. All session/server state is
// mutated only from callbacks run through Post, so nothing else needs a
// mutex. Each Priority gets its own queue, so all three are actually
// ordered relative to one another, not just high against the rest.
type Loop struct {
	high   chan job
	normal chan job
	low    chan job
	done   chan struct{}
}

// NewLoop creates a Loop with the given per-priority queue depth.
func NewLoop(queueSize int) *Loop {
	return &Loop{
		high:   make(chan job, queueSize),
		normal: make(chan job, queueSize),
		low:    make(chan job, queueSize),
		done:   make(chan struct{}),
	}
}

// Post schedules fn to run on the loop goroutine. Safe to call from any
// goroutine, including from inside a running callback.
func (l *Loop) Post(p Priority, fn func()) {
	j := job{fn: fn}
	select {
	case <-l.done:
		return
	default:
	}

	var ch chan job
	switch p {
	case PriorityHigh:
		ch = l.high
	case PriorityNormal:
		ch = l.normal
	default:
		ch = l.low
	}

	select {
	case ch <- j:
	case <-l.done:
	}
}

// Run dispatches callbacks until Close is called. It never returns while
// the loop is open, so callers run it in its own goroutine (or as main's
// final blocking call).
func (l *Loop) Run() {
	for {
		select {
		case <-l.done:
			return
		default:
		}

		// Drain everything currently queued at a given priority before
		// looking at the next one down, so high fires before normal
		// fires before low within one dispatch round.
		select {
		case j := <-l.high:
			j.fn()
			continue
		default:
		}

		select {
		case j := <-l.normal:
			j.fn()
			continue
		default:
		}

		select {
		case j := <-l.high:
			j.fn()
		case j := <-l.normal:
			j.fn()
		case j := <-l.low:
			j.fn()
		case <-l.done:
			return
		}
	}
}

// Close stops Run and causes any further Post to be silently dropped.
func (l *Loop) Close() {
	select {
	case <-l.done:
	default:
		close(l.done)
	}
}
