package reactor

import "time"

// TimeoutSource posts cb onto loop at the given priority once per interval.
// The Server uses exactly one of these for its idle sweeper.
type TimeoutSource struct {
	ticker *time.Ticker
	stop   chan struct{}
}

// NewTimeoutSource starts firing immediately; the first callback lands
// after one full interval.
func NewTimeoutSource(loop *Loop, interval time.Duration, priority Priority, cb func()) *TimeoutSource {
	ts := &TimeoutSource{
		ticker: time.NewTicker(interval),
		stop:   make(chan struct{}),
	}

	go func() {
		for {
			select {
			case <-ts.ticker.C:
				loop.Post(priority, cb)
			case <-ts.stop:
				return
			}
		}
	}()

	return ts
}

// Stop ends the periodic posts. Safe to call once; a second call panics,
// same as a double-close of a channel.
func (ts *TimeoutSource) Stop() {
	ts.ticker.Stop()
	close(ts.stop)
}
