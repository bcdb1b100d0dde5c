// Package idutil hands out small stable identifiers for the Server's
// session arena, so a Session only needs to carry its own id rather than a
// pointer back into the Server.
package idutil

import "sync/atomic"

// Generator produces monotonically increasing ids, safe for concurrent use.
type Generator struct {
	next atomic.Uint64
}

// Next returns the next id, starting at 1.
func (g *Generator) Next() uint64 {
	return g.next.Add(1)
}
