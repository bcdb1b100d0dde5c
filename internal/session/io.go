package session

import (
	"github.com/hevsocks/socks5d/internal/buffer"
	"github.com/hevsocks/socks5d/internal/reactor"
)

const ioPriority = reactor.PriorityNormal

func (s *Session) readClient(buf *buffer.Buffer, n int, cb reactor.ReadyCallback) bool {
	return s.clientPFD.ReadAsync(buf.Data()[buf.Offset:], n, ioPriority, cb) == nil
}

func (s *Session) writeClient(buf *buffer.Buffer, n int, cb reactor.ReadyCallback) bool {
	return s.clientPFD.WriteAsync(buf.Data()[buf.Offset:], n, ioPriority, cb) == nil
}

func (s *Session) readRemote(buf *buffer.Buffer, n int, cb reactor.ReadyCallback) bool {
	return s.remotePFD.ReadAsync(buf.Data()[buf.Offset:], n, ioPriority, cb) == nil
}

func (s *Session) writeRemote(buf *buffer.Buffer, n int, cb reactor.ReadyCallback) bool {
	return s.remotePFD.WriteAsync(buf.Data()[buf.Offset:], n, ioPriority, cb) == nil
}
