package session

import (
	"net"
	"strconv"

	"github.com/hevsocks/socks5d/internal/metrics"
	"github.com/hevsocks/socks5d/internal/socks5"
)

const authHeaderSize = 2

// armReadAuthReq issues a client read for exactly need more bytes of the
// auth-negotiation frame, continuing from buf0's current offset.
func (s *Session) armReadAuthReq(need int) bool {
	s.buf0.Length = need
	return s.readClient(s.buf0, need, s.onReadAuthReqDone)
}

func (s *Session) onReadAuthReqDone(n int, err error) {
	s.clearIdle()
	if n <= 0 || err != nil {
		s.destroy(metrics.OutcomeHandshakeFailed)
		return
	}

	s.buf0.Offset += n
	total, methods := socks5.AuthReqUnpack(s.buf0.Data()[:s.buf0.Offset])
	if total < 0 {
		if !s.armReadAuthReq(-total) {
			s.destroy(metrics.OutcomeHandshakeFailed)
		}
		return
	}
	if total == 0 {
		s.destroy(metrics.OutcomeHandshakeFailed)
		return
	}

	hasNoAuth := false
	for _, m := range methods {
		if m == socks5.MethodNoAuth {
			hasNoAuth = true
			break
		}
	}
	if !hasNoAuth {
		// No acceptable method: close without replying.
		s.destroy(metrics.OutcomeHandshakeFailed)
		return
	}

	s.buf0.Offset = 0
	n2 := socks5.AuthResPack(s.buf0.Data(), socks5.MethodNoAuth)
	s.buf0.Length = n2
	s.state = stateWriteAuthRes
	if !s.writeClient(s.buf0, n2, s.onWriteAuthResDone) {
		s.destroy(metrics.OutcomeHandshakeFailed)
	}
}

func (s *Session) onWriteAuthResDone(n int, err error) {
	s.clearIdle()
	if n <= 0 || err != nil {
		s.destroy(metrics.OutcomeHandshakeFailed)
		return
	}

	remaining := s.buf0.Length - n
	if remaining > 0 {
		s.buf0.Offset += n
		s.buf0.Length = remaining
		if !s.writeClient(s.buf0, remaining, s.onWriteAuthResDone) {
			s.destroy(metrics.OutcomeHandshakeFailed)
		}
		return
	}

	s.buf0.Offset = 0
	s.state = stateReadReq
	if !s.armReadReq(4) {
		s.destroy(metrics.OutcomeHandshakeFailed)
	}
}

func (s *Session) armReadReq(need int) bool {
	s.buf0.Length = need
	return s.readClient(s.buf0, need, s.onReadReqDone)
}

func (s *Session) onReadReqDone(n int, err error) {
	s.clearIdle()
	if n <= 0 || err != nil {
		s.destroy(metrics.OutcomeHandshakeFailed)
		return
	}

	s.buf0.Offset += n
	total, cmd, atyp, addr, port := socks5.ReqUnpack(s.buf0.Data()[:s.buf0.Offset])
	if total < 0 {
		if !s.armReadReq(-total) {
			s.destroy(metrics.OutcomeHandshakeFailed)
		}
		return
	}
	if total == 0 {
		s.destroy(metrics.OutcomeHandshakeFailed)
		return
	}

	if cmd != socks5.CmdConnect {
		s.sendTypedFailure(socks5.RepCommandNotSupported, atyp, addr, port)
		return
	}

	switch atyp {
	case socks5.AtypIPv4:
		ip := make(net.IP, 4)
		copy(ip, addr)
		s.releaseBuf0()
		s.dstIP = ip
		s.dstPort = port
		s.beginConnect(net.JoinHostPort(ip.String(), strconv.Itoa(int(port))))
	case socks5.AtypDomain:
		domain := string(addr)
		s.dstPort = port
		s.releaseBuf0()
		s.beginResolve(domain)
	default:
		// ATYP_IPv6 or anything else whose size we could determine: the
		// wire encoding is understood but connect/listen is IPv4-only,
		// so it is reported as unsupported and the session closes.
		s.sendTypedFailure(socks5.RepAtypeNotSupported, atyp, addr, port)
	}
}

func (s *Session) releaseBuf0() {
	if s.buf0 != nil {
		s.pool.Free(s.buf0)
		s.buf0 = nil
	}
}

// sendTypedFailure echoes the request's ATYP/addr/port back in a REP-coded
// reply, then closes once it's written — used for both unsupported ATYP and
// unsupported CMD.
func (s *Session) sendTypedFailure(rep, atyp byte, addr []byte, port uint16) {
	n := socks5.ResPack(s.buf0.Data(), rep, atyp, addr, port)
	s.buf0.Offset = 0
	s.buf0.Length = n
	s.closeAfterRes = true
	s.state = stateWriteRes
	if !s.writeClient(s.buf0, n, s.onWriteResDone) {
		s.destroy(metrics.OutcomeHandshakeFailed)
	}
}

func (s *Session) onWriteResDone(n int, err error) {
	s.clearIdle()
	if n <= 0 || err != nil {
		s.destroy(metrics.OutcomeHandshakeFailed)
		return
	}

	remaining := s.buf0.Length - n
	if remaining > 0 {
		s.buf0.Offset += n
		s.buf0.Length = remaining
		if !s.writeClient(s.buf0, remaining, s.onWriteResDone) {
			s.destroy(metrics.OutcomeHandshakeFailed)
		}
		return
	}

	if s.closeAfterRes {
		s.destroy(metrics.OutcomeHandshakeFailed)
		return
	}

	s.beginRelay()
}

func (s *Session) beginRelay() {
	s.buf0.Offset = 0
	s.buf0.Length = s.buf0.Cap()
	if !s.readClient(s.buf0, s.buf0.Cap(), s.onReadClientData) {
		s.destroy(metrics.OutcomeRelayClosed)
		return
	}

	buf1, ok := s.pool.Alloc()
	if !ok {
		s.mx.BufferPoolExhausted()
		s.destroy(metrics.OutcomeRelayClosed)
		return
	}
	s.buf1 = buf1
	s.buf1.Offset = 0
	s.buf1.Length = s.buf1.Cap()
	if !s.readRemote(s.buf1, s.buf1.Cap(), s.onReadRemoteData) {
		s.destroy(metrics.OutcomeRelayClosed)
		return
	}

	s.state = stateRelaying
}
