package session

import "github.com/hevsocks/socks5d/internal/metrics"

// The four relay handlers below compose two independent half-duplex
// pipelines: client-to-remote over buf0, remote-to-client over buf1.
// Either half's non-positive read ends the whole session; a short write is
// re-issued from the advanced offset rather than treated as an error.

func (s *Session) onReadClientData(n int, err error) {
	s.clearIdle()
	if n <= 0 || err != nil {
		s.destroy(metrics.OutcomeRelayClosed)
		return
	}

	s.buf0.Offset = 0
	s.buf0.Length = n
	if !s.writeRemote(s.buf0, n, s.onWriteRemoteData) {
		s.destroy(metrics.OutcomeRelayClosed)
	}
}

func (s *Session) onWriteRemoteData(n int, err error) {
	s.clearIdle()
	if n <= 0 || err != nil {
		s.destroy(metrics.OutcomeRelayClosed)
		return
	}

	remaining := s.buf0.Length - n
	if remaining > 0 {
		s.buf0.Offset += n
		s.buf0.Length = remaining
		if !s.writeRemote(s.buf0, remaining, s.onWriteRemoteData) {
			s.destroy(metrics.OutcomeRelayClosed)
		}
		return
	}

	s.buf0.Offset = 0
	s.buf0.Length = s.buf0.Cap()
	if !s.readClient(s.buf0, s.buf0.Cap(), s.onReadClientData) {
		s.destroy(metrics.OutcomeRelayClosed)
	}
}

func (s *Session) onReadRemoteData(n int, err error) {
	s.clearIdle()
	if n <= 0 || err != nil {
		s.destroy(metrics.OutcomeRelayClosed)
		return
	}

	s.buf1.Offset = 0
	s.buf1.Length = n
	if !s.writeClient(s.buf1, n, s.onWriteClientData) {
		s.destroy(metrics.OutcomeRelayClosed)
	}
}

func (s *Session) onWriteClientData(n int, err error) {
	s.clearIdle()
	if n <= 0 || err != nil {
		s.destroy(metrics.OutcomeRelayClosed)
		return
	}

	remaining := s.buf1.Length - n
	if remaining > 0 {
		s.buf1.Offset += n
		s.buf1.Length = remaining
		if !s.writeClient(s.buf1, remaining, s.onWriteClientData) {
			s.destroy(metrics.OutcomeRelayClosed)
		}
		return
	}

	s.buf1.Offset = 0
	s.buf1.Length = s.buf1.Cap()
	if !s.readRemote(s.buf1, s.buf1.Cap(), s.onReadRemoteData) {
		s.destroy(metrics.OutcomeRelayClosed)
	}
}
