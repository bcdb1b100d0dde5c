// Package socks5 implements the wire codec for the RFC 1928 subset this
// proxy speaks: NOAUTH-only method negotiation and CONNECT-only requests
// with IPv4, domain, or IPv6 destination addresses.
//
// Every unpack function follows one convention: a positive return is the
// total number of bytes consumed from the input; a negative return -n means
// n more bytes are required before the frame can be parsed; a zero return
// means the frame cannot be parsed (bad version, or an unknown atype whose
// length cannot be determined), which the caller treats as a framing error.
package socks5

import "encoding/binary"

const (
	Version = 0x05

	MethodNoAuth       = 0x00
	MethodNoAcceptable = 0xFF

	CmdConnect = 0x01

	AtypIPv4   = 0x01
	AtypDomain = 0x03
	AtypIPv6   = 0x04

	RepSuccess             = 0x00
	RepGeneralFailure      = 0x01
	RepNetworkUnreachable  = 0x03
	RepHostUnreachable     = 0x04
	RepConnectionRefused   = 0x05
	RepCommandNotSupported = 0x07
	RepAtypeNotSupported   = 0x08
)

// AuthReqUnpack parses VER(1) NMETHODS(1) METHODS(NMETHODS). On a short
// buffer it reports exactly how many more bytes are needed, whether that's
// the initial 2-byte header or the tail of METHODS once NMETHODS is known.
func AuthReqUnpack(data []byte) (n int, methods []byte) {
	if len(data) < 2 {
		return -(2 - len(data)), nil
	}
	if data[0] != Version {
		return 0, nil
	}
	total := 2 + int(data[1])
	if len(data) < total {
		return -(total - len(data)), nil
	}
	return total, data[2:total]
}

// AuthResPack writes VER(1) METHOD(1) and returns 2.
func AuthResPack(out []byte, method byte) int {
	out[0] = Version
	out[1] = method
	return 2
}

// ReqUnpack parses VER(1) CMD(1) RSV(1) ATYP(1) DST.ADDR DST.PORT(2). addr
// aliases into data for IPv4 (4 bytes), domain (length-prefixed), or IPv6
// (16 bytes); port is decoded from its big-endian wire form into a plain
// number (ResPack encodes it back the same way). A value of n == 0 (with no
// "need more bytes" signal possible, since the input already contains a full
// header) indicates an unrecognized ATYP whose length cannot be determined —
// the frame cannot be parsed further and the caller must treat it as a
// framing error.
func ReqUnpack(data []byte) (n int, cmd, atyp byte, addr []byte, port uint16) {
	if len(data) < 4 {
		return -(4 - len(data)), 0, 0, nil, 0
	}
	if data[0] != Version {
		return 0, 0, 0, nil, 0
	}
	cmd = data[1]
	atyp = data[3]

	var addrLen, headerLen int
	switch atyp {
	case AtypIPv4:
		addrLen = 4
		headerLen = 4
	case AtypIPv6:
		addrLen = 16
		headerLen = 4
	case AtypDomain:
		if len(data) < 5 {
			return -(5 - len(data)), 0, 0, nil, 0
		}
		addrLen = int(data[4])
		headerLen = 5
	default:
		return 0, cmd, atyp, nil, 0
	}

	total := headerLen + addrLen + 2
	if len(data) < total {
		return -(total - len(data)), 0, 0, nil, 0
	}

	addr = data[headerLen : headerLen+addrLen]
	port = binary.BigEndian.Uint16(data[headerLen+addrLen : total])
	return total, cmd, atyp, addr, port
}

// ResPack writes VER(1) REP(1) RSV(1) ATYP(1) BND.ADDR BND.PORT(2) and
// returns the total bytes written. addr must be 4 bytes for AtypIPv4 or 16
// bytes for AtypIPv6; for any other atyp (e.g. echoing back an unsupported
// request's ATYP/addr verbatim in an error reply) addr is copied as-is.
func ResPack(out []byte, rep, atyp byte, addr []byte, port uint16) int {
	out[0] = Version
	out[1] = rep
	out[2] = 0x00
	out[3] = atyp

	n := 4 + copy(out[4:], addr)
	binary.BigEndian.PutUint16(out[n:n+2], port)
	return n + 2
}

// MaxFrameSize bounds the largest request frame this codec can ever need to
// buffer: VER CMD RSV ATYP LEN(1) DOMAIN(255) PORT(2).
const MaxFrameSize = 4 + 1 + 255 + 2
