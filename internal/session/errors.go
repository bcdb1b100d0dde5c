package session

import "errors"

var (
	errPoolExhausted      = errors.New("session: buffer pool exhausted")
	errSessionStartFailed = errors.New("session: failed to arm initial read")
)
