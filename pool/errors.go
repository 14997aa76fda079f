package pool

import "errors"

// ErrIdleExpired closes a connection the sweeper found past its
// keep-alive deadline. It is never surfaced through a request future
// — by construction an Idle connection has no pending request — which
// is why it is not part of the public error taxonomy in reactorhttp.
var ErrIdleExpired = errors.New("pool: idle connection exceeded keep-alive timeout")

// ErrReadTimeout closes a Busy connection the sweeper found past its
// active read/write deadline. The original source uses a single
// constant for both read and write timeouts; ErrWriteTimeout is kept
// as a distinct identity for API completeness per the spec taxonomy,
// but the sweeper only ever raises ErrReadTimeout, since it cannot
// distinguish which half of the exchange stalled.
var ErrReadTimeout = errors.New("pool: active connection exceeded read/write timeout")

// ErrWriteTimeout is reserved for callers (e.g. a Codec) that can
// positively attribute a stall to the write half of an exchange.
var ErrWriteTimeout = errors.New("pool: write exceeded read/write timeout")

// ErrProtocol wraps a malformed response or body-size overflow
// detected while decoding.
var ErrProtocol = errors.New("pool: malformed response")
