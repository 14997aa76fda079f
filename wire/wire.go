// Package wire is the HTTP/1.1 wire boundary from spec §6: request
// serialization and response parsing are delegated here so the pool
// and dispatcher never touch a byte stream directly. The default Codec
// is implemented with net/http's own (*http.Request).Write and
// http.ReadResponse, exactly as the teacher's RoundTrip does it.
package wire

import (
	"bufio"
	"io"
	"net/http"

	"github.com/kavrenko/reactorhttp/xascii"
)

const connOWS = "\x09\x20"

// Request is the subset of http.Request the core depends on: method,
// absolute URL, headers, and a body stream.
type Request = http.Request

// Response is the subset of http.Response the core depends on: status
// code, headers, and a body stream.
type Response = http.Response

// Codec serializes requests onto a connection's socket and parses
// responses back off of it. Body streaming itself belongs to the
// caller; Codec only owns head framing and the keep-alive-relevant
// Connection header.
type Codec interface {
	EncodeRequest(w io.Writer, req *Request) error
	DecodeResponse(r *bufio.Reader, req *Request) (*Response, error)
}

// DefaultCodec is the teacher's approach: delegate entirely to
// net/http's own request writer and response reader.
type DefaultCodec struct{}

func (DefaultCodec) EncodeRequest(w io.Writer, req *Request) error {
	return req.Write(w)
}

func (DefaultCodec) DecodeResponse(r *bufio.Reader, req *Request) (*Response, error) {
	return http.ReadResponse(r, req)
}

// KeepAliveIntent reports what the Connection header (if any) says
// about keep-alive, the same computation for both request and
// response headers per the teacher's parseHeader.
type KeepAliveIntent struct {
	KeepAlive bool
	Present   bool
}

// ParseConnectionHeader inspects the Connection header values for a
// "keep-alive" token, case-insensitively, honoring the OWS-separated
// comma list grammar of RFC 7230 §6.1. Implementation mirrors the
// teacher's parseHeader in xnet/xhttp/transport.go: zero-allocation
// byte-slice scanning via xascii.
func ParseConnectionHeader(h http.Header) KeepAliveIntent {
	var result KeepAliveIntent

	vs, ok := h["Connection"]
	if !ok || len(vs) == 0 {
		return result
	}
	result.Present = true

	cutset := xascii.UnsafeConstBytes(connOWS)
	keepAlive := xascii.UnsafeConstBytes("keep-alive")

	for _, v := range vs {
		if len(v) == 0 {
			continue
		}

		next := xascii.UnsafeConstBytes(v)
		for {
			var cur []byte
			cur, next = xascii.CutByte(next, ',')
			if xascii.EqualsIgnoreCase(xascii.Trim(cur, cutset), keepAlive) {
				result.KeepAlive = true
				return result
			}
			if len(next) == 0 {
				break
			}
		}
	}

	return result
}
