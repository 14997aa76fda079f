// Package inspector defines the synchronous, side-effect-only observer
// hooks emitted at each lifecycle transition, and the Leaf/Forwarding
// chaining model from the Design Notes: a tagged variant walked by
// Lookup instead of relying on dynamic type assertions scattered across
// call sites.
package inspector

import "net"

// Inspector receives synchronous notifications at each lifecycle
// transition of the dispatcher and its connections. Implementations
// must not block the reactor goroutine.
type Inspector interface {
	OnRequest(requestID string)
	OnResolve(requestID, host string, ips []net.IP)
	OnResolveError(requestID, host string, err error)
	OnConnect(requestID string, peer string)
	OnConnectError(requestID, peer string, err error)
	OnHTTPResponse(connID string, statusCode int)
	// OnHTTPError is also emitted for errors on an Idle connection with
	// no pending request (wasIdle == true); those are not response
	// failures and must not be counted as such by metrics-oriented
	// implementations.
	OnHTTPError(connID string, wasIdle bool, err error)
}

// Chain combines a leaf implementation with an optional next Inspector
// that is invoked for every hook after the leaf's own logic runs. A nil
// Next makes Chain behave exactly like a bare Leaf.
//
// This is the tagged Leaf/Forwarding variant from the Design Notes:
// Lookup walks the chain so callers never need a type switch.
type Chain struct {
	Leaf Inspector
	Next Inspector
}

func (c *Chain) OnRequest(requestID string) {
	c.Leaf.OnRequest(requestID)
	if c.Next != nil {
		c.Next.OnRequest(requestID)
	}
}

func (c *Chain) OnResolve(requestID, host string, ips []net.IP) {
	c.Leaf.OnResolve(requestID, host, ips)
	if c.Next != nil {
		c.Next.OnResolve(requestID, host, ips)
	}
}

func (c *Chain) OnResolveError(requestID, host string, err error) {
	c.Leaf.OnResolveError(requestID, host, err)
	if c.Next != nil {
		c.Next.OnResolveError(requestID, host, err)
	}
}

func (c *Chain) OnConnect(requestID, peer string) {
	c.Leaf.OnConnect(requestID, peer)
	if c.Next != nil {
		c.Next.OnConnect(requestID, peer)
	}
}

func (c *Chain) OnConnectError(requestID, peer string, err error) {
	c.Leaf.OnConnectError(requestID, peer, err)
	if c.Next != nil {
		c.Next.OnConnectError(requestID, peer, err)
	}
}

func (c *Chain) OnHTTPResponse(connID string, statusCode int) {
	c.Leaf.OnHTTPResponse(connID, statusCode)
	if c.Next != nil {
		c.Next.OnHTTPResponse(connID, statusCode)
	}
}

func (c *Chain) OnHTTPError(connID string, wasIdle bool, err error) {
	c.Leaf.OnHTTPError(connID, wasIdle, err)
	if c.Next != nil {
		c.Next.OnHTTPError(connID, wasIdle, err)
	}
}

// Lookup walks an Inspector chain looking for a value assignable to T.
// It mirrors lookup_of_type from the Design Notes: a Chain checks its
// Leaf first, then recurses into Next.
func Lookup[T Inspector](i Inspector) (T, bool) {
	var zero T

	for i != nil {
		c, ok := i.(*Chain)
		if !ok {
			if v, ok := i.(T); ok {
				return v, true
			}
			return zero, false
		}

		if v, ok := c.Leaf.(T); ok {
			return v, true
		}
		i = c.Next
	}

	return zero, false
}

// NoOp is an Inspector that does nothing; used as the default when the
// caller supplies no inspector.
type NoOp struct{}

func (NoOp) OnRequest(string)                        {}
func (NoOp) OnResolve(string, string, []net.IP)       {}
func (NoOp) OnResolveError(string, string, error)     {}
func (NoOp) OnConnect(string, string)                 {}
func (NoOp) OnConnectError(string, string, error)     {}
func (NoOp) OnHTTPResponse(string, int)               {}
func (NoOp) OnHTTPError(string, bool, error)          {}
