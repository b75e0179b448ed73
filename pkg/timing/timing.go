// Package timing provides per-request phase measurement for the server engine.
package timing

import (
	"fmt"
	"time"
)

// Metrics captures per-request phase durations, the server-side analogue of
// a client's DNS/TCP/TLS/TTFB breakdown, for the phases a connection's job
// state machine actually passes through.
type Metrics struct {
	// Handshake is time spent driving the TLS handshake drive-loop (0 for plain).
	Handshake time.Duration `json:"handshake"`

	// Recv is time spent accumulating request bytes (first completed recv to routable request).
	Recv time.Duration `json:"recv"`

	// Route is time spent in Router.match plus handler execution up to the
	// point a response is finalized.
	Route time.Duration `json:"route"`

	// Send is time spent draining the response Pseudoslice.
	Send time.Duration `json:"send"`

	// TotalTime is the total time from borrow to the connection returning to recv/close.
	TotalTime time.Duration `json:"total_time"`
}

// Timer helps measure per-request phase timings on a Provision.
type Timer struct {
	start time.Time

	handshakeStart time.Time
	handshakeEnd   time.Time
	recvStart      time.Time
	recvEnd        time.Time
	routeStart     time.Time
	routeEnd       time.Time
	sendStart      time.Time
	sendEnd        time.Time
}

// NewTimer creates a new timing measurement session, starting now.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// StartHandshake marks the beginning of the TLS handshake drive-loop.
func (t *Timer) StartHandshake() { t.handshakeStart = time.Now() }

// EndHandshake marks handshake completion.
func (t *Timer) EndHandshake() { t.handshakeEnd = time.Now() }

// StartRecv marks the beginning of request-byte accumulation.
func (t *Timer) StartRecv() { t.recvStart = time.Now() }

// EndRecv marks the point a complete request is ready for routing.
func (t *Timer) EndRecv() { t.recvEnd = time.Now() }

// StartRoute marks the beginning of router dispatch / handler execution.
func (t *Timer) StartRoute() { t.routeStart = time.Now() }

// EndRoute marks the point the response is finalized.
func (t *Timer) EndRoute() { t.routeEnd = time.Now() }

// StartSend marks the beginning of response transmission.
func (t *Timer) StartSend() { t.sendStart = time.Now() }

// EndSend marks transmission completion.
func (t *Timer) EndSend() { t.sendEnd = time.Now() }

// GetMetrics returns the calculated timing metrics.
func (t *Timer) GetMetrics() Metrics {
	m := Metrics{TotalTime: time.Since(t.start)}

	if !t.handshakeStart.IsZero() && !t.handshakeEnd.IsZero() {
		m.Handshake = t.handshakeEnd.Sub(t.handshakeStart)
	}
	if !t.recvStart.IsZero() && !t.recvEnd.IsZero() {
		m.Recv = t.recvEnd.Sub(t.recvStart)
	}
	if !t.routeStart.IsZero() && !t.routeEnd.IsZero() {
		m.Route = t.routeEnd.Sub(t.routeStart)
	}
	if !t.sendStart.IsZero() && !t.sendEnd.IsZero() {
		m.Send = t.sendEnd.Sub(t.sendStart)
	}

	return m
}

// String provides a human-readable representation of the metrics.
func (m Metrics) String() string {
	return fmt.Sprintf("handshake=%v recv=%v route=%v send=%v total=%v",
		m.Handshake, m.Recv, m.Route, m.Send, m.TotalTime)
}
