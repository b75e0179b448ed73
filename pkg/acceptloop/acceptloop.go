// Package acceptloop implements admission control over a single
// outstanding accept, and per-socket setup (Nagle disable, non-blocking
// mode, entry into handshake or plain recv).
package acceptloop

import (
	"net"

	"github.com/hashicorp/go-hclog"

	"github.com/WhileEndless/go-rawserver/pkg/connsm"
	"github.com/WhileEndless/go-rawserver/pkg/ioruntime"
	"github.com/WhileEndless/go-rawserver/pkg/pool"
	"github.com/WhileEndless/go-rawserver/pkg/tlsengine"
	"github.com/WhileEndless/go-rawserver/pkg/tlsslot"
)

// Loop owns admission control for one worker's listening socket.
type Loop struct {
	RT   *ioruntime.Runtime
	Pool *pool.Pool
	TLS  *tlsslot.Slots
	SM   *connsm.SM
	Log  hclog.Logger

	// TLSConfigFactory, when non-nil, is called once per accepted
	// connection to produce a fresh server engine; a nil factory means
	// plain-text connections, entering recv directly instead of a
	// handshake.
	TLSConfigFactory func() *tlsengine.Engine

	accepted int // monotonically increasing task index, used as the borrow hint
}

// Start arms the initial accept and marks it queued.
func (l *Loop) Start() {
	l.RT.ArmAccept()
	l.RT.SetAcceptQueued(true)
}

// OnAccept handles an OpAccept completion. It is the caller's
// responsibility to route OpAccept completions here and everything else to
// SM.Handle.
func (l *Loop) OnAccept(conn net.Conn, err error) {
	l.RT.SetAcceptQueued(false)

	if err != nil {
		// A closed listener (server shutdown) surfaces here too; re-arming
		// would just spin on the same error forever, so a failed accept
		// simply stops this worker from taking new connections. Existing
		// connections already owned by the pool keep running to completion.
		l.Log.Warn("accept failed, no longer accepting new connections", "error", err)
		return
	}
	if conn == nil {
		l.Log.Warn("accept returned nil connection with no error")
		l.rearmIfHeadroom()
		return
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}

	prov, index, ok := l.Pool.Borrow(l.accepted)
	l.accepted++
	if !ok {
		// The pool must not be full at accept time: admission control
		// (rearmIfHeadroom) should have deferred re-arming before this could
		// happen, so reaching here is a programming error, not backpressure.
		l.Log.Error("pool full at accept time; admission control invariant violated")
		conn.Close()
		l.rearmIfHeadroom()
		return
	}

	useTLS := l.TLSConfigFactory != nil
	prov.BeginConnection(conn, useTLS)

	if useTLS {
		engine := l.TLSConfigFactory()
		l.TLS.Set(index, engine)
		l.RT.ArmRecv(index, conn, prov.Buffer)
	} else {
		l.RT.ArmRecv(index, conn, prov.Buffer)
	}

	l.rearmIfHeadroom()
}

// OnClose re-arms the accept if it is not already outstanding. Wire this as
// SM.OnConnectionClosed.
func (l *Loop) OnClose() {
	if !l.RT.AcceptQueued() {
		l.RT.ArmAccept()
		l.RT.SetAcceptQueued(true)
	}
}

// rearmIfHeadroom re-arms the accept immediately only if there is still
// headroom (>= 2 free slots); otherwise defer until the next close.
func (l *Loop) rearmIfHeadroom() {
	if l.RT.AcceptQueued() {
		return
	}
	if l.Pool.Clean() >= 2 {
		l.RT.ArmAccept()
		l.RT.SetAcceptQueued(true)
	}
}
