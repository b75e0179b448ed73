package acceptloop

import (
	"net"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/WhileEndless/go-rawserver/pkg/connsm"
	"github.com/WhileEndless/go-rawserver/pkg/ioruntime"
	"github.com/WhileEndless/go-rawserver/pkg/pool"
	"github.com/WhileEndless/go-rawserver/pkg/provision"
	"github.com/WhileEndless/go-rawserver/pkg/router"
	"github.com/WhileEndless/go-rawserver/pkg/tlsslot"
)

func newTestLoop(t *testing.T, capacity int) (*Loop, net.Listener) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	rt := ioruntime.New(ln, 16)
	cfg := provision.Config{SocketBufferSize: 4096, RecvBufferRetain: 256, ArenaRetain: 1024, RequestMax: 8192}
	p := pool.New(capacity, cfg)
	sm := newTestSM(rt, p)
	return &Loop{
		RT:   rt,
		Pool: p,
		TLS:  tlsslot.New(capacity),
		SM:   sm,
		Log:  hclog.NewNullLogger(),
	}, ln
}

// newTestSM builds a minimal SM for the loop to reference; acceptloop never
// calls into it directly during accept handling.
func newTestSM(rt *ioruntime.Runtime, p *pool.Pool) *connsm.SM {
	return &connsm.SM{RT: rt, Pool: p, TLS: tlsslot.New(p.Capacity()), Router: router.New(), Log: hclog.NewNullLogger()}
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	c, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return c
}

func TestStartArmsAcceptAndMarksQueued(t *testing.T) {
	loop, ln := newTestLoop(t, 4)
	defer ln.Close()
	defer loop.RT.Close()

	loop.Start()
	if !loop.RT.AcceptQueued() {
		t.Fatalf("expected accept_queued after Start")
	}
}

func TestOnAcceptBorrowsAndRearmsWithHeadroom(t *testing.T) {
	loop, ln := newTestLoop(t, 4)
	defer ln.Close()
	defer loop.RT.Close()

	loop.Start()
	client := dial(t, ln.Addr().String())
	defer client.Close()

	comp := loop.RT.Next()
	if comp.Op != ioruntime.OpAccept {
		t.Fatalf("comp = %+v", comp)
	}
	loop.OnAccept(comp.Conn, comp.Err)

	if loop.Pool.Stats().Active != 1 {
		t.Fatalf("expected 1 active provision, got %d", loop.Pool.Stats().Active)
	}
	// capacity 4, 1 active -> 3 free >= 2, so accept should have re-armed.
	if !loop.RT.AcceptQueued() {
		t.Fatalf("expected accept re-armed with headroom")
	}
}

func TestOnAcceptDefersRearmWithoutHeadroom(t *testing.T) {
	loop, ln := newTestLoop(t, 2)
	defer ln.Close()
	defer loop.RT.Close()

	loop.Start()
	client := dial(t, ln.Addr().String())
	defer client.Close()

	comp := loop.RT.Next()
	loop.OnAccept(comp.Conn, comp.Err)

	// capacity 2, 1 active -> 1 free < 2, so no re-arm should have happened.
	if loop.RT.AcceptQueued() {
		t.Fatalf("expected accept deferred without headroom")
	}
}

func TestOnCloseRearmsWhenNotQueued(t *testing.T) {
	loop, ln := newTestLoop(t, 2)
	defer ln.Close()
	defer loop.RT.Close()

	loop.RT.SetAcceptQueued(false)
	loop.OnClose()
	if !loop.RT.AcceptQueued() {
		t.Fatalf("expected OnClose to re-arm accept")
	}
}

func TestOnCloseNoopWhenAlreadyQueued(t *testing.T) {
	loop, ln := newTestLoop(t, 2)
	defer ln.Close()
	defer loop.RT.Close()

	loop.Start()
	loop.OnClose() // should not panic or double-arm
	if !loop.RT.AcceptQueued() {
		t.Fatalf("expected accept_queued to remain true")
	}
}
