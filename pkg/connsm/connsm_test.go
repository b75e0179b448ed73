package connsm

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/WhileEndless/go-rawserver/pkg/ioruntime"
	"github.com/WhileEndless/go-rawserver/pkg/pool"
	"github.com/WhileEndless/go-rawserver/pkg/provision"
	"github.com/WhileEndless/go-rawserver/pkg/router"
	"github.com/WhileEndless/go-rawserver/pkg/tlsslot"
)

const testSocketBuffer = 64

type harness struct {
	t      *testing.T
	ln     net.Listener
	rt     *ioruntime.Runtime
	pool   *pool.Pool
	sm     *SM
	server net.Conn
	client net.Conn
	index  int
}

func newHarness(t *testing.T, rtr *router.Router) *harness {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	rt := ioruntime.New(ln, 16)

	cfg := provision.Config{
		SocketBufferSize: testSocketBuffer,
		RecvBufferRetain: 128,
		ArenaRetain:      512,
		RequestMax:       256,
		CapturesMax:      8,
		QueriesMax:       8,
	}
	p := pool.New(4, cfg)
	tlsSlots := tlsslot.New(4)

	sm := &SM{
		RT:     rt,
		Pool:   p,
		TLS:    tlsSlots,
		Router: rtr,
		Limits: Limits{
			SocketBufferSize:  testSocketBuffer,
			RequestMax:        256,
			HeaderMax:         32,
			URIMax:            2048,
			CapturesMax:       8,
			QueriesMax:        8,
			HandshakeCycleMax: 50,
		},
		Log: hclog.NewNullLogger(),
	}

	rt.ArmAccept()
	clientDone := make(chan net.Conn, 1)
	go func() {
		c, err := net.DialTimeout("tcp", ln.Addr().String(), 2*time.Second)
		if err != nil {
			t.Errorf("dial: %v", err)
		}
		clientDone <- c
	}()

	comp := rt.Next()
	if comp.Op != ioruntime.OpAccept || comp.Err != nil {
		t.Fatalf("accept completion = %+v", comp)
	}
	client := <-clientDone

	prov, index, ok := p.Borrow(-1)
	if !ok {
		t.Fatalf("borrow failed")
	}
	prov.BeginConnection(comp.Conn, false)
	rt.ArmRecv(index, prov.Socket, prov.Buffer)

	return &harness{t: t, ln: ln, rt: rt, pool: p, sm: sm, server: comp.Conn, client: client, index: index}
}

func (h *harness) close() {
	h.client.Close()
	h.server.Close()
	h.rt.Close()
}

// pump drives completions until the connection returns to a fresh recv
// (response fully sent) or is closed, returning which happened.
func (h *harness) pump() (backToRecv bool) {
	h.t.Helper()
	for i := 0; i < 1000; i++ {
		c := h.rt.Next()
		wasSend := c.Op == ioruntime.OpSend && h.sm.Pool.At(h.index).Job.Kind == provision.JobSend
		h.sm.Handle(c)
		if c.Op == ioruntime.OpClose {
			return false
		}
		if wasSend && h.sm.Pool.At(h.index).Job.Kind == provision.JobRecv {
			return true
		}
	}
	h.t.Fatalf("pump: exceeded iteration budget without quiescing")
	return false
}

func readAll(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return buf[:n]
}

func TestPlainGETSingleChunk(t *testing.T) {
	rtr := router.New()
	rtr.Handle("GET", "/", Handler(func(ctx *Context) {
		ctx.Respond(200, []byte("home"))
	}))
	h := newHarness(t, rtr)
	defer h.close()

	if _, err := h.client.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if back := h.pump(); !back {
		t.Fatalf("expected connection back to recv")
	}
	resp := readAll(t, h.client)
	if !bytes.HasPrefix(resp, []byte("HTTP/1.1 200 OK\r\n")) {
		t.Fatalf("resp = %q", resp)
	}
	if !bytes.HasSuffix(resp, []byte("home")) {
		t.Fatalf("resp = %q, want body 'home'", resp)
	}
}

func TestHeaderSplitAcrossRecvsMatchesSingleChunk(t *testing.T) {
	rtr := router.New()
	rtr.Handle("GET", "/", Handler(func(ctx *Context) {
		ctx.Respond(200, []byte("home"))
	}))
	h := newHarness(t, rtr)
	defer h.close()

	if _, err := h.client.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n")); err != nil {
		t.Fatalf("write part1: %v", err)
	}
	// give the first recv a chance to land before sending the terminator
	time.Sleep(20 * time.Millisecond)
	if _, err := h.client.Write([]byte("\r\n")); err != nil {
		t.Fatalf("write part2: %v", err)
	}

	if back := h.pump(); !back {
		t.Fatalf("expected connection back to recv")
	}
	resp := readAll(t, h.client)
	if !bytes.HasPrefix(resp, []byte("HTTP/1.1 200 OK\r\n")) {
		t.Fatalf("resp = %q", resp)
	}
	if !bytes.HasSuffix(resp, []byte("home")) {
		t.Fatalf("resp = %q, want body 'home'", resp)
	}
}

func TestMissingHostOnHTTP11(t *testing.T) {
	rtr := router.New()
	h := newHarness(t, rtr)
	defer h.close()

	h.client.Write([]byte("GET / HTTP/1.1\r\n\r\n"))
	h.pump()
	resp := readAll(t, h.client)
	if !bytes.HasPrefix(resp, []byte("HTTP/1.1 400 Bad Request\r\n")) {
		t.Fatalf("resp = %q", resp)
	}
	if !bytes.Contains(resp, []byte(`Missing "Host" Header`)) {
		t.Fatalf("resp = %q", resp)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	rtr := router.New()
	rtr.Handle("GET", "/items", Handler(func(ctx *Context) { ctx.Respond(200, nil) }))
	h := newHarness(t, rtr)
	defer h.close()

	h.client.Write([]byte("POST /items HTTP/1.1\r\nHost: x\r\nContent-Length: 0\r\n\r\n"))
	h.pump()
	resp := readAll(t, h.client)
	if !bytes.HasPrefix(resp, []byte("HTTP/1.1 405 Method Not Allowed\r\n")) {
		t.Fatalf("resp = %q", resp)
	}
	if !bytes.Contains(resp, []byte("Allow: GET\r\n")) {
		t.Fatalf("resp missing Allow header: %q", resp)
	}
}

func TestNoRouteMatches(t *testing.T) {
	rtr := router.New()
	h := newHarness(t, rtr)
	defer h.close()

	h.client.Write([]byte("GET /nope HTTP/1.1\r\nHost: x\r\n\r\n"))
	h.pump()
	resp := readAll(t, h.client)
	if !bytes.HasPrefix(resp, []byte("HTTP/1.1 404 Not Found\r\n")) {
		t.Fatalf("resp = %q", resp)
	}
}

func TestOversizeRequestRejected(t *testing.T) {
	rtr := router.New()
	h := newHarness(t, rtr)
	defer h.close()

	big := bytes.Repeat([]byte("a"), 400)
	h.client.Write([]byte("GET /" + string(big) + " HTTP/1.1\r\nHost: x\r\n\r\n"))
	h.pump()
	resp := readAll(t, h.client)
	if !bytes.HasPrefix(resp, []byte("HTTP/1.1 413 ")) {
		t.Fatalf("resp = %q", resp)
	}
}

func TestKillStopsRuntime(t *testing.T) {
	rtr := router.New()
	rtr.Handle("GET", "/shutdown", Handler(func(ctx *Context) {
		ctx.Kill()
	}))
	h := newHarness(t, rtr)
	defer h.close()

	h.client.Write([]byte("GET /shutdown HTTP/1.1\r\nHost: x\r\n\r\n"))

	// Kill is observed at the send boundary: the connection closes and the
	// state machine reports stopped, without ever entering a send.
	comp := h.rt.Next()
	h.sm.Handle(comp)

	if !h.sm.Stopped() {
		t.Fatalf("expected Stopped() after Kill")
	}
}
