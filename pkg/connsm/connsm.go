// Package connsm implements the per-connection job state machine, the
// engine's core. It drives the handshake/recv/send/close transitions over
// a Provision, delegating to collaborators for everything else: TLS
// record framing (pkg/tlsengine), HTTP header parsing (pkg/httpparse),
// and route matching (pkg/router).
package connsm

import (
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/WhileEndless/go-rawserver/pkg/dispatcher"
	rserrors "github.com/WhileEndless/go-rawserver/pkg/errors"
	"github.com/WhileEndless/go-rawserver/pkg/httpparse"
	"github.com/WhileEndless/go-rawserver/pkg/ioruntime"
	"github.com/WhileEndless/go-rawserver/pkg/pool"
	"github.com/WhileEndless/go-rawserver/pkg/provision"
	"github.com/WhileEndless/go-rawserver/pkg/router"
	"github.com/WhileEndless/go-rawserver/pkg/tlsengine"
	"github.com/WhileEndless/go-rawserver/pkg/tlsslot"
)

// Limits bounds the state machine's behavior, sourced from configuration.
type Limits struct {
	SocketBufferSize  int
	RequestMax        int
	HeaderMax         int
	URIMax            int
	CapturesMax       int
	QueriesMax        int
	HandshakeCycleMax int
}

// SM is the per-worker connection state machine. One SM drives every
// Provision in its Pool; workers share no mutable state.
type SM struct {
	RT     *ioruntime.Runtime
	Pool   *pool.Pool
	TLS    *tlsslot.Slots
	Router *router.Router
	Limits Limits
	Log    hclog.Logger

	// OnConnectionClosed fires after a Provision is fully closed and
	// released, so the accept loop can re-arm an accept if one isn't
	// already outstanding.
	OnConnectionClosed func()

	stopped bool
}

// Stopped reports whether a handler signaled Kill.
func (sm *SM) Stopped() bool { return sm.stopped }

// Handle dispatches one completion to the appropriate transition. OpAccept
// completions are not handled here; the accept loop owns admission control
// and calls BeginConnection directly once it has borrowed a Provision.
func (sm *SM) Handle(c ioruntime.Completion) {
	switch c.Op {
	case ioruntime.OpResume:
		c.Fn()
	case ioruntime.OpRecv:
		p := sm.Pool.At(c.Index)
		switch p.Job.Kind {
		case provision.JobHandshake:
			sm.onHandshakeCompletion(c.Index, c.N, c.Err)
		case provision.JobRecv:
			sm.onRecvCompletion(c.Index, c.N, c.Err)
		default:
			sm.Log.Error("recv completion on unexpected job", "index", c.Index, "job", p.Job.Kind.String())
		}
	case ioruntime.OpSend:
		p := sm.Pool.At(c.Index)
		switch p.Job.Kind {
		case provision.JobHandshake:
			sm.onHandshakeCompletion(c.Index, c.N, c.Err)
		case provision.JobSend:
			sm.onSendCompletion(c.Index, c.N, c.Err)
		default:
			sm.Log.Error("send completion on unexpected job", "index", c.Index, "job", p.Job.Kind.String())
		}
	case ioruntime.OpClose:
		sm.onCloseCompletion(c.Index)
	}
}

// onHandshakeCompletion drives the TLS handshake loop one I/O completion
// further.
func (sm *SM) onHandshakeCompletion(index, n int, err error) {
	p := sm.Pool.At(index)
	if p.Job.HandshakeCount == 0 {
		p.Timer.StartHandshake()
	}
	if n <= 0 || err != nil {
		sm.beginClose(index, rserrors.NewIOError("handshake recv/send", err))
		return
	}

	p.Job.HandshakeCount++
	if p.Job.HandshakeCount >= sm.Limits.HandshakeCycleMax {
		sm.beginClose(index, rserrors.NewTLSError(remoteAddr(p), "handshake", fmt.Errorf("exceeded %d handshake cycles", sm.Limits.HandshakeCycleMax)))
		return
	}

	engine := sm.TLS.Get(index)
	var input []byte
	if p.Job.HandshakePhase == provision.HandshakeRecv {
		input = p.Job.HandshakeBuf[:n]
	}

	action, out, serr := engine.Step(input)
	if serr != nil {
		sm.beginClose(index, rserrors.NewTLSError(remoteAddr(p), "handshake", serr))
		return
	}

	switch action {
	case tlsengine.ActionRecv:
		p.Job.HandshakePhase = provision.HandshakeRecv
		p.Job.HandshakeBuf = p.Buffer
		sm.RT.ArmRecv(index, p.Socket, p.Buffer)
	case tlsengine.ActionSend:
		p.Job.HandshakePhase = provision.HandshakeSend
		sm.RT.ArmSend(index, p.Socket, out)
	case tlsengine.ActionComplete:
		p.Timer.EndHandshake()
		p.Job = provision.Job{Kind: provision.JobRecv}
		sm.RT.ArmRecv(index, p.Socket, p.Buffer)
	}
}

// remoteAddr reports p's peer address for error context, or "" if the
// socket is already gone.
func remoteAddr(p *provision.Provision) string {
	if p.Socket == nil {
		return ""
	}
	return p.Socket.RemoteAddr().String()
}

// onRecvCompletion handles a completed recv: decrypt if needed, then feed
// the plaintext into request assembly.
func (sm *SM) onRecvCompletion(index, n int, err error) {
	p := sm.Pool.At(index)
	if p.Job.RecvCount == 0 {
		p.Timer.StartRecv()
	}
	if n <= 0 || err != nil {
		sm.beginClose(index, rserrors.NewIOError("recv", err))
		return
	}

	var plaintext []byte
	if engine := sm.TLS.Get(index); engine != nil {
		pt, derr := engine.Decrypt(p.Buffer[:n])
		if derr != nil {
			sm.beginClose(index, rserrors.NewTLSError(remoteAddr(p), "decrypt", derr))
			return
		}
		plaintext = pt
	} else {
		plaintext = p.Buffer[:n]
	}

	p.Job.RecvCount += n
	if p.Job.RecvCount >= sm.Limits.RequestMax {
		p.Timer.EndRecv()
		sm.respond(p, 413, "Content Too Large", []byte("413 Content Too Large"))
		sm.enterSend(index)
		return
	}

	if len(plaintext) == 0 {
		sm.RT.ArmRecv(index, p.Socket, p.Buffer)
		return
	}

	switch sm.assembleRequest(p, plaintext) {
	case outcomeRecv:
		sm.RT.ArmRecv(index, p.Socket, p.Buffer)
	case outcomeSend:
		p.Timer.EndRecv()
		sm.enterSend(index)
	case outcomeSpawned:
		// handler took over; it will trigger a resume explicitly.
		p.Timer.EndRecv()
	}
}

// onSendCompletion handles a completed send: advance the plaintext or
// ciphertext cursor and arm the next chunk, or finish the response.
func (sm *SM) onSendCompletion(index, n int, err error) {
	p := sm.Pool.At(index)
	if n <= 0 || err != nil {
		sm.beginClose(index, rserrors.NewIOError("send", err))
		return
	}

	send := &p.Job.Send

	if send.Security == provision.SecurityPlain {
		send.Count += n
		if send.Count >= send.Slice.Len() {
			sm.completeSend(index)
			return
		}
		next := send.Slice.Get(send.Count, send.Count+sm.Limits.SocketBufferSize)
		sm.RT.ArmSend(index, p.Socket, next)
		return
	}

	send.EncryptedCount += n
	if send.EncryptedCount < len(send.Encrypted) {
		sm.RT.ArmSend(index, p.Socket, send.Encrypted[send.EncryptedCount:])
		return
	}
	if send.Count >= send.Slice.Len() {
		sm.completeSend(index)
		return
	}

	window := send.Slice.Get(send.Count, send.Count+sm.Limits.SocketBufferSize)
	engine := sm.TLS.Get(index)
	enc, eerr := engine.EncryptChunk(window)
	if eerr != nil {
		sm.beginClose(index, rserrors.NewTLSError(remoteAddr(p), "encrypt", eerr))
		return
	}
	send.Count += len(window)
	send.Encrypted = enc
	send.EncryptedCount = 0
	sm.RT.ArmSend(index, p.Socket, enc)
}

func (sm *SM) completeSend(index int) {
	p := sm.Pool.At(index)
	after := p.Job.Send.After
	trigger := p.Job.Send.Trigger

	p.Timer.EndSend()
	sm.Log.Debug("request complete", "index", index, "metrics", p.Timer.GetMetrics().String())

	switch after {
	case provision.AfterRecv:
		p.ResetForNextRequest()
		sm.RT.ArmRecv(index, p.Socket, p.Buffer)
	case provision.AfterTrigger:
		if trigger != nil {
			trigger()
		}
	}
}

// onCloseCompletion finalizes a Provision once its socket close completes.
func (sm *SM) onCloseCompletion(index int) {
	p := sm.Pool.At(index)
	sm.TLS.Clear(index)
	p.Closed()
	sm.Pool.Release(index)
	if sm.OnConnectionClosed != nil {
		sm.OnConnectionClosed()
	}
}

// beginClose arms a close on a still-valid socket, or finalizes the
// Provision immediately if the socket was never established. cause is nil
// for an ordinary close (e.g. a handler-initiated Kill); a non-nil cause is
// logged at a severity that distinguishes routine timeouts/resets from
// unexpected failures.
func (sm *SM) beginClose(index int, cause error) {
	p := sm.Pool.At(index)
	if cause != nil {
		addr := remoteAddr(p)
		switch {
		case rserrors.IsTimeoutError(cause):
			sm.Log.Debug("closing connection after timeout", "index", index, "addr", addr, "error", cause)
		case rserrors.IsTemporaryError(cause):
			sm.Log.Debug("closing connection after temporary error", "index", index, "addr", addr, "error", cause)
		default:
			sm.Log.Warn("closing connection", "index", index, "addr", addr, "error", cause)
		}
	}
	if p.Socket == nil {
		sm.onCloseCompletion(index)
		return
	}
	p.Job = provision.Job{Kind: provision.JobClose}
	sm.RT.ArmClose(index, p.Socket)
}

// enterSend transitions the connection to the send phase. It observes the
// Kill sentinel response status before doing any rendering, closing the
// connection instead of sending a response.
func (sm *SM) enterSend(index int) {
	p := sm.Pool.At(index)
	p.Timer.StartSend()
	if p.Response.IsKill() {
		sm.stopped = true
		sm.beginClose(index, nil)
		return
	}

	engine := sm.TLS.Get(index)
	window, err := dispatcher.Dispatch(p, sm.Limits.SocketBufferSize, engine)
	if err != nil {
		sm.beginClose(index, rserrors.NewProtocolError("rendering response", err))
		return
	}
	sm.RT.ArmSend(index, p.Socket, window)
}

// resumeRecv implements the "spawned -> recv" asynchronous handoff
// continuation.
func (sm *SM) resumeRecv(index int) {
	p := sm.Pool.At(index)
	p.Job = provision.Job{Kind: provision.JobRecv}
	sm.RT.ArmRecv(index, p.Socket, p.Buffer)
}

// resumeSend implements the "spawned -> send" trigger continuation: the
// handler has already populated p.Response before calling the trigger.
func (sm *SM) resumeSend(index int) {
	sm.enterSend(index)
}

func (sm *SM) respond(p *provision.Provision, code int, name string, body []byte) {
	p.Response.StatusCode = code
	p.Response.StatusName = name
	p.Response.Body = body
}

// respondParseError maps a *httpparse.ParseError to the HTTP status that
// best describes it.
func (sm *SM) respondParseError(p *provision.Provision, err error) {
	pe, ok := err.(*httpparse.ParseError)
	if !ok {
		sm.respond(p, 400, "Bad Request", []byte("400 Bad Request"))
		return
	}
	switch pe.Kind {
	case httpparse.KindContentTooLarge:
		sm.respond(p, 413, "Content Too Large", []byte("413 Content Too Large"))
	case httpparse.KindTooManyHeaders:
		sm.respond(p, 431, "Request Header Fields Too Large", []byte("431 Request Header Fields Too Large"))
	case httpparse.KindURITooLong:
		sm.respond(p, 414, "URI Too Long", []byte("414 URI Too Long"))
	case httpparse.KindInvalidMethod:
		sm.respond(p, 501, "Not Implemented", []byte("501 Not Implemented"))
	case httpparse.KindHTTPVersionNotSupported:
		sm.respond(p, 505, "HTTP Version Not Supported", []byte("505 HTTP Version Not Supported"))
	default:
		sm.respond(p, 400, "Bad Request", []byte("400 Bad Request"))
	}
}
