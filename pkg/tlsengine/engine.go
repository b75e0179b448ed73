// Package tlsengine adapts crypto/tls's handshake and record layer to a
// per-connection engine model: fed ciphertext one recv-buffer at a time and
// asked to produce ciphertext one send-buffer at a time, rather than
// driving a real net.Conn directly. The handshake/encrypt/decrypt split
// mirrors a client TLS dialer's upgradeTLS, flipped from tls.Client to
// tls.Server.
package tlsengine

import (
	"crypto/tls"
	"fmt"
	"io"
)

// Action is the handshake driver's reply: on each step the engine answers
// with exactly one of "needs more input", "has output to send", or "done".
type Action int

const (
	// ActionRecv means the engine needs another recv buffer before it can
	// make progress; no output was produced.
	ActionRecv Action = iota
	// ActionSend means out holds ciphertext that must be written to the
	// connection before the next Step call.
	ActionSend
	// ActionComplete means the handshake finished successfully.
	ActionComplete
)

func (a Action) String() string {
	switch a {
	case ActionRecv:
		return "recv"
	case ActionSend:
		return "send"
	case ActionComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Engine drives one TLS connection's handshake and record layer against
// chunked byte buffers supplied by the connection state machine, instead of
// against a live socket. Exactly one Step/Decrypt/EncryptChunk call may be
// outstanding at a time, matching the Provision "one outstanding op" rule.
type Engine struct {
	conn       *bridgeConn
	tlsConn    *tls.Conn
	started    bool
	handshakeC chan error

	plainOut chan []byte
	readErrC chan error
	reading  bool
}

// NewServerEngine returns an Engine that will perform a server-side
// handshake using cfg once Step is first called.
func NewServerEngine(cfg *tls.Config) *Engine {
	conn := newBridgeConn()
	return &Engine{
		conn:       conn,
		tlsConn:    tls.Server(conn, cfg),
		handshakeC: make(chan error, 1),
		plainOut:   make(chan []byte, 4),
		readErrC:   make(chan error, 1),
	}
}

// Step feeds received ciphertext (nil on the very first call, which only
// starts the handshake goroutine) and reports what the driver should do
// next. out is only valid when action is ActionSend.
func (e *Engine) Step(received []byte) (action Action, out []byte, err error) {
	if !e.started {
		e.started = true
		go func() { e.handshakeC <- e.tlsConn.Handshake() }()
	}
	if len(received) > 0 {
		e.conn.feed(received)
	}

	// Drain any ciphertext the handshake already produced before checking
	// for completion: Write()-then-signal-done happens in that order on the
	// handshake goroutine, but give out strict priority anyway so a final
	// flight is never dropped on the rare tie.
	select {
	case out := <-e.conn.out:
		return ActionSend, out, nil
	default:
	}

	select {
	case out := <-e.conn.out:
		return ActionSend, out, nil
	case err := <-e.handshakeC:
		if err != nil {
			return ActionComplete, nil, err
		}
		return ActionComplete, nil, nil
	case <-e.conn.needRd:
		return ActionRecv, nil, nil
	}
}

// ConnectionState returns the negotiated TLS connection state. Valid only
// after Step has reported ActionComplete with a nil error.
func (e *Engine) ConnectionState() tls.ConnectionState {
	return e.tlsConn.ConnectionState()
}

// Decrypt feeds one recv-buffer's worth of ciphertext through the
// established session and returns whatever plaintext that yields, which may
// be nil if the ciphertext didn't complete a TLS record.
func (e *Engine) Decrypt(ciphertext []byte) ([]byte, error) {
	if !e.reading {
		e.reading = true
		go e.readLoop()
	}
	if len(ciphertext) > 0 {
		e.conn.feed(ciphertext)
	}

	select {
	case p := <-e.plainOut:
		return p, nil
	case err := <-e.readErrC:
		if err == io.EOF {
			return nil, nil
		}
		return nil, err
	case <-e.conn.needRd:
		return nil, nil
	}
}

func (e *Engine) readLoop() {
	buf := make([]byte, 16*1024)
	for {
		n, err := e.tlsConn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			e.plainOut <- chunk
		}
		if err != nil {
			e.readErrC <- err
			return
		}
	}
}

// EncryptChunk encrypts plaintext into a single ciphertext record ready to
// hand to the connection's send job.
func (e *Engine) EncryptChunk(plaintext []byte) ([]byte, error) {
	errC := make(chan error, 1)
	go func() {
		_, err := e.tlsConn.Write(plaintext)
		errC <- err
	}()

	select {
	case out := <-e.conn.out:
		return out, nil
	case err := <-errC:
		if err != nil {
			return nil, fmt.Errorf("tlsengine: encrypt: %w", err)
		}
		select {
		case out := <-e.conn.out:
			return out, nil
		default:
			return nil, nil
		}
	}
}

// Close tears down the bridge, unblocking any goroutine still parked in the
// handshake or read loop.
func (e *Engine) Close() error {
	return e.conn.Close()
}
