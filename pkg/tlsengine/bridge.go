package tlsengine

import (
	"io"
	"net"
	"time"
)

// bridgeConn is a net.Conn adapter that lets a real crypto/tls.Conn drive
// the TLS handshake and record layer against byte chunks we feed in
// incrementally, instead of against a real socket. feed pushes ciphertext
// arriving from the real connection into the bridge; the out channel
// carries ciphertext the tls.Conn produced so the caller can hand it to the
// real connection's send job. needRd signals that the tls.Conn is
// currently blocked waiting for more input than has been fed so far.
type bridgeConn struct {
	in     chan []byte
	out    chan []byte
	needRd chan struct{}
	closed chan struct{}
	inBuf  []byte
}

func newBridgeConn() *bridgeConn {
	return &bridgeConn{
		in:     make(chan []byte),
		out:    make(chan []byte, 8),
		needRd: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

func (c *bridgeConn) Read(p []byte) (int, error) {
	for len(c.inBuf) == 0 {
		select {
		case c.needRd <- struct{}{}:
		default:
		}
		select {
		case b, ok := <-c.in:
			if !ok {
				return 0, io.EOF
			}
			c.inBuf = b
		case <-c.closed:
			return 0, io.ErrClosedPipe
		}
	}
	n := copy(p, c.inBuf)
	c.inBuf = c.inBuf[n:]
	return n, nil
}

func (c *bridgeConn) Write(p []byte) (int, error) {
	cp := make([]byte, len(p))
	copy(cp, p)
	select {
	case c.out <- cp:
		return len(p), nil
	case <-c.closed:
		return 0, io.ErrClosedPipe
	}
}

func (c *bridgeConn) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

func (c *bridgeConn) LocalAddr() net.Addr                { return bridgeAddr{} }
func (c *bridgeConn) RemoteAddr() net.Addr               { return bridgeAddr{} }
func (c *bridgeConn) SetDeadline(t time.Time) error      { return nil }
func (c *bridgeConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *bridgeConn) SetWriteDeadline(t time.Time) error { return nil }

type bridgeAddr struct{}

func (bridgeAddr) Network() string { return "bridge" }
func (bridgeAddr) String() string  { return "bridge" }

// feed pushes a chunk of ciphertext that arrived from the real connection
// into the bridge, blocking until the tls.Conn's goroutine consumes it.
func (c *bridgeConn) feed(b []byte) {
	cp := make([]byte, len(b))
	copy(cp, b)
	select {
	case c.in <- cp:
	case <-c.closed:
	}
}
