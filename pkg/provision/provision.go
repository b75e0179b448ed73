// Package provision implements the per-connection state record: the
// Provision, its job tagged union, and the response-in-construction it
// owns. Provisions are allocated once at startup by pkg/pool and reused
// for the lifetime of the worker, the same way a pooled client connection
// keeps a small reusable record per slot rather than allocating per
// request.
package provision

import (
	"net"

	"github.com/WhileEndless/go-rawserver/pkg/arena"
	"github.com/WhileEndless/go-rawserver/pkg/httpparse"
	"github.com/WhileEndless/go-rawserver/pkg/pseudoslice"
	"github.com/WhileEndless/go-rawserver/pkg/timing"
)

// Stage is the request-assembly parse phase tracked on a Provision.
type Stage int

const (
	// StageHeader means the header terminator hasn't been found yet.
	StageHeader Stage = iota
	// StageBody means headers are parsed and the body is still arriving.
	StageBody
)

// ParseStage bundles the stage with the header_end offset it carries once
// in StageBody.
type ParseStage struct {
	Stage     Stage
	HeaderEnd int
}

// JobKind enumerates the Provision job tagged union.
type JobKind int

const (
	JobEmpty JobKind = iota
	JobHandshake
	JobRecv
	JobSend
	JobClose
)

func (k JobKind) String() string {
	switch k {
	case JobEmpty:
		return "empty"
	case JobHandshake:
		return "handshake"
	case JobRecv:
		return "recv"
	case JobSend:
		return "send"
	case JobClose:
		return "close"
	default:
		return "unknown"
	}
}

// HandshakePhase is the handshake job's current direction: waiting on more
// ciphertext, or waiting to flush ciphertext already produced.
type HandshakePhase int

const (
	HandshakeRecv HandshakePhase = iota
	HandshakeSend
)

// SendSecurity distinguishes a plain send from a TLS send, which must track
// an additional encrypted-window cursor alongside the plaintext cursor.
type SendSecurity int

const (
	SecurityPlain SendSecurity = iota
	SecurityTLS
)

// After names what happens once a send job completes.
type After int

const (
	// AfterRecv resets the arena and recv_buffer and re-enters recv(0).
	AfterRecv After = iota
	// AfterTrigger runs the send job's Trigger continuation instead.
	// Dispatch always installs AfterRecv; a Spawn()'d handler resumes
	// through the connsm Context's TriggerRecv/TriggerSend, not through this.
	AfterTrigger
)

// SendJob is the Job variant data for JobSend.
type SendJob struct {
	Slice          *pseudoslice.Pseudoslice
	Count          int
	Security       SendSecurity
	Encrypted      []byte
	EncryptedCount int
	After          After
	Trigger        func()
}

// Job is the Provision's current I/O job, a tagged union. Only the fields
// relevant to Kind are meaningful; callers must assert Kind before reading
// variant fields.
type Job struct {
	Kind JobKind

	// handshake
	HandshakePhase HandshakePhase
	HandshakeCount int
	HandshakeBuf   []byte

	// recv
	RecvCount int

	// send
	Send SendJob
}

// StatusKill is the sentinel response status observed at the send boundary
// to stop the runtime instead of sending a response.
const StatusKill = -1

// Header is a single response header field.
type Header struct {
	Key   string
	Value string
}

// Response is the response under construction on a Provision. StatusCode
// of StatusKill means the worker stops once this response would be sent.
type Response struct {
	StatusCode int
	StatusName string
	Headers    []Header
	Body       []byte
}

// IsKill reports whether this response carries the Kill sentinel.
func (r *Response) IsKill() bool { return r.StatusCode == StatusKill }

// SetHeader appends a response header. Duplicate keys are allowed, matching
// HTTP wire semantics; callers that need replace-semantics should filter
// first.
func (r *Response) SetHeader(key, value string) {
	r.Headers = append(r.Headers, Header{Key: key, Value: value})
}

// Reset clears the response for reuse by the next request on this
// Provision.
func (r *Response) Reset() {
	r.StatusCode = 0
	r.StatusName = ""
	r.Headers = r.Headers[:0]
	r.Body = nil
}

// Provision is the per-connection state record.
type Provision struct {
	Index int

	// Socket is nil when the slot holds no live connection.
	Socket net.Conn

	// Buffer is the fixed socket scratch buffer: receives land in it, and it
	// is the Pseudoslice's scratch region for send windows that straddle
	// the header/body boundary. Rendered headers live in the arena.
	Buffer []byte

	// RecvBuffer accumulates decrypted request bytes across receives,
	// capped at RequestMax.
	RecvBuffer []byte

	Arena *arena.Arena

	Request  *httpparse.Request
	Response Response

	Captures []Capture
	Queries  []Query

	Stage ParseStage
	Job   Job

	// Timer measures the current request's phase breakdown: handshake,
	// recv, route, send.
	Timer *timing.Timer

	// config carried for reset bounds; set once at construction.
	socketBufferSize int
	recvBufferRetain int
	arenaRetain      int
	requestMax       int
}

// Capture mirrors router.Capture, redeclared here so this package has no
// compile-time dependency on pkg/router; the dispatcher/connsm layer
// converts between the two when invoking Router.Match.
type Capture struct {
	Key   string
	Value string
}

// Query mirrors router.Query for the same reason.
type Query struct {
	Key   string
	Value string
}

// Config bounds a Provision's buffer sizing, sourced from the engine's
// configuration.
type Config struct {
	SocketBufferSize int
	RecvBufferRetain int
	ArenaRetain      int
	RequestMax       int
	CapturesMax      int
	QueriesMax       int
}

// New allocates a single Provision at slot index, pre-sized per cfg. Called
// once per slot at pool construction time; Provisions are created once at
// startup and reused forever.
func New(index int, cfg Config) *Provision {
	return &Provision{
		Index:            index,
		Buffer:           make([]byte, cfg.SocketBufferSize),
		RecvBuffer:       make([]byte, 0, cfg.RecvBufferRetain),
		Arena:            arena.New(cfg.ArenaRetain),
		Captures:         make([]Capture, 0, cfg.CapturesMax),
		Queries:          make([]Query, 0, cfg.QueriesMax),
		socketBufferSize: cfg.SocketBufferSize,
		recvBufferRetain: cfg.RecvBufferRetain,
		arenaRetain:      cfg.ArenaRetain,
		requestMax:       cfg.RequestMax,
	}
}

// Dirty reports whether this Provision is in the pool's dirty set: a
// Provision is dirty iff its job is not empty.
func (p *Provision) Dirty() bool { return p.Job.Kind != JobEmpty }

// BeginConnection transitions a borrowed Provision into its initial job:
// handshake(recv, 0) under TLS, else recv(0).
func (p *Provision) BeginConnection(socket net.Conn, tls bool) {
	p.Socket = socket
	p.Stage = ParseStage{Stage: StageHeader}
	p.Request = nil
	p.Response.Reset()
	p.Captures = p.Captures[:0]
	p.Queries = p.Queries[:0]
	p.RecvBuffer = p.RecvBuffer[:0]
	p.Timer = timing.NewTimer()

	if tls {
		p.Job = Job{Kind: JobHandshake, HandshakePhase: HandshakeRecv, HandshakeBuf: p.Buffer}
		return
	}
	p.Job = Job{Kind: JobRecv}
}

// ResetForNextRequest implements the send-completion "after = recv" action:
// reset the arena with its retention limit, clear recv_buffer, and
// re-enter recv(0).
func (p *Provision) ResetForNextRequest() {
	p.Arena.Reset()
	p.shrinkRecvBuffer()
	p.Stage = ParseStage{Stage: StageHeader}
	p.Request = nil
	p.Response.Reset()
	p.Captures = p.Captures[:0]
	p.Queries = p.Queries[:0]
	p.Job = Job{Kind: JobRecv}
	p.Timer = timing.NewTimer()
}

func (p *Provision) shrinkRecvBuffer() {
	if cap(p.RecvBuffer) > p.recvBufferRetain {
		p.RecvBuffer = make([]byte, 0, p.recvBufferRetain)
		return
	}
	p.RecvBuffer = p.RecvBuffer[:0]
}

// Closed implements the close-completion action: the socket is
// invalidated, the arena and recv_buffer are reset to their retention
// bounds, and the job returns to empty so the pool can release the slot.
func (p *Provision) Closed() {
	p.Socket = nil
	p.Arena.Reset()
	p.shrinkRecvBuffer()
	p.Request = nil
	p.Response.Reset()
	p.Job = Job{Kind: JobEmpty}
}

// RequestMax returns the configured maximum cumulative request size.
func (p *Provision) RequestMax() int { return p.requestMax }

// SocketBufferSize returns the configured fixed socket buffer size.
func (p *Provision) SocketBufferSize() int { return p.socketBufferSize }
