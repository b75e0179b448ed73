// Package ioruntime implements the async I/O runtime primitives: accept,
// recv, send, close, task scheduling, and per-runtime storage. No
// io_uring-style completion-queue library is available to this module, so
// completions are modeled the idiomatic Go way: each armed operation runs
// on its own goroutine against a real net.Listener/net.Conn and posts
// exactly one Completion back to a single per-worker channel, which the
// connection state machine drains sequentially. This preserves the core
// guarantee that at most one operation is outstanding per Provision, and
// all Provision mutation happens synchronously between completions on a
// single goroutine, without requiring a real completion-queue kernel
// interface.
package ioruntime

import "net"

// OpKind names which operation a Completion reports.
type OpKind int

const (
	OpAccept OpKind = iota
	OpRecv
	OpSend
	OpClose
	// OpResume carries a closure posted by PostResume rather than an I/O
	// result. It exists so an asynchronous handler handoff can hand control
	// back to the connection state machine on the worker's own goroutine
	// instead of racing it from whatever goroutine completed the async
	// work.
	OpResume
)

func (k OpKind) String() string {
	switch k {
	case OpAccept:
		return "accept"
	case OpRecv:
		return "recv"
	case OpSend:
		return "send"
	case OpClose:
		return "close"
	case OpResume:
		return "resume"
	default:
		return "unknown"
	}
}

// Completion is what an armed operation posts back to the runtime's single
// completion channel. Index identifies the Provision slot the operation
// was armed against; it is unset (-1) for OpAccept, which has no slot yet.
type Completion struct {
	Op    OpKind
	Index int
	N     int
	Err   error
	Conn  net.Conn // valid only for OpAccept
	Fn    func()   // valid only for OpResume
}

// Runtime owns the listening socket and the single completion channel a
// worker drains. One Runtime exists per worker; workers share no mutable
// state.
type Runtime struct {
	listener    net.Listener
	completions chan Completion
	storage     map[string]any
}

// New wraps listener with a completion channel sized to buffer bursts of
// simultaneous completions without blocking the goroutines that post them.
func New(listener net.Listener, queueDepth int) *Runtime {
	return &Runtime{
		listener:    listener,
		completions: make(chan Completion, queueDepth),
		storage:     make(map[string]any),
	}
}

// Next blocks until the next completion is available. The worker's main
// loop calls this in a tight loop and dispatches by Op/Index.
func (r *Runtime) Next() Completion {
	return <-r.completions
}

// ArmAccept starts one outstanding accept. The caller is responsible for
// not calling ArmAccept again until the resulting completion has been
// observed.
func (r *Runtime) ArmAccept() {
	go func() {
		conn, err := r.listener.Accept()
		r.completions <- Completion{Op: OpAccept, Index: -1, Conn: conn, Err: err}
	}()
}

// ArmRecv starts one outstanding receive into buf for the connection at
// index.
func (r *Runtime) ArmRecv(index int, conn net.Conn, buf []byte) {
	go func() {
		n, err := conn.Read(buf)
		r.completions <- Completion{Op: OpRecv, Index: index, N: n, Err: err}
	}()
}

// ArmSend starts one outstanding send of buf for the connection at index.
func (r *Runtime) ArmSend(index int, conn net.Conn, buf []byte) {
	go func() {
		n, err := conn.Write(buf)
		r.completions <- Completion{Op: OpSend, Index: index, N: n, Err: err}
	}()
}

// ArmClose starts one outstanding close for the connection at index.
func (r *Runtime) ArmClose(index int, conn net.Conn) {
	go func() {
		err := conn.Close()
		r.completions <- Completion{Op: OpClose, Index: index, Err: err}
	}()
}

// Close tears down the listening socket, unblocking any outstanding
// ArmAccept's goroutine with an error completion.
func (r *Runtime) Close() error {
	return r.listener.Close()
}

// PostResume enqueues fn to run on the worker goroutine that drains Next,
// rather than on the caller's goroutine. Used by the asynchronous handler
// handoff path so a trigger invoked from unrelated goroutines never
// mutates Provision state concurrently with the worker loop.
func (r *Runtime) PostResume(fn func()) {
	r.completions <- Completion{Op: OpResume, Index: -1, Fn: fn}
}

// --- per-runtime storage ---
//
// A fixed set of opaque, stable storage keys (server_socket,
// provision_pool, config, tls_slice, tls_ctx, accept_queued, router)
// replace what would otherwise be global mutable state. Storage is a
// plain map guarded by nothing, because a Runtime is only ever touched by
// its own worker goroutine.

const (
	KeyServerSocket  = "server_socket"
	KeyProvisionPool = "provision_pool"
	KeyConfig        = "config"
	KeyTLSSlots      = "tls_slice"
	KeyTLSConfig     = "tls_ctx"
	KeyAcceptQueued  = "accept_queued"
	KeyRouter        = "router"
)

// Put installs a value under a stable storage key.
func (r *Runtime) Put(key string, value any) { r.storage[key] = value }

// Get returns the value under key, or nil if unset.
func (r *Runtime) Get(key string) any { return r.storage[key] }

// AcceptQueued reports whether an accept is currently outstanding.
func (r *Runtime) AcceptQueued() bool {
	v, _ := r.storage[KeyAcceptQueued].(bool)
	return v
}

// SetAcceptQueued updates the accept_queued flag.
func (r *Runtime) SetAcceptQueued(queued bool) { r.storage[KeyAcceptQueued] = queued }
