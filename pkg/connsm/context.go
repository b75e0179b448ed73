package connsm

import (
	"github.com/WhileEndless/go-rawserver/pkg/arena"
	"github.com/WhileEndless/go-rawserver/pkg/httpparse"
	"github.com/WhileEndless/go-rawserver/pkg/ioruntime"
	"github.com/WhileEndless/go-rawserver/pkg/provision"
)

// Handler is invoked by the route step once a route and method are both
// matched. It is registered with a Router under router.Handler's
// interface{} slot.
type Handler func(ctx *Context)

// Context is handed to a Handler, exposing request, arena, captures,
// queries, and the runtime a handler needs to build its response.
type Context struct {
	Request  *httpparse.Request
	Arena    *arena.Arena
	Captures []provision.Capture
	Queries  []provision.Query
	Runtime  *ioruntime.Runtime

	sm      *SM
	index   int
	spawned bool
}

// SetStatus sets the response status code and, optionally, a non-default
// status name (pass "" to derive it from the code at dispatch time).
func (c *Context) SetStatus(code int, name string) {
	p := c.sm.Pool.At(c.index)
	p.Response.StatusCode = code
	p.Response.StatusName = name
}

// SetHeader appends a response header.
func (c *Context) SetHeader(key, value string) {
	c.sm.Pool.At(c.index).Response.SetHeader(key, value)
}

// SetBody sets the response body.
func (c *Context) SetBody(body []byte) {
	c.sm.Pool.At(c.index).Response.Body = body
}

// Respond is shorthand for SetStatus(code, "") followed by SetBody(body).
func (c *Context) Respond(code int, body []byte) {
	c.SetStatus(code, "")
	c.SetBody(body)
}

// Kill sets the Kill sentinel response status: the worker stops once the
// state machine observes it at the send boundary.
func (c *Context) Kill() {
	c.sm.Pool.At(c.index).Response.StatusCode = provision.StatusKill
}

// Spawn takes over the Provision: the route step returns "spawned" instead
// of entering send synchronously. The handler must eventually call one of
// the returned trigger functions to hand control back.
func (c *Context) Spawn() {
	c.spawned = true
}

// TriggerRecv returns a callback safe to invoke from any goroutine (e.g.
// once an asynchronous operation completes) that re-arms this Provision
// for another receive.
func (c *Context) TriggerRecv() func() {
	index := c.index
	sm := c.sm
	return func() {
		sm.RT.PostResume(func() { sm.resumeRecv(index) })
	}
}

// TriggerSend returns a callback safe to invoke from any goroutine that
// dispatches the response the handler has already set via SetStatus/
// SetHeader/SetBody/Respond.
func (c *Context) TriggerSend() func() {
	index := c.index
	sm := c.sm
	return func() {
		sm.RT.PostResume(func() { sm.resumeSend(index) })
	}
}
