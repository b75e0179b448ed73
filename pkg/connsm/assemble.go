package connsm

import (
	"bytes"
	"strings"

	"github.com/WhileEndless/go-rawserver/pkg/httpparse"
	"github.com/WhileEndless/go-rawserver/pkg/provision"
)

// outcome is the request-assembly algorithm's result: recv more, send a
// response, or the handler spawned async work. Kill is folded into send
// here: a handler that calls Kill still goes through enterSend, which is
// the single place Kill is observed.
type outcome int

const (
	outcomeRecv outcome = iota
	outcomeSend
	outcomeSpawned
)

var crlfcrlf = []byte("\r\n\r\n")

// assembleRequest dispatches to the header or body stage based on p.Stage.
func (sm *SM) assembleRequest(p *provision.Provision, chunk []byte) outcome {
	if p.Stage.Stage == provision.StageBody {
		return sm.bodyStage(p, chunk)
	}
	return sm.headerStage(p, chunk)
}

// headerStage accumulates and parses the request line and headers.
func (sm *SM) headerStage(p *provision.Provision, chunk []byte) outcome {
	start := max(0, len(p.RecvBuffer)-4)
	p.RecvBuffer = append(p.RecvBuffer, chunk...)

	rel := bytes.Index(p.RecvBuffer[start:], crlfcrlf)
	if rel < 0 {
		return outcomeRecv
	}
	headerEnd := start + rel + 4

	req, err := httpparse.ParseHeaders(p.RecvBuffer, headerEnd, httpparse.Limits{
		MaxHeaders: sm.Limits.HeaderMax,
		MaxURILen:  sm.Limits.URIMax,
	})
	if err != nil {
		sm.respondParseError(p, err)
		return outcomeSend
	}
	p.Request = req

	if req.Major == 1 && req.Minor == 1 {
		if _, ok := req.Host(); !ok {
			sm.respond(p, 400, "Bad Request", []byte(`Missing "Host" Header`))
			return outcomeSend
		}
	}

	if !httpparse.BodyExpected(req.Method) {
		return sm.routeStep(p)
	}

	length, present, cerr := req.ContentLength()
	if cerr != nil {
		sm.respond(p, 400, "Bad Request", []byte("400 Bad Request"))
		return outcomeSend
	}
	// Converge on 411 for body-expecting methods missing Content-Length in
	// both the header and body stages, rather than allowing it in one
	// stage and rejecting it in the other.
	if !present {
		sm.respond(p, 411, "Length Required", []byte("411 Length Required"))
		return outcomeSend
	}

	haveAfterHeader := len(p.RecvBuffer) - headerEnd
	switch {
	case haveAfterHeader == length:
		p.Request.Body = p.RecvBuffer[headerEnd : headerEnd+length]
		return sm.routeStep(p)
	case haveAfterHeader < length:
		p.Stage = provision.ParseStage{Stage: provision.StageBody, HeaderEnd: headerEnd}
		return outcomeRecv
	default:
		// haveAfterHeader > length: an adversarial client can pipeline
		// extra bytes past a declared Content-Length, so this is a
		// defined 400, not a crash.
		sm.respond(p, 400, "Bad Request", []byte("400 Bad Request"))
		return outcomeSend
	}
}

// bodyStage accumulates request-body bytes until the declared
// Content-Length is satisfied.
func (sm *SM) bodyStage(p *provision.Provision, chunk []byte) outcome {
	p.RecvBuffer = append(p.RecvBuffer, chunk...)

	length, present, cerr := p.Request.ContentLength()
	if cerr != nil {
		sm.respond(p, 400, "Bad Request", []byte("400 Bad Request"))
		return outcomeSend
	}
	if !present {
		sm.respond(p, 411, "Length Required", []byte("411 Length Required"))
		return outcomeSend
	}

	headerEnd := p.Stage.HeaderEnd
	requestLength := headerEnd + length
	if requestLength > sm.Limits.RequestMax {
		sm.respond(p, 413, "Content Too Large", []byte("413 Content Too Large"))
		return outcomeSend
	}

	if len(p.RecvBuffer) >= requestLength {
		p.Request.Body = p.RecvBuffer[headerEnd:requestLength]
		return sm.routeStep(p)
	}
	return outcomeRecv
}

// routeStep matches the request against the route table and, on a match,
// invokes the handler.
func (sm *SM) routeStep(p *provision.Provision) outcome {
	p.Timer.StartRoute()
	result := sm.Router.Match(p.Request.Method, p.Request.Path, p.Request.RawQuery, sm.Limits.CapturesMax, sm.Limits.QueriesMax)

	if !result.Matched {
		sm.respond(p, 404, "Not Found", []byte("404 Not Found"))
		p.Timer.EndRoute()
		return outcomeSend
	}

	if result.Handler == nil {
		sm.respond(p, 405, "Method Not Allowed", []byte("405 Method Not Allowed"))
		p.Response.SetHeader("Allow", strings.Join(result.AllowedMethods, ", "))
		p.Timer.EndRoute()
		return outcomeSend
	}

	handler, ok := result.Handler.(Handler)
	if !ok {
		sm.respond(p, 500, "Internal Server Error", []byte("500 Internal Server Error"))
		p.Timer.EndRoute()
		return outcomeSend
	}

	p.Captures = p.Captures[:0]
	for _, c := range result.Captures {
		p.Captures = append(p.Captures, provision.Capture{Key: c.Key, Value: c.Value})
	}
	p.Queries = p.Queries[:0]
	for _, q := range result.Queries {
		p.Queries = append(p.Queries, provision.Query{Key: q.Key, Value: q.Value})
	}

	index := p.Index
	ctx := &Context{
		Request:  p.Request,
		Arena:    p.Arena,
		Captures: p.Captures,
		Queries:  p.Queries,
		Runtime:  sm.RT,
		sm:       sm,
		index:    index,
	}
	handler(ctx)
	p.Timer.EndRoute()

	if ctx.spawned {
		return outcomeSpawned
	}
	return outcomeSend
}
