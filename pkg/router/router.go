// Package router implements the request router: route compilation and
// capture/query extraction behind a Router.Match entry point, consumed by
// the state machine's route step. No repository in the retrieval pack
// ships a route-compilation library, so this is a minimal from-scratch
// static/parameter path matcher.
package router

import (
	"net/url"
	"sort"
	"strings"
)

// Capture is a single named path-parameter match, e.g. ":id" -> "42".
type Capture struct {
	Key   string
	Value string
}

// Query is a single decoded query-string parameter.
type Query struct {
	Key   string
	Value string
}

// Handler is the opaque value registered for a method on a route. Match
// returns it untouched in Result.Handler, alongside the captures and
// queries Match allocates itself; the caller asserts its concrete type and
// invokes it.
type Handler interface{}

type segment struct {
	literal string
	isParam bool
	param   string
}

type route struct {
	pattern  string
	segments []segment
	methods  map[string]Handler
}

// Router is a small method+path matcher with capture-group extraction.
// Registration order matters: the first pattern whose segments match wins.
type Router struct {
	routes []*route
}

// New returns an empty Router.
func New() *Router {
	return &Router{}
}

// Handle registers handler for method on pattern. Path segments prefixed
// with ':' are captured, e.g. "/users/:id/posts/:postID".
func (r *Router) Handle(method, pattern string, handler Handler) {
	method = strings.ToUpper(method)
	for _, rt := range r.routes {
		if rt.pattern == pattern {
			rt.methods[method] = handler
			return
		}
	}
	rt := &route{
		pattern:  pattern,
		segments: compile(pattern),
		methods:  map[string]Handler{method: handler},
	}
	r.routes = append(r.routes, rt)
}

func compile(pattern string) []segment {
	parts := strings.Split(strings.Trim(pattern, "/"), "/")
	segs := make([]segment, 0, len(parts))
	for _, p := range parts {
		if strings.HasPrefix(p, ":") {
			segs = append(segs, segment{isParam: true, param: p[1:]})
		} else {
			segs = append(segs, segment{literal: p})
		}
	}
	return segs
}

// Result describes the outcome of Match.
type Result struct {
	// Matched is true iff some registered pattern matched the path.
	Matched bool
	// Handler is non-nil iff Matched and method has a registered handler.
	Handler Handler
	// AllowedMethods lists the methods registered for the matched route,
	// sorted, for building the Allow header on a 405.
	AllowedMethods []string
	// Captures holds path-parameter matches, up to maxCaptures.
	Captures []Capture
	// Queries holds decoded query-string parameters, up to maxQueries.
	Queries []Query
}

// Match finds the route whose compiled segments match path, and resolves
// method against its registered handlers. Query is the raw query string
// (without the leading '?'). maxCaptures/maxQueries bound how many entries
// are extracted; entries beyond the bound are silently dropped, mirroring
// a fixed-size Provision field rather than an unbounded allocation.
func (r *Router) Match(method, path, rawQuery string, maxCaptures, maxQueries int) Result {
	method = strings.ToUpper(method)
	pathParts := strings.Split(strings.Trim(path, "/"), "/")

	for _, rt := range r.routes {
		captures, ok := matchSegments(rt.segments, pathParts, maxCaptures)
		if !ok {
			continue
		}

		res := Result{
			Matched:  true,
			Captures: captures,
			Queries:  parseQuery(rawQuery, maxQueries),
		}

		if h, ok := rt.methods[method]; ok {
			res.Handler = h
		}

		methods := make([]string, 0, len(rt.methods))
		for m := range rt.methods {
			methods = append(methods, m)
		}
		sort.Strings(methods)
		res.AllowedMethods = methods

		return res
	}

	return Result{Matched: false}
}

func matchSegments(segs []segment, pathParts []string, maxCaptures int) ([]Capture, bool) {
	if len(segs) != len(pathParts) {
		return nil, false
	}
	var captures []Capture
	for i, seg := range segs {
		part := pathParts[i]
		if seg.isParam {
			if len(captures) < maxCaptures {
				captures = append(captures, Capture{Key: seg.param, Value: part})
			}
			continue
		}
		if seg.literal != part {
			return nil, false
		}
	}
	return captures, true
}

func parseQuery(raw string, maxQueries int) []Query {
	if raw == "" {
		return nil
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil
	}

	var out []Query
	for k, vs := range values {
		for _, v := range vs {
			if len(out) >= maxQueries {
				return out
			}
			out = append(out, Query{Key: k, Value: v})
		}
	}
	return out
}
