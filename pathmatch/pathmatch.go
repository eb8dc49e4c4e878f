// Package pathmatch implements the ordered route table Dispatcher consults
// for every request. Grounded on
// _examples/original_source/NisseHTTP/PathMatcher.h's `MatchInfo`/`paths`
// vector walked in insertion order, with the original's longest-prefix
// matching replaced by spec-mandated exact segment-count equality (see
// DESIGN.md — REDESIGN FLAG). The `Action`/`Data` function-pointer split
// PathMatcher.h uses to survive `dlclose()` is not carried forward: this
// module never unloads handler code, so Action is a plain Go closure.
package pathmatch

import (
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// MethodChoice selects which HTTP methods a route answers to.
type MethodChoice struct {
	method string
	all    bool
}

// MethodAll matches any HTTP method.
var MethodAll = MethodChoice{all: true}

// Method returns a MethodChoice bound to one specific HTTP method.
func Method(m string) MethodChoice {
	return MethodChoice{method: strings.ToUpper(m)}
}

func (m MethodChoice) matches(method string) bool {
	return m.all || m.method == method
}

// Variables is the set of path captures (and, per Dispatcher step 3, query
// and form parameters) bound for one request.
type Variables map[string]string

// RequestView is the minimal immutable request surface a Validator may
// inspect (spec §6: "given an immutable request, return a boolean").
// It is a plain value, not an interface bound to dispatch.Request, so that
// pathmatch never imports dispatch; Dispatcher.serveOne populates one from
// its own Request before calling Match.
type RequestView struct {
	Method string
	Target string
	Header map[string][]string
}

// Validator runs after a route matches on segment shape, to accept or
// reject it based on request content (spec §4.10 step 5).
type Validator func(req RequestView) bool

// Action is the handler a matched route invokes.
type Action func(vars Variables) bool

type segment struct {
	literal  string
	isCapture bool
	name     string
}

// Route is one entry in the matcher's ordered table.
type Route struct {
	method   MethodChoice
	template string
	segments []segment
	action   Action
	validate Validator
}

// ErrNoRoute is a sentinel for "no route fits the request". Match itself
// reports that case through its bool result and does not return this error.
var ErrNoRoute = errors.New("pathmatch: no matching route")

// Matcher is the ordered route table. Zero value is ready to use.
type Matcher struct {
	routes []*Route
}

func compileTemplate(template string) []segment {
	if template == "/" {
		return []segment{}
	}
	parts := strings.Split(strings.Trim(template, "/"), "/")
	segs := make([]segment, 0, len(parts))
	for _, p := range parts {
		if len(p) >= 2 && p[0] == '{' && p[len(p)-1] == '}' {
			segs = append(segs, segment{isCapture: true, name: p[1 : len(p)-1]})
		} else {
			segs = append(segs, segment{literal: p})
		}
	}
	return segs
}

// AddRoute registers a route, in insertion order, for method against
// template, and returns the Route record so a caller (e.g. Dispatcher.Handle)
// can key a side table off its identity. template's empty-path form "/"
// matches only the root.
func (m *Matcher) AddRoute(method MethodChoice, template string, action Action, validate Validator) (*Route, error) {
	if action == nil {
		return nil, errors.New("pathmatch: action must not be nil")
	}
	r := &Route{
		method:   method,
		template: template,
		segments: compileTemplate(template),
		action:   action,
		validate: validate,
	}
	m.routes = append(m.routes, r)
	return r, nil
}

// RemoveRoute removes the first route registered for (method, template).
func (m *Matcher) RemoveRoute(method MethodChoice, template string) {
	for i, r := range m.routes {
		if r.method == method && r.template == template {
			m.routes = append(m.routes[:i], m.routes[i+1:]...)
			return
		}
	}
}

// Match walks the route table in insertion order and returns the first
// route whose method matches, whose segment count equals path's, whose
// literal segments match exactly, and whose validator (if any) returns
// true. Captured segments are percent-decoded before being bound; '+' is
// NOT decoded to space (that's query-string semantics, not path semantics).
func (m *Matcher) Match(method, path string, view RequestView) (*Route, Variables, bool) {
	reqSegs := splitPath(path)
	for _, r := range m.routes {
		if !r.method.matches(method) {
			continue
		}
		if len(r.segments) != len(reqSegs) {
			continue
		}
		vars, ok := matchSegments(r.segments, reqSegs)
		if !ok {
			continue
		}
		if r.validate != nil && !r.validate(view) {
			continue
		}
		return r, vars, true
	}
	return nil, nil, false
}

func splitPath(path string) []string {
	if path == "/" || path == "" {
		return []string{}
	}
	return strings.Split(strings.Trim(path, "/"), "/")
}

func matchSegments(tmpl []segment, req []string) (Variables, bool) {
	var vars Variables
	for i, s := range tmpl {
		if s.isCapture {
			if req[i] == "" {
				return nil, false
			}
			decoded, err := url.PathUnescape(req[i])
			if err != nil {
				return nil, false
			}
			if vars == nil {
				vars = make(Variables)
			}
			vars[s.name] = decoded
			continue
		}
		if s.literal != req[i] {
			return nil, false
		}
	}
	return vars, true
}

// Action invokes the route's handler with its bound variables.
func (r *Route) Action(vars Variables) bool {
	return r.action(vars)
}
