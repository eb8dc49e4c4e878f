package dispatch

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/thorsanvil/nisse/hdr"
	"github.com/thorsanvil/nisse/httpparse"
	"github.com/thorsanvil/nisse/nctx"
	"github.com/thorsanvil/nisse/pathmatch"
	"github.com/thorsanvil/nisse/streamcodec"
	nurl "github.com/thorsanvil/nisse/url"
)

// Dispatcher owns the route table and drives the per-request state
// machine described by spec §4.10.
type Dispatcher struct {
	Matcher *pathmatch.Matcher
	log     *logrus.Entry

	metrics *dispatchMetrics

	handlersMu sync.RWMutex
	handlers   map[*pathmatch.Route]HandlerFunc
}

// New creates a Dispatcher around an existing route table.
func New(matcher *pathmatch.Matcher, log *logrus.Entry) *Dispatcher {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Dispatcher{
		Matcher:  matcher,
		log:      log.WithField("component", "dispatch"),
		metrics:  newDispatchMetrics(),
		handlers: make(map[*pathmatch.Route]HandlerFunc),
	}
}

// Serve drives ctx.Conn's request/response loop until the connection
// closes, implementing spec §4.10's nine-step state machine for each
// request: parse -> build Request -> match route -> validate -> invoke
// handler -> flush -> drain -> keep-alive decision -> repeat or return.
func (d *Dispatcher) Serve(ctx *nctx.Context) {
	br := bufio.NewReaderSize(ctx.Conn, 4096)
	bw := bufio.NewWriterSize(ctx.Conn, 4096)

	for {
		keepAlive, err := d.serveOne(ctx, br, bw)
		if err != nil {
			if err != io.EOF {
				d.log.WithError(err).WithField("fd", ctx.FD).Debug("connection serve error")
			}
			return
		}
		if !keepAlive {
			return
		}
	}
}

// serveOne runs exactly one request/response cycle. The returned bool
// reports whether the connection should be kept open for another request
// (spec §4.10 step 9).
func (d *Dispatcher) serveOne(ctx *nctx.Context, br *bufio.Reader, bw *bufio.Writer) (keepAlive bool, err error) {
	method, target, proto, err := httpparse.ParseRequestLine(br)
	if err != nil {
		if err == io.EOF {
			return false, io.EOF
		}
		if _, ok := err.(*httpparse.LineTooLongError); ok {
			writeFailResponse(bw, StatusURITooLong, proto11)
			return false, nil
		}
		writeFailResponse(bw, StatusBadRequest, proto11)
		return false, nil
	}

	header, err := httpparse.ParseHeaders(br)
	if err != nil {
		writeFailResponse(bw, StatusBadRequest, proto)
		return false, nil
	}

	framing, length, err := httpparse.DetermineFraming(header, method)
	if err != nil {
		writeFailResponse(bw, StatusBadRequest, proto)
		return false, nil
	}

	d.metrics.requestsTotal.Inc()

	parsedURL, err := nurl.Parse(target)
	if err != nil {
		writeFailResponse(bw, StatusBadRequest, proto)
		return false, nil
	}

	body := streamcodec.NewBodyReader(br, framing, length)
	req := &Request{
		Method:    method,
		Target:    target,
		URL:       parsedURL,
		Proto:     proto,
		Header:    header,
		Body:      body,
		Variables: make(Variables),
		ConnID:    ctx.ConnID,
		Ctx:       ctx,
	}
	for k, v := range parsedURL.Params() {
		req.Variables[k] = v
	}

	resp := newResponse(bw, proto)
	// Stamped before the handler runs (not after, in finish) since the
	// handler's first Write may freeze the header set well before this
	// request/response cycle returns.
	if req.ConnID != "" {
		resp.Header.Set(headerRequestID, req.ConnID)
	}

	route, pathVars, ok := d.Matcher.Match(method, req.URL.Pathname(), pathmatch.RequestView{
		Method: req.Method,
		Target: req.Target,
		Header: map[string][]string(req.Header),
	})
	if !ok {
		resp.Error(StatusNotFound, "404 page not found")
		return d.finish(req, resp, proto)
	}
	for k, v := range pathVars {
		req.Variables[k] = v
	}

	if isFormPost(header) {
		if err := populateFormVariables(req); err != nil {
			resp.Error(StatusBadRequest, "malformed form body")
			return d.finish(req, resp, proto)
		}
	}

	handler := d.handlerFor(route)
	if handler == nil {
		resp.Error(StatusNotImplemented, "route has no handler bound")
		return d.finish(req, resp, proto)
	}

	if !d.invokeHandler(handler, req, resp) {
		resp.Error(StatusInternalServerError, "internal server error")
	}

	return d.finish(req, resp, proto)
}

// invokeHandler calls the matched route's handler, translating a panic
// into a 500 response per spec §4.10's final paragraph.
func (d *Dispatcher) invokeHandler(handler HandlerFunc, req *Request, resp *Response) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			d.log.WithField("panic", r).Error("handler panicked")
			ok = false
		}
	}()
	timer := newHandlerTimer()
	ok = handler(req, resp)
	d.metrics.handlerDuration.Observe(timer.seconds())
	return ok
}

// finish ensures the response's header latch has fired even if the
// handler wrote nothing at all, finalizes the body framing, drains any
// unread request body, and returns the keep-alive decision.
func (d *Dispatcher) finish(req *Request, resp *Response, proto string) (bool, error) {
	if err := resp.finish(); err != nil {
		return false, err
	}
	if req.Body != nil {
		io.Copy(io.Discard, req.Body)
	}
	return decideKeepAlive(proto, req.Header, resp.Header), nil
}

func decideKeepAlive(proto string, reqHeader, respHeader hdr.Header) bool {
	conn := strings.ToLower(reqHeader.Get(hdr.Connection))
	if respConn := strings.ToLower(respHeader.Get(hdr.Connection)); respConn != "" {
		conn = respConn
	}
	if strings.HasPrefix(proto, "HTTP/1.0") {
		return conn == "keep-alive"
	}
	return conn != "close"
}

func isFormPost(h hdr.Header) bool {
	ct := h.Get(hdr.ContentType)
	return strings.HasPrefix(ct, "application/x-www-form-urlencoded")
}

func populateFormVariables(req *Request) error {
	raw, err := req.Body.PreloadIntoBuffer()
	if err != nil {
		return err
	}
	values, err := nurl.ParseQuery(string(raw))
	if err != nil {
		return err
	}
	for k := range values {
		req.Variables[k] = values.Get(k)
	}
	return nil
}

const proto11 = "HTTP/1.1"

// headerRequestID is not part of hdr's canonical set (it's an ambient
// correlation convenience, not an HTTP-spec header); CanonicalHeaderKey
// still normalizes it correctly since it follows the same dash-separated
// token casing rule.
const headerRequestID = "X-Request-Id"

// writeFailResponse is used only for the handful of failures that occur
// before a Request/Response pair even exists (an unparsable request
// line or header block), so it writes the wire bytes directly rather
// than through a Response.
func writeFailResponse(bw *bufio.Writer, code int, proto string) {
	if proto == "" {
		proto = proto11
	}
	msg := StatusText(code)
	bw.WriteString(proto)
	bw.WriteString(" ")
	bw.WriteString(strconv.Itoa(code))
	bw.WriteString(" ")
	bw.WriteString(msg)
	bw.WriteString("\r\n")
	bw.WriteString(hdr.ContentType)
	bw.WriteString(": text/plain; charset=utf-8\r\n")
	bw.WriteString(hdr.Connection)
	bw.WriteString(": close\r\n\r\n")
	bw.WriteString(msg)
	bw.Flush()
}
