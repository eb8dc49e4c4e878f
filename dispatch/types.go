// Package dispatch implements the per-connection request/response cycle:
// the domain Request/Response types and the Dispatcher state machine that
// turns bytes off the wire into a handler call and a response back,
// grounded on the teacher's conn.go serve loop and
// _examples/original_source/NisseHTTP/PyntHTTP.h / HTTPHandler.h's
// processRequest.
package dispatch

import (
	"bufio"
	"errors"
	"strconv"

	"github.com/thorsanvil/nisse/hdr"
	"github.com/thorsanvil/nisse/nctx"
	"github.com/thorsanvil/nisse/pathmatch"
	"github.com/thorsanvil/nisse/streamcodec"
	nurl "github.com/thorsanvil/nisse/url"
)

// Variables is the merged set of query, path-capture, and (for form
// submissions) body parameters available to a handler, per spec §4.10
// step 3's precedence: query, then path captures, then body.
type Variables = pathmatch.Variables

// Request is built fresh for every request a connection serves.
type Request struct {
	Method    string
	Target    string
	URL       *nurl.URL
	Proto     string
	Header    hdr.Header
	Body      *streamcodec.BodyReader
	Variables Variables
	ConnID    string
	Ctx       *nctx.Context
}

// Response accumulates a handler's reply and streams it to the wire as
// the handler writes, grounded on
// _examples/original_source/NisseHTTP/Response.h's headerSent latch and
// sendHeaderIfNotSent(): status and headers are mutable only until the
// first byte reaches the wire, at which point they are frozen and the
// body writer takes over. Exactly one of three triggers fires that
// transition: the handler's first Write, an explicit Flush, or the
// Dispatcher finishing the request with nothing ever written (the Go
// stand-in for the original's destructor-triggered flush).
type Response struct {
	StatusCode int
	Header     hdr.Header

	bw         *bufio.Writer
	proto      string
	wroteCode  bool
	headerSent bool
	chunked    bool
	cw         *streamcodec.BodyWriter
}

// newResponse returns a Response with an empty header map and no status
// set yet (the Dispatcher defaults to 200 per spec §4.10 step 7). bw is
// the connection's buffered writer and proto the request's HTTP version,
// both needed so headers can be emitted the moment the latch fires rather
// than only after the handler returns.
func newResponse(bw *bufio.Writer, proto string) *Response {
	return &Response{Header: make(hdr.Header), bw: bw, proto: proto}
}

// WriteHeader sets the status code for the response. The first call wins;
// subsequent calls are no-ops, matching net/http's ResponseWriter contract
// the teacher follows.
func (r *Response) WriteHeader(code int) {
	if r.wroteCode {
		return
	}
	r.StatusCode = code
	r.wroteCode = true
}

// Write sends p to the wire, triggering the one-time header emission on
// the first call. If the handler never set an explicit Content-Length and
// did not request chunked output, framing defaults to chunked so the
// handler can stream without knowing the total length up front.
func (r *Response) Write(p []byte) (int, error) {
	if !r.wroteCode {
		r.WriteHeader(StatusOK)
	}
	if !r.headerSent {
		if err := r.sendHeader(); err != nil {
			return 0, err
		}
	}
	if r.cw == nil {
		// Status forbids a body (e.g. 204/304/1xx); discard silently,
		// matching net/http's ResponseWriter behavior for the same case.
		return len(p), nil
	}
	return r.cw.Write(p)
}

// Flush is an explicit trigger for the one-time header emission (spec
// §56's "on explicit flush"), useful to a handler that wants headers on
// the wire before it has any body bytes ready.
func (r *Response) Flush() error {
	if !r.wroteCode {
		r.WriteHeader(StatusOK)
	}
	if !r.headerSent {
		if err := r.sendHeader(); err != nil {
			return err
		}
	}
	if r.cw != nil {
		return r.cw.Flush()
	}
	return r.bw.Flush()
}

// UseChunkedOutput marks the response to be framed as chunked rather than
// Content-Length-delimited when headers are sent (spec §8 scenario 2,
// "chunked echo"). Must be called before the first Write/Flush.
func (r *Response) UseChunkedOutput() {
	r.chunked = true
}

// Error is the convenience constructor supplemented from
// NisseHTTP/Response.h's error(code, message): it sets the status, plain
// text body, and Content-Type in one call. It declares the message length
// as Content-Length, so the reply is length-delimited unless
// UseChunkedOutput was called earlier. Once headers have been sent (the
// handler already wrote or flushed), status and headers no longer change
// and message is only written into the existing body.
func (r *Response) Error(code int, message string) {
	r.Header.Set(hdr.ContentType, "text/plain; charset=utf-8")
	r.Header.Set(hdr.ContentLength, strconv.Itoa(len(message)))
	r.WriteHeader(code)
	r.Write([]byte(message))
}

// sendHeader is the latch: the first and only time status line, headers,
// and the framing choice reach the wire. It also constructs the body
// writer subsequent Write calls stream through.
func (r *Response) sendHeader() error {
	r.headerSent = true

	allowBody := bodyAllowedForStatus(r.StatusCode)
	framing := streamcodec.LengthDelimited
	var declaredLength int64

	if !allowBody {
		r.Header.Del(hdr.ContentLength)
		r.Header.Del(hdr.TransferEncoding)
	} else if r.chunked {
		r.Header.Del(hdr.ContentLength)
		r.Header.Set(hdr.TransferEncoding, "chunked")
		framing = streamcodec.Chunked
	} else if cl := r.Header.Get(hdr.ContentLength); cl != "" {
		n, err := strconv.ParseInt(cl, 10, 64)
		if err != nil || n < 0 {
			return errors.New("dispatch: invalid Content-Length set on response")
		}
		declaredLength = n
	} else {
		// Length unknown at the point headers must go out: default to
		// chunked so the handler can keep streaming, the same fallback
		// net/http's ResponseWriter uses for an undeclared HTTP/1.1 body.
		r.Header.Set(hdr.TransferEncoding, "chunked")
		framing = streamcodec.Chunked
	}

	r.bw.WriteString(r.proto)
	r.bw.WriteString(" ")
	r.bw.WriteString(strconv.Itoa(r.StatusCode))
	r.bw.WriteString(" ")
	r.bw.WriteString(StatusText(r.StatusCode))
	r.bw.WriteString("\r\n")
	if err := r.Header.Write(r.bw); err != nil {
		return err
	}
	r.bw.WriteString("\r\n")

	if allowBody {
		r.cw = streamcodec.NewBodyWriter(r.bw, framing, declaredLength, nil)
	}
	return nil
}

// finish ensures the header latch has fired (covering a handler that
// wrote nothing at all — the "at destruction" trigger), finalizes the
// body writer (chunk terminator, or a short-write check for a declared
// Content-Length), and flushes the underlying connection writer.
func (r *Response) finish() error {
	if !r.wroteCode {
		r.WriteHeader(StatusOK)
	}
	if !r.headerSent {
		if err := r.sendHeader(); err != nil {
			return err
		}
	}
	if r.cw != nil {
		if err := r.cw.Close(); err != nil {
			return err
		}
	}
	return r.bw.Flush()
}
