/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package httpparse parses the request line and header block off the wire
// and determines body framing, grounded on the teacher's
// utils_transfer.go (fixLength / parseContentLength / chunked) and
// _examples/original_source/NisseHTTP/HeaderRequest.h's head/trailer
// split.
package httpparse

import (
	"bufio"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/thorsanvil/nisse/hdr"
	"github.com/thorsanvil/nisse/streamcodec"
)

// maxRequestLineBytes bounds the request line at 8 KiB (spec §8 Boundary
// behaviors).
const maxRequestLineBytes = 8 * 1024

// ParseError is returned for any malformed input the parser rejects; the
// caller maps it to a 4xx response.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string { return "httpparse: " + e.Reason }

func parseErr(reason string) error { return &ParseError{Reason: reason} }

// LineTooLongError is returned by ParseRequestLine when the request line
// exceeds maxRequestLineBytes, so callers can distinguish it from a
// generically malformed request line (spec §8: reject with 414, not 400).
type LineTooLongError struct{}

func (e *LineTooLongError) Error() string { return "httpparse: request line too long" }

// ParseRequestLine reads and splits the request line "METHOD SP target SP
// HTTP/x.y CRLF" off r.
func ParseRequestLine(r *bufio.Reader) (method, target, proto string, err error) {
	line, err := readLimitedLine(r, maxRequestLineBytes)
	if err != nil {
		return "", "", "", err
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return "", "", "", parseErr("malformed request line")
	}
	method, target, proto = parts[0], parts[1], parts[2]
	if !hdr.ValidHeaderFieldName(method) {
		return "", "", "", parseErr("invalid method token")
	}
	if !strings.HasPrefix(proto, "HTTP/") {
		return "", "", "", parseErr("unsupported protocol")
	}
	return method, target, proto, nil
}

func readLimitedLine(r *bufio.Reader, limit int) (string, error) {
	var line []byte
	for {
		frag, err := r.ReadSlice('\n')
		if len(line)+len(frag) > limit {
			return "", &LineTooLongError{}
		}
		line = append(line, frag...)
		if err == bufio.ErrBufferFull {
			continue
		}
		if err != nil {
			return "", err
		}
		return strings.TrimRight(string(line), "\r\n"), nil
	}
}

// ParseHeaders reads the CRLF-terminated header block off r, up to the
// blank line, handling RFC 7230 obs-fold (a header value continued on an
// indented line) by joining it onto the previous value with a single
// space, matching hdr.Header's storage shape.
func ParseHeaders(r *bufio.Reader) (hdr.Header, error) {
	h := make(hdr.Header)
	var lastKey string
	for {
		raw, err := r.ReadSlice('\n')
		if err != nil {
			return nil, err
		}
		line := strings.TrimRight(string(raw), "\r\n")
		if line == "" {
			return h, nil
		}
		if (raw[0] == ' ' || raw[0] == '\t') && lastKey != "" {
			vals := h[lastKey]
			vals[len(vals)-1] = vals[len(vals)-1] + " " + hdr.TrimString(line)
			h[lastKey] = vals
			continue
		}
		i := strings.IndexByte(line, ':')
		if i < 0 {
			return nil, parseErr("malformed header line")
		}
		key := line[:i]
		if !hdr.ValidHeaderFieldName(key) {
			return nil, parseErr("invalid header field name")
		}
		val := hdr.TrimString(line[i+1:])
		if !hdr.ValidHeaderFieldValue(val) {
			return nil, parseErr("invalid header field value")
		}
		key = hdr.CanonicalHeaderKey(key)
		if hdr.IsSingleValued(key) {
			h.Add(key, val)
		} else {
			h.AddSplit(key, val)
		}
		lastKey = key
	}
}

// DetermineFraming decides the body's Framing and declared length from
// Content-Length/Transfer-Encoding, per RFC 7230 §3.3.3 and the teacher's
// fixLength. A message with both a chunked Transfer-Encoding and a
// Content-Length, or multiple differing Content-Length values, is
// rejected outright (request smuggling hardening) rather than guessed at.
func DetermineFraming(h hdr.Header, method string) (streamcodec.Framing, int64, error) {
	te := h.Get(hdr.TransferEncoding)
	isChunked := strings.EqualFold(te, "chunked")

	cls := h[hdr.ContentLength]
	if len(cls) > 1 {
		first := strings.TrimSpace(cls[0])
		for _, v := range cls[1:] {
			if strings.TrimSpace(v) != first {
				return 0, 0, parseErr("conflicting Content-Length values")
			}
		}
	}

	if isChunked {
		if len(cls) > 0 {
			return 0, 0, parseErr("conflicting Content-Length and chunked Transfer-Encoding")
		}
		return streamcodec.Chunked, -1, nil
	}

	if len(cls) == 0 {
		return streamcodec.LengthDelimited, 0, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(cls[0]), 10, 64)
	if err != nil || n < 0 {
		return 0, 0, errors.Wrap(parseErr("invalid Content-Length"), cls[0])
	}
	return streamcodec.LengthDelimited, n, nil
}
