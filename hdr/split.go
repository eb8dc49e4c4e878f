package hdr

import "strings"

// singleValued holds the headers that must never carry more than one
// semantic value; a second, non-equal occurrence is a framing error the
// caller should reject rather than silently accept.
var singleValued = map[string]bool{
	ContentLength: true,
	Host:          true,
}

// IsSingleValued reports whether key (already canonical) must have at most
// one value.
func IsSingleValued(key string) bool {
	return singleValued[key]
}

// AddSplit adds value to key, splitting on every comma first, matching
// the wire rule that a comma-separated single-line header value is
// equivalent to repeating the header with one value per line.
func (h Header) AddSplit(key, value string) {
	key = CanonicalHeaderKey(key)
	for _, part := range strings.Split(value, ",") {
		h[key] = append(h[key], TrimString(part))
	}
}
