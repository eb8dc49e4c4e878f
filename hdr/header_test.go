package hdr_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/thorsanvil/nisse/hdr"
)

func TestCanonicalHeaderKey(t *testing.T) {
	require.Equal(t, "Content-Type", hdr.CanonicalHeaderKey("content-type"))
	require.Equal(t, "X-Request-Id", hdr.CanonicalHeaderKey("x-request-id"))
	require.Equal(t, "Accept-Encoding", hdr.CanonicalHeaderKey("ACCEPT-ENCODING"))
}

func TestHeaderSetGetAdd(t *testing.T) {
	h := hdr.Header{}
	h.Set("content-type", "text/plain")
	require.Equal(t, "text/plain", h.Get("Content-Type"))

	h.Add("X-Tag", "a")
	h.Add("x-tag", "b")
	require.Equal(t, []string{"a", "b"}, h["X-Tag"])

	h.Del("X-Tag")
	require.Equal(t, "", h.Get("X-Tag"))
}

func TestHeaderGetMissingOnNilHeader(t *testing.T) {
	var h hdr.Header
	require.Equal(t, "", h.Get("Anything"))
}

func TestHeaderWriteFormatsWireFormat(t *testing.T) {
	h := hdr.Header{}
	h.Set("Content-Type", "text/plain")
	h.Set("Content-Length", "5")

	var buf strings.Builder
	require.NoError(t, h.Write(&buf))

	out := buf.String()
	require.Contains(t, out, "Content-Type: text/plain\r\n")
	require.Contains(t, out, "Content-Length: 5\r\n")
}

func TestHeaderCloneIsIndependent(t *testing.T) {
	h := hdr.Header{}
	h.Set("X-A", "1")
	clone := h.Clone()
	clone.Set("X-A", "2")

	require.Equal(t, "1", h.Get("X-A"))
	require.Equal(t, "2", clone.Get("X-A"))
}

func TestTrimString(t *testing.T) {
	require.Equal(t, "value", hdr.TrimString("  value  "))
}

func TestValidHeaderFieldName(t *testing.T) {
	require.True(t, hdr.ValidHeaderFieldName("Content-Type"))
	require.False(t, hdr.ValidHeaderFieldName(""))
	require.False(t, hdr.ValidHeaderFieldName("bad header"))
}

func TestValidHeaderFieldValueRejectsControlBytes(t *testing.T) {
	require.True(t, hdr.ValidHeaderFieldValue("normal value"))
	require.False(t, hdr.ValidHeaderFieldValue("bad\x00value"))
}
