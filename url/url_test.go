package url_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/thorsanvil/nisse/url"
)

func TestParsePathnameAndQueryParams(t *testing.T) {
	u, err := url.Parse("/hello/world%20there?name=gopher&name=again&empty")
	require.NoError(t, err)
	require.Equal(t, "/hello/world there", u.Pathname())

	params := u.Params()
	require.Equal(t, []string{"gopher", "again"}, params["name"])
	require.True(t, params.Has("empty"))
	require.Equal(t, "", params.Get("empty"))
}

func TestParsePlusNotDecodedInPath(t *testing.T) {
	u, err := url.Parse("/a+b/c")
	require.NoError(t, err)
	require.Equal(t, "/a+b/c", u.Pathname())
}

func TestParseQueryPlusDecodedToSpace(t *testing.T) {
	values, err := url.ParseQuery("q=a+b&x=c")
	require.NoError(t, err)
	require.Equal(t, "a b", values.Get("q"))
	require.Equal(t, "c", values.Get("x"))
}

func TestParseQueryRejectsBadEscape(t *testing.T) {
	_, err := url.ParseQuery("q=%zz")
	require.Error(t, err)
}

func TestValuesSetAddDel(t *testing.T) {
	v := url.Values{}
	v.Add("k", "a")
	v.Add("k", "b")
	require.Equal(t, []string{"a", "b"}, v["k"])

	v.Set("k", "only")
	require.Equal(t, []string{"only"}, v["k"])

	v.Del("k")
	require.False(t, v.Has("k"))
}

func TestURLOriginAndProtocol(t *testing.T) {
	u, err := url.Parse("https://example.com/path?x=1#frag")
	require.NoError(t, err)
	require.Equal(t, "https:", u.Protocol())
	require.Equal(t, "https://example.com", u.Origin())
	require.Equal(t, "#frag", u.Hash())
	require.Equal(t, "?x=1", u.QueryString())
}

func TestPathUnescapeDoesNotDecodePlus(t *testing.T) {
	decoded, err := url.PathUnescape("a+b%2Fc")
	require.NoError(t, err)
	require.Equal(t, "a+b/c", decoded)
}
