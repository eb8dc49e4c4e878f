//go:build linux

package dispatch_test

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/thorsanvil/nisse/dispatch"
	"github.com/thorsanvil/nisse/nctx"
	"github.com/thorsanvil/nisse/pathmatch"
	"github.com/thorsanvil/nisse/reactor"
	"github.com/thorsanvil/nisse/task"
	"github.com/thorsanvil/nisse/timer"
)

// serveOverSocketpair runs d.Serve against one end of a blocking AF_UNIX
// socketpair, inside a real task.Task body exactly as the reactor would
// drive it, and hands the caller the other end to write a request into
// and read a response out of. wait blocks until Serve returns at
// connection close (peer EOF).
func serveOverSocketpair(t *testing.T, d *dispatch.Dispatcher) (client *os.File, wait func()) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)

	store := reactor.NewStore()
	wheel := timer.NewWheel()

	done := make(chan struct{})
	var tk *task.Task
	tk = task.New(func(y *task.Yielder) {
		ctx := nctx.New(int32(fds[0]), func() *task.Task { return tk }, y, store, wheel, func(reactor.Feature) bool { return false })
		d.Serve(ctx)
	})
	go func() {
		tk.Resume()
		close(done)
	}()

	client = os.NewFile(uintptr(fds[1]), "client")
	return client, func() { <-done }
}

func TestServeSimpleGet(t *testing.T) {
	matcher := &pathmatch.Matcher{}
	d := dispatch.New(matcher, nil)
	require.NoError(t, d.Handle(pathmatch.Method("GET"), "/hello/{who}", func(req *dispatch.Request, resp *dispatch.Response) bool {
		body := []byte("Hello, " + req.Variables["who"] + "!")
		resp.Header.Set("Content-Length", strconv.Itoa(len(body)))
		resp.Write(body)
		return true
	}, nil))

	client, wait := serveOverSocketpair(t, d)
	_, err := client.Write([]byte("GET /hello/world HTTP/1.1\r\nHost: x\r\n\r\n"))
	require.NoError(t, err)

	br := bufio.NewReader(client)
	line, err := br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 200 OK\r\n", line)

	body := readHeadersAndBody(t, br)
	assert.Equal(t, "Hello, world!", body)

	client.Close()
	wait()
}

func TestServeSimpleGetDefaultsToChunkedWithoutContentLength(t *testing.T) {
	matcher := &pathmatch.Matcher{}
	d := dispatch.New(matcher, nil)
	require.NoError(t, d.Handle(pathmatch.Method("GET"), "/hello/{who}", func(req *dispatch.Request, resp *dispatch.Response) bool {
		resp.Write([]byte("Hello, " + req.Variables["who"] + "!"))
		return true
	}, nil))

	client, wait := serveOverSocketpair(t, d)
	_, err := client.Write([]byte("GET /hello/world HTTP/1.1\r\nHost: x\r\n\r\n"))
	require.NoError(t, err)

	br := bufio.NewReader(client)
	line, err := br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 200 OK\r\n", line)

	h := readHeaders(t, br)
	assert.Equal(t, "chunked", h["Transfer-Encoding"])

	body := readChunkedBody(t, br)
	assert.Equal(t, "Hello, world!", body)

	client.Close()
	wait()
}

func TestServeChunkedEcho(t *testing.T) {
	matcher := &pathmatch.Matcher{}
	d := dispatch.New(matcher, nil)
	require.NoError(t, d.Handle(pathmatch.Method("POST"), "/echo", func(req *dispatch.Request, resp *dispatch.Response) bool {
		raw, err := req.Body.PreloadIntoBuffer()
		if err != nil {
			return false
		}
		resp.UseChunkedOutput()
		resp.Write(raw)
		return true
	}, nil))

	client, wait := serveOverSocketpair(t, d)
	req := "POST /echo HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"3\r\nabc\r\n5\r\ndefgh\r\n0\r\n\r\n"
	_, err := client.Write([]byte(req))
	require.NoError(t, err)

	br := bufio.NewReader(client)
	line, err := br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 200 OK\r\n", line)

	h := readHeaders(t, br)
	assert.Equal(t, "chunked", h["Transfer-Encoding"])

	body := readChunkedBody(t, br)
	assert.Equal(t, "abcdefgh", body)

	client.Close()
	wait()
}

func readHeaders(t *testing.T, br *bufio.Reader) map[string]string {
	t.Helper()
	headers := make(map[string]string)
	for {
		line, err := br.ReadString('\n')
		require.NoError(t, err)
		if line == "\r\n" {
			return headers
		}
		for i := 0; i < len(line); i++ {
			if line[i] == ':' {
				headers[line[:i]] = line[i+2 : len(line)-2]
				break
			}
		}
	}
}

func readHeadersAndBody(t *testing.T, br *bufio.Reader) string {
	t.Helper()
	headers := readHeaders(t, br)
	n := 0
	if cl, ok := headers["Content-Length"]; ok {
		for _, c := range cl {
			n = n*10 + int(c-'0')
		}
	}
	buf := make([]byte, n)
	_, err := io.ReadFull(br, buf)
	require.NoError(t, err)
	return string(buf)
}

func readChunkedBody(t *testing.T, br *bufio.Reader) string {
	t.Helper()
	var out []byte
	for {
		sizeLine, err := br.ReadString('\n')
		require.NoError(t, err)
		size := 0
		for _, c := range sizeLine[:len(sizeLine)-2] {
			switch {
			case c >= '0' && c <= '9':
				size = size*16 + int(c-'0')
			case c >= 'a' && c <= 'f':
				size = size*16 + int(c-'a') + 10
			case c >= 'A' && c <= 'F':
				size = size*16 + int(c-'A') + 10
			}
		}
		if size == 0 {
			br.ReadString('\n')
			return string(out)
		}
		chunk := make([]byte, size+2)
		_, err = io.ReadFull(br, chunk)
		require.NoError(t, err)
		out = append(out, chunk[:size]...)
	}
}
