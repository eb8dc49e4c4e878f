//go:build linux

package nctx

import (
	"io"

	"golang.org/x/sys/unix"

	"github.com/thorsanvil/nisse/task"
)

// Conn is the non-blocking byte stream bound to one raw socket descriptor.
// It is the bottom of the StreamCodec stack (spec §4.5): Read/Write detect
// EAGAIN/EWOULDBLOCK and suspend the owning task via the Yielder rather
// than blocking the worker goroutine that is driving it, so one JobQueue
// worker can service many parked connections.
type Conn struct {
	fd     int32
	y      *task.Yielder
	closed bool
}

// Read implements io.Reader, suspending with WantRead whenever the socket
// has nothing pending. A zero-length, nil-error read signals EOF exactly
// as io.Reader documents.
func (c *Conn) Read(p []byte) (int, error) {
	for {
		n, err := unix.Read(int(c.fd), p)
		if err == nil {
			if n == 0 {
				return 0, io.EOF
			}
			return n, nil
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			c.y.Suspend(task.WantRead)
			continue
		}
		if err == unix.EINTR {
			continue
		}
		return 0, err
	}
}

// Write implements io.Writer, suspending with WantWrite on backpressure.
func (c *Conn) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := unix.Write(int(c.fd), p[written:])
		if err == nil {
			written += n
			continue
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			c.y.Suspend(task.WantWrite)
			continue
		}
		if err == unix.EINTR {
			continue
		}
		return written, err
	}
	return written, nil
}

// Close closes the underlying descriptor. Safe to call more than once.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return unix.Close(int(c.fd))
}
