//go:build linux

// socket_linux.go wraps the raw, non-blocking socket primitives the
// reactor registers with epoll directly, bypassing net.Listener/net.Conn
// (whose blocking-looking API hides its own, separate netpoller). This is
// the Go analogue of the ThorsSocket::Server / ThorsSocket::SocketStream
// abstraction referenced throughout
// _examples/original_source/NisseServer/Store.h — a thin, non-blocking
// socket handle the reactor owns directly instead of handing socket
// lifecycle to the standard library's own event loop.
package reactor

import (
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// ListenTCP creates a non-blocking, listening IPv4/IPv6 TCP socket bound
// to addr ("host:port") and returns its raw file descriptor.
func ListenTCP(addr string) (int32, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, err
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return 0, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return 0, err
	}

	var ip [4]byte
	if host != "" {
		parsed := net.ParseIP(host).To4()
		if parsed == nil {
			unix.Close(fd)
			return 0, unix.EINVAL
		}
		copy(ip[:], parsed)
	}
	sa := &unix.SockaddrInet4{Port: port, Addr: ip}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return 0, err
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return 0, err
	}
	return int32(fd), nil
}

// AcceptOne performs one non-blocking accept4 call. wouldBlock is true when
// there is no pending connection right now (EAGAIN/EWOULDBLOCK); the
// accept task's loop should yield WantRead in that case.
func AcceptOne(listenFD int32) (connFD int32, wouldBlock bool, err error) {
	fd, _, err := unix.Accept4(int(listenFD), unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, true, nil
		}
		return 0, false, err
	}
	return int32(fd), false, nil
}

// CloseFD closes a raw descriptor.
func CloseFD(fd int32) error {
	return unix.Close(fd)
}
