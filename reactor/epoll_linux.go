//go:build linux

package reactor

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// epollBackend is the production Backend, grounded on
// golang.org/x/sys/unix's raw epoll bindings (the same package
// rockstar-0000-aistore pulls in for low-level syscall access). Regular
// files never report readiness under epoll, so FeatureFileReadWrite is
// always false (§9 Open Question 3) and callers must read files
// synchronously off a JobQueue worker instead of registering them here.
type epollBackend struct {
	epfd   int
	wakeFD int

	mu        sync.Mutex
	interests map[int32]Interest
}

// NewEpollBackend creates an epoll instance via epoll_create1, plus an
// eventfd registered for read-readiness so Wake can interrupt a blocked
// Wait call.
func NewEpollBackend() (Backend, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wfd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	b := &epollBackend{epfd: fd, wakeFD: wfd, interests: make(map[int32]Interest)}
	if err := unix.EpollCtl(fd, unix.EPOLL_CTL_ADD, wfd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(wfd),
	}); err != nil {
		unix.Close(wfd)
		unix.Close(fd)
		return nil, err
	}
	return b, nil
}

// Wake writes to the eventfd so a blocked EpollWait returns immediately.
func (b *epollBackend) Wake() error {
	buf := make([]byte, 8)
	buf[0] = 1
	_, err := unix.Write(b.wakeFD, buf)
	return err
}

func toEpollEvents(interest Interest) uint32 {
	var ev uint32
	if interest&InterestRead != 0 {
		ev |= unix.EPOLLIN
	}
	if interest&InterestWrite != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (b *epollBackend) Add(fd int32, interest Interest) error {
	b.mu.Lock()
	b.interests[fd] = interest
	b.mu.Unlock()
	return unix.EpollCtl(b.epfd, unix.EPOLL_CTL_ADD, int(fd), &unix.EpollEvent{
		Events: toEpollEvents(interest),
		Fd:     fd,
	})
}

func (b *epollBackend) Modify(fd int32, interest Interest) error {
	b.mu.Lock()
	b.interests[fd] = interest
	b.mu.Unlock()
	return unix.EpollCtl(b.epfd, unix.EPOLL_CTL_MOD, int(fd), &unix.EpollEvent{
		Events: toEpollEvents(interest),
		Fd:     fd,
	})
}

func (b *epollBackend) Remove(fd int32) error {
	b.mu.Lock()
	delete(b.interests, fd)
	b.mu.Unlock()
	// Kernels older than 2.6.9 require a non-nil event pointer even for
	// EPOLL_CTL_DEL; pass a zero value for portability.
	return unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, int(fd), &unix.EpollEvent{})
}

func (b *epollBackend) Wait(timeout time.Duration) ([]Event, error) {
	ms := -1
	if timeout > 0 {
		ms = int(timeout / time.Millisecond)
		if ms == 0 {
			ms = 1
		}
	}
	raw := make([]unix.EpollEvent, 128)
	n, err := unix.EpollWait(b.epfd, raw, ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		if int(raw[i].Fd) == b.wakeFD {
			drain := make([]byte, 8)
			unix.Read(b.wakeFD, drain)
			continue
		}
		var interest Interest
		if raw[i].Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			interest |= InterestRead
		}
		if raw[i].Events&unix.EPOLLOUT != 0 {
			interest |= InterestWrite
		}
		out = append(out, Event{FD: raw[i].Fd, Interest: interest})
	}
	return out, nil
}

func (b *epollBackend) IsFeatureEnabled(feature Feature) bool {
	switch feature {
	case FeatureFileReadWrite:
		return false
	default:
		return false
	}
}

func (b *epollBackend) Close() error {
	unix.Close(b.wakeFD)
	return unix.Close(b.epfd)
}
