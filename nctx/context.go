// Package nctx is the per-task handle a Body gets passed: the read/write
// byte stream for its descriptor, plus the ability to register additional
// descriptors (owned or shared) and timers without ever touching the
// reactor's Store or Backend directly. It is the Go analogue of
// _examples/original_source/NisseServer/ActionContext.h, which plays the
// same role for the C++ implementation's coroutine bodies.
package nctx

import (
	"time"

	"github.com/thorsanvil/nisse/reactor"
	"github.com/thorsanvil/nisse/task"
	"github.com/thorsanvil/nisse/timer"
)

// Context is handed to every task Body. It is only ever touched by the
// single worker currently running that task's Resume, so it needs no
// locking of its own.
type Context struct {
	FD       int32
	self     func() *task.Task
	y        *task.Yielder
	store    *reactor.Store
	wheel    *timer.Wheel
	features func(reactor.Feature) bool

	Conn *Conn

	// ConnID is an optional caller-assigned correlation id (e.g. a UUID
	// stamped at accept time) carried through to the Dispatcher's
	// Request.ConnID field. Empty unless a caller sets it.
	ConnID string
}

// New builds a Context around fd, wiring up its non-blocking byte stream.
// self resolves to the Task this Context's body is running as; it is
// resolved lazily (the Task doesn't exist yet at the point the reactor
// asks for this Context's body) so RegisterOwned must only call it once
// the task is actually running. features reports whether the reactor's
// backend can deliver readiness events for a given resource class.
func New(fd int32, self func() *task.Task, y *task.Yielder, store *reactor.Store, wheel *timer.Wheel, features func(reactor.Feature) bool) *Context {
	c := &Context{FD: fd, self: self, y: y, store: store, wheel: wheel, features: features}
	c.Conn = &Conn{fd: fd, y: y}
	return c
}

// Yielder exposes the low-level suspend handle for adapters (StreamCodec)
// that need to suspend on something other than Conn's own read/write path.
func (c *Context) Yielder() *task.Yielder { return c.y }

// RegisterOwned enqueues an OwnedAux record marking fd as a subordinate
// descriptor of this task, so a readiness event the reactor delivers for
// fd resumes this same task. It does not add fd to the reactor's Backend,
// and interest is not used. release enqueues removal of the record;
// callers must invoke it once they're done with fd.
func (c *Context) RegisterOwned(fd int32, interest reactor.Interest) (release func()) {
	c.store.Enqueue(reactor.CreateOwnedAux{Record: &reactor.OwnedAux{FD: reactor.Key(fd), Owner: c.self()}})
	return func() {
		c.store.Enqueue(reactor.Remove{FD: reactor.Key(fd)})
	}
}

// RegisterShared registers fd as a descriptor shared across connections
// with its own FIFO read/write waiter queues.
func (c *Context) RegisterShared(fd int32) (release func()) {
	c.store.Enqueue(reactor.CreateSharedAux{Record: &reactor.SharedAux{FD: reactor.Key(fd)}})
	return func() {
		c.store.Enqueue(reactor.Remove{FD: reactor.Key(fd)})
	}
}

// IsFeatureEnabled reports whether the reactor's backend can deliver
// readiness events for a given resource class (spec §9, file readiness).
func (c *Context) IsFeatureEnabled(feature reactor.Feature) bool {
	if c.features == nil {
		return false
	}
	return c.features(feature)
}

// AddTimer schedules fn to run once after d, returning an ID usable with
// RemoveTimer.
func (c *Context) AddTimer(d time.Duration, fn func(timer.ID)) timer.ID {
	return c.wheel.Add(d, fn)
}

// RemoveTimer cancels a pending timer.
func (c *Context) RemoveTimer(id timer.ID) {
	c.wheel.Remove(id)
}
