package reactor

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/thorsanvil/nisse/jobqueue"
	"github.com/thorsanvil/nisse/task"
	"github.com/thorsanvil/nisse/timer"
)

// reschedule is a marker StateUpdate: it changes nothing in the Store, but
// tells Run to re-enqueue tok once the current Drain finishes. It backs
// task.WaitMore, which a SharedAux waiter yields to mean "wake me again
// only after the Store has processed pending updates" (spec §3/§5's FIFO
// ordering guarantee for shared descriptors).
type reschedule struct {
	tok jobqueue.Token
}

func (reschedule) apply(*Store) {}

// Reactor is the single-threaded event loop tying the Backend, Store,
// JobQueue and timer Wheel together, grounded on
// _examples/original_source/NisseServer/EventHandler.h's run loop: drain
// pending state changes, poll for readiness bounded by the next timer,
// dispatch, fire expired timers, repeat.
type Reactor struct {
	backend Backend
	store   *Store
	jobs    *jobqueue.JobQueue
	wheel   *timer.Wheel
	log     *logrus.Entry

	mu      sync.Mutex
	soft    bool
	hard    bool
	stopped chan struct{}
}

// New creates a Reactor. jobs' OnYield callback must be wired with
// (*Reactor).OnYield before Run is called; see cmd/nisse-example for the
// wiring order this requires.
func New(backend Backend, store *Store, jobs *jobqueue.JobQueue, wheel *timer.Wheel, log *logrus.Entry) *Reactor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Reactor{
		backend: backend,
		store:   store,
		jobs:    jobs,
		wheel:   wheel,
		log:     log.WithField("component", "reactor"),
		stopped: make(chan struct{}),
	}
}

// Store returns the reactor's Store, e.g. for /metrics registration.
func (r *Reactor) Store() *Store { return r.store }

// IsFeatureEnabled reports whether the backend can deliver readiness for a
// resource class (spec §9, "can regular files report readiness").
func (r *Reactor) IsFeatureEnabled(feature Feature) bool {
	return r.backend.IsFeatureEnabled(feature)
}

// AddListener registers an accept task for the listening descriptor fd
// with the Store and arms read interest on it.
func (r *Reactor) AddListener(fd int32, onAccept func(fd int32, self func() *task.Task) task.Body) error {
	rec := &Listener{FD: Key(fd), OnAccept: onAccept}
	rec.Task = task.New(func(y *task.Yielder) {
		acceptLoop(r, rec, y)
	})
	r.store.Enqueue(CreateListener{Record: rec})
	if err := r.backend.Add(fd, InterestRead); err != nil {
		return err
	}
	r.jobs.Enqueue(jobqueue.Token{Resumable: rec.Task, FD: fd})
	return nil
}

// acceptLoop is the accept task's Body: it accepts connections until the
// listening socket would block, then suspends on WantRead so the reactor
// resumes it the next time the listener is readable.
func acceptLoop(r *Reactor, l *Listener, y *task.Yielder) {
	for {
		connFD, wouldBlock, err := AcceptOne(int32(l.FD))
		if err != nil {
			y.Fail(err)
			return
		}
		if wouldBlock {
			y.Suspend(task.WantRead)
			continue
		}
		r.addAcceptedConnection(connFD, l.OnAccept)
	}
}

func (r *Reactor) addAcceptedConnection(fd int32, onAccept func(fd int32, self func() *task.Task) task.Body) {
	var self *task.Task
	body := onAccept(fd, func() *task.Task { return self })
	self = task.New(body)
	rec := &Connection{FD: Key(fd), Task: self}
	r.store.Enqueue(CreateConnection{Record: rec})
	if err := r.backend.Add(fd, InterestRead); err != nil {
		r.log.WithError(err).WithField("fd", fd).Warn("failed to register accepted connection")
		return
	}
	r.jobs.Enqueue(jobqueue.Token{Resumable: rec.Task, FD: fd})
}

// AddConnection registers an already-open, non-blocking descriptor (e.g. a
// dialed upstream socket) as a Connection with its own task, independent
// of AddListener's accept path.
func (r *Reactor) AddConnection(fd int32, bodyFactory func(self func() *task.Task) task.Body) error {
	var self *task.Task
	body := bodyFactory(func() *task.Task { return self })
	self = task.New(body)
	rec := &Connection{FD: Key(fd), Task: self}
	r.store.Enqueue(CreateConnection{Record: rec})
	if err := r.backend.Add(fd, InterestRead); err != nil {
		return err
	}
	r.jobs.Enqueue(jobqueue.Token{Resumable: self, FD: fd})
	return nil
}

// AddOwnedAux registers fd as a subordinate of owner: its readiness
// resumes owner's task rather than spawning a task of its own.
func (r *Reactor) AddOwnedAux(fd int32, interest Interest, owner *task.Task) error {
	r.store.Enqueue(CreateOwnedAux{Record: &OwnedAux{FD: Key(fd), Owner: owner}})
	return r.backend.Add(fd, interest)
}

// AddSharedAux registers fd as a descriptor shared across connections.
func (r *Reactor) AddSharedAux(fd int32) error {
	r.store.Enqueue(CreateSharedAux{Record: &SharedAux{FD: Key(fd)}})
	return r.backend.Add(fd, 0)
}

// RemoveSharedAux tears down a shared descriptor's registration.
func (r *Reactor) RemoveSharedAux(fd int32) error {
	r.store.Enqueue(Remove{FD: Key(fd)})
	return r.backend.Remove(fd)
}

// AddTimer schedules fn to run once after d on the reactor thread.
func (r *Reactor) AddTimer(d time.Duration, fn func(timer.ID)) timer.ID {
	return r.wheel.Add(d, fn)
}

// RemoveTimer cancels a pending timer.
func (r *Reactor) RemoveTimer(id timer.ID) {
	r.wheel.Remove(id)
}

// OnYield is the JobQueue callback. It never touches the Store's record
// table directly (that would race with the reactor thread's own
// Drain/dispatch); every record change is enqueued for the reactor thread
// to apply on its next iteration. For Done it additionally removes the
// descriptor from the Backend and closes it right away, on the worker's
// goroutine.
func (r *Reactor) OnYield(tok jobqueue.Token, kind task.YieldKind) {
	switch kind {
	case task.WantRead:
		r.store.Enqueue(RestoreRead{FD: Key(tok.FD)})
	case task.WantWrite:
		r.store.Enqueue(RestoreWrite{FD: Key(tok.FD)})
	case task.WaitMore:
		r.store.Enqueue(reschedule{tok: tok})
	case task.Done:
		r.store.Enqueue(Remove{FD: Key(tok.FD)})
		if err := r.backend.Remove(tok.FD); err != nil {
			r.log.WithError(err).WithField("fd", tok.FD).Debug("backend remove failed (already gone)")
		}
		CloseFD(tok.FD)
	}
}

// Run drives the reactor loop until StopSoft or StopHard is called. notice,
// if non-nil, is invoked once the loop has started polling (useful for
// tests that need to know the reactor is up before dialing it).
func (r *Reactor) Run(notice func()) error {
	defer close(r.stopped)
	if notice != nil {
		notice()
	}
	for {
		if r.isHardStopped() {
			return nil
		}

		batch := r.store.Drain()
		r.applyBatch(batch)

		if r.isSoftStopped() && r.store.OpenConnections() == 0 {
			return nil
		}

		timeout := r.pollTimeout()
		events, err := r.backend.Wait(timeout)
		if err != nil {
			return err
		}
		for _, ev := range events {
			r.handleEvent(ev)
		}

		r.wheel.FireExpired(time.Now())
	}
}

// applyBatch performs the Backend-facing side effects of a drained
// update batch: re-arming descriptors the task asked to be rewoken on,
// and re-enqueueing WaitMore waiters.
func (r *Reactor) applyBatch(batch []StateUpdate) {
	for _, u := range batch {
		switch v := u.(type) {
		case RestoreRead:
			if err := r.backend.Modify(int32(v.FD), InterestRead); err != nil {
				r.log.WithError(err).WithField("fd", v.FD).Debug("re-arm read failed")
			}
		case RestoreWrite:
			if err := r.backend.Modify(int32(v.FD), InterestWrite); err != nil {
				r.log.WithError(err).WithField("fd", v.FD).Debug("re-arm write failed")
			}
		case reschedule:
			r.jobs.Enqueue(v.tok)
		}
	}
}

// handleEvent looks up the record for a ready descriptor, disarms its
// interest so the reactor doesn't redeliver the same readiness before the
// task re-arms it, and resumes the appropriate task.
func (r *Reactor) handleEvent(ev Event) {
	rec, ok := r.store.Get(Key(ev.FD))
	if !ok {
		return
	}
	if err := r.backend.Modify(ev.FD, 0); err != nil {
		r.log.WithError(err).WithField("fd", ev.FD).Debug("disarm failed")
	}

	switch v := rec.(type) {
	case *Listener:
		if r.isSoftStopped() {
			// spec §5: a soft stop initiates no new accepts. Leaving the
			// listener disarmed (never re-enqueued) means its accept task
			// simply never runs again, so it stops contributing to
			// OpenConnections() and Run's drain-to-zero exit condition.
			return
		}
		r.jobs.Enqueue(jobqueue.Token{Resumable: v.Task, FD: ev.FD})
	case *Connection:
		r.jobs.Enqueue(jobqueue.Token{Resumable: v.Task, FD: ev.FD})
	case *OwnedAux:
		r.jobs.Enqueue(jobqueue.Token{Resumable: v.Owner, FD: ev.FD})
	case *SharedAux:
		if ev.Interest&InterestRead != 0 && len(v.ReadWaiters) > 0 {
			t := v.ReadWaiters[0]
			v.ReadWaiters = v.ReadWaiters[1:]
			r.jobs.Enqueue(jobqueue.Token{Resumable: t, FD: ev.FD})
		}
		if ev.Interest&InterestWrite != 0 && len(v.WriteWaiters) > 0 {
			t := v.WriteWaiters[0]
			v.WriteWaiters = v.WriteWaiters[1:]
			r.jobs.Enqueue(jobqueue.Token{Resumable: t, FD: ev.FD})
		}
	}
}

// pollTimeout bounds the kernel wait by the next timer deadline, per spec
// §4.1's requirement that timers fire promptly even with no socket
// activity. 0 (poll forever) is returned when no timer is pending and the
// reactor isn't in a soft-stop drain.
func (r *Reactor) pollTimeout() time.Duration {
	deadline, ok := r.wheel.NextDeadline()
	if !ok {
		if r.isSoftStopped() {
			return 200 * time.Millisecond
		}
		return 0
	}
	d := time.Until(deadline)
	if d <= 0 {
		// Already due: keep the timeout positive, since 0 means wait
		// indefinitely.
		d = time.Nanosecond
	}
	return d
}

// StopSoft stops accepting new work once current connections drain, then
// waits for the loop and the JobQueue to finish.
func (r *Reactor) StopSoft() error {
	r.mu.Lock()
	r.soft = true
	r.mu.Unlock()
	r.backend.Wake()
	<-r.stopped
	return r.jobs.StopSoft()
}

// StopHard stops the loop immediately, abandoning outstanding work.
func (r *Reactor) StopHard() error {
	r.mu.Lock()
	r.hard = true
	r.mu.Unlock()
	r.backend.Wake()
	<-r.stopped
	return r.jobs.StopHard()
}

func (r *Reactor) isSoftStopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.soft
}

func (r *Reactor) isHardStopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hard
}
