// Package task implements the per-connection cooperative task described by
// the reactor design: a suspendable computation that yields one of
// {WantRead, WantWrite, WaitMore, Done} whenever it cannot make progress,
// and is resumed by a worker pulling a token off the job queue.
//
// A Task is modelled as a goroutine parked on a pair of unbuffered
// channels rather than a stackful fiber. This is the idiomatic Go analogue
// of the coroutine the design calls for: the goroutine's stack plays the
// role the original's boost CoRoutine2 stack played, and the channel
// handshake plays the role of resume()/yield().
package task

import "sync"

// YieldKind is the value a Task produces when Resume returns control to
// its caller.
type YieldKind int

const (
	// WantRead means: re-arm read interest on the task's descriptor and
	// resume when it becomes readable.
	WantRead YieldKind = iota
	// WantWrite means: re-arm write interest and resume when writable.
	WantWrite
	// WaitMore means: resume only after the store has processed pending
	// state updates (used by shared-aux FIFO waiters).
	WaitMore
	// Done means: the task is finished; its record should be torn down.
	Done
)

func (k YieldKind) String() string {
	switch k {
	case WantRead:
		return "WantRead"
	case WantWrite:
		return "WantWrite"
	case WaitMore:
		return "WaitMore"
	case Done:
		return "Done"
	default:
		return "Unknown"
	}
}

// State is a Task's position in the New -> Running -> (Parked -> Running)* -> Done
// state machine.
type State int32

const (
	StateNew State = iota
	StateRunning
	StateParked
	StateDone
)

// Body is the computation a Task runs. It suspends by calling methods on
// the Yielder it is given; returning from Body ends the task (Resume then
// reports Done).
type Body func(y *Yielder)

// Task is a resumable computation bound to one connection or listener.
type Task struct {
	mu       sync.Mutex
	state    State
	started  bool
	resumeCh chan struct{}
	yieldCh  chan YieldKind
	body     Body
	err      error
}

// New creates a parked-but-not-yet-started task around body. The first
// call to Resume starts it.
func New(body Body) *Task {
	return &Task{
		state:    StateNew,
		resumeCh: make(chan struct{}),
		yieldCh:  make(chan YieldKind),
		body:     body,
	}
}

// Resume runs the task until it next yields or finishes. It is called by a
// single JobQueue worker at a time; the contract that only one worker ever
// holds a given task is enforced by the caller (JobQueue / Reactor), not by
// Task itself.
func (t *Task) Resume() YieldKind {
	t.mu.Lock()
	first := !t.started
	t.started = true
	t.state = StateRunning
	t.mu.Unlock()

	if first {
		go t.run()
	} else {
		t.resumeCh <- struct{}{}
	}

	kind := <-t.yieldCh

	t.mu.Lock()
	if kind == Done {
		t.state = StateDone
	} else {
		t.state = StateParked
	}
	t.mu.Unlock()
	return kind
}

func (t *Task) run() {
	t.body(&Yielder{t: t})
	t.yieldCh <- Done
}

// State reports the task's current position in its lifecycle.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err returns the error, if any, recorded via Yielder.Fail before the task
// finished.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Yielder is the low-level suspend handle passed to a running Task's body.
// Byte-stream adapters call Suspend when a read or write would block.
type Yielder struct {
	t *Task
}

// Suspend hands control back to Resume's caller with the given yield kind
// and blocks until the task is resumed again. It must not be called with
// Done; a Body simply returns to finish.
func (y *Yielder) Suspend(kind YieldKind) {
	y.t.yieldCh <- kind
	<-y.t.resumeCh
}

// Fail records err as the task's terminal error. Callers still return
// normally from Body afterward so Resume reports Done.
func (y *Yielder) Fail(err error) {
	y.t.mu.Lock()
	if y.t.err == nil {
		y.t.err = err
	}
	y.t.mu.Unlock()
}
