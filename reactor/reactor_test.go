package reactor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thorsanvil/nisse/jobqueue"
	"github.com/thorsanvil/nisse/task"
	"github.com/thorsanvil/nisse/timer"
)

// fakeBackend is an in-memory Backend so reactor/store/task wiring can be
// exercised without a kernel poller, per the plan noted on Backend's doc
// comment.
type fakeBackend struct {
	mu        sync.Mutex
	interests map[int32]Interest
	pending   []Event
	woken     chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{interests: make(map[int32]Interest), woken: make(chan struct{}, 1)}
}

func (f *fakeBackend) Add(fd int32, interest Interest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interests[fd] = interest
	return nil
}

func (f *fakeBackend) Modify(fd int32, interest Interest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interests[fd] = interest
	return nil
}

func (f *fakeBackend) Remove(fd int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.interests, fd)
	return nil
}

func (f *fakeBackend) Wait(timeout time.Duration) ([]Event, error) {
	f.mu.Lock()
	out := f.pending
	f.pending = nil
	f.mu.Unlock()
	if out == nil {
		select {
		case <-f.woken:
		case <-time.After(10 * time.Millisecond):
		}
	}
	return out, nil
}

func (f *fakeBackend) IsFeatureEnabled(Feature) bool { return false }

func (f *fakeBackend) Wake() error {
	select {
	case f.woken <- struct{}{}:
	default:
	}
	return nil
}

func (f *fakeBackend) Close() error { return nil }

func (f *fakeBackend) deliver(ev Event) {
	f.mu.Lock()
	f.pending = append(f.pending, ev)
	f.mu.Unlock()
	f.Wake()
}

func newTestReactor(t *testing.T) (*Reactor, *fakeBackend) {
	t.Helper()
	backend := newFakeBackend()
	store := NewStore()
	wheel := timer.NewWheel()
	var r *Reactor
	jobs := jobqueue.New(2, 16, func(tok jobqueue.Token, kind task.YieldKind) {
		r.OnYield(tok, kind)
	}, nil)
	r = New(backend, store, jobs, wheel, nil)
	return r, backend
}

func TestReactorRunsTaskToCompletion(t *testing.T) {
	r, backend := newTestReactor(t)

	var ran bool
	var mu sync.Mutex
	tk := task.New(func(y *task.Yielder) {
		y.Suspend(task.WantRead)
		mu.Lock()
		ran = true
		mu.Unlock()
	})
	r.store.Enqueue(CreateConnection{Record: &Connection{FD: 50005, Task: tk}})
	require.NoError(t, backend.Add(50005, InterestRead))
	r.jobs.Enqueue(jobqueue.Token{Resumable: tk, FD: 50005})

	go r.Run(nil)
	time.Sleep(5 * time.Millisecond)
	backend.deliver(Event{FD: 50005, Interest: InterestRead})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ran
	}, time.Second, time.Millisecond)

	require.NoError(t, r.StopHard())
}

func TestReactorSharedAuxFIFO(t *testing.T) {
	r, backend := newTestReactor(t)

	var order []int
	var mu sync.Mutex
	mkTask := func(n int) *task.Task {
		return task.New(func(y *task.Yielder) {
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
		})
	}
	t1, t2 := mkTask(1), mkTask(2)
	r.store.Enqueue(CreateSharedAux{Record: &SharedAux{FD: 50009, ReadWaiters: []*task.Task{t1, t2}}})
	require.NoError(t, backend.Add(50009, InterestRead))

	go r.Run(nil)
	time.Sleep(5 * time.Millisecond)
	backend.deliver(Event{FD: 50009, Interest: InterestRead})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 1
	}, time.Second, time.Millisecond)

	mu.Lock()
	assert.Equal(t, []int{1}, order)
	mu.Unlock()

	require.NoError(t, r.StopHard())
}
