package jobqueue_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/thorsanvil/nisse/jobqueue"
	"github.com/thorsanvil/nisse/task"
)

type fakeResumable struct {
	kind task.YieldKind
}

func (f *fakeResumable) Resume() task.YieldKind { return f.kind }

func TestEnqueueDrivesOnYield(t *testing.T) {
	var mu sync.Mutex
	var seen []task.YieldKind
	done := make(chan struct{}, 1)

	q := jobqueue.New(2, 8, func(tok jobqueue.Token, kind task.YieldKind) {
		mu.Lock()
		seen = append(seen, kind)
		mu.Unlock()
		done <- struct{}{}
	}, nil)

	q.Enqueue(jobqueue.Token{Resumable: &fakeResumable{kind: task.WantRead}, FD: 7})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("onYield was never called")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []task.YieldKind{task.WantRead}, seen)

	require.NoError(t, q.StopSoft())
}

func TestStopSoftDrainsQueuedWork(t *testing.T) {
	var count int
	var mu sync.Mutex
	const n = 20
	doneAll := make(chan struct{})

	q := jobqueue.New(4, n, func(tok jobqueue.Token, kind task.YieldKind) {
		mu.Lock()
		count++
		c := count
		mu.Unlock()
		if c == n {
			close(doneAll)
		}
	}, nil)

	for i := 0; i < n; i++ {
		q.Enqueue(jobqueue.Token{Resumable: &fakeResumable{kind: task.Done}, FD: int32(i)})
	}

	select {
	case <-doneAll:
	case <-time.After(2 * time.Second):
		t.Fatal("not all queued tokens were processed before timeout")
	}

	require.NoError(t, q.StopSoft())

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, n, count)
}

func TestStopHardReturnsWithoutError(t *testing.T) {
	q := jobqueue.New(1, 1, func(tok jobqueue.Token, kind task.YieldKind) {}, nil)
	require.NoError(t, q.StopHard())
}

func TestNewClampsInvalidWorkersAndCapacity(t *testing.T) {
	q := jobqueue.New(0, 0, func(tok jobqueue.Token, kind task.YieldKind) {}, nil)
	require.NotNil(t, q)
	require.NoError(t, q.StopHard())
}
