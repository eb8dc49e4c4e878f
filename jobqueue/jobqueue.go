// Package jobqueue implements the fixed-size worker pool that dequeues
// resume-tokens and drives tasks, grounded on
// _examples/original_source/NisseServer/JobQueue.h: a bounded queue of
// work plus N worker threads, with a soft stop that drains outstanding
// work and a hard stop that drops it.
package jobqueue

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/thorsanvil/nisse/task"
)

// Resumable is anything a token can drive forward by resuming it. *task.Task
// satisfies this; tests may supply fakes.
type Resumable interface {
	Resume() task.YieldKind
}

// Token is an opaque resume reference enqueued by the reactor and consumed
// by a worker.
type Token struct {
	Resumable Resumable
	FD        int32
}

// OnYield is invoked by the worker that resumed a token, with the yield
// kind the task produced. The caller (the reactor) uses it to re-arm
// interest or tear the record down.
type OnYield func(tok Token, kind task.YieldKind)

// JobQueue is a bounded FIFO of resume-tokens drained by a pool of worker
// goroutines managed by an errgroup.Group, grounded on the pack's use of
// golang.org/x/sync/errgroup for bounded concurrent work (golang-tools,
// rockstar-0000-aistore).
type JobQueue struct {
	tokens  chan Token
	group   *errgroup.Group
	cancel  context.CancelFunc
	onYield OnYield
	log     *logrus.Entry
}

// New starts a JobQueue with the given number of worker goroutines and
// queue capacity. onYield is called on the worker's own goroutine after
// each Resume, so it must not block for long.
func New(workers, capacity int, onYield OnYield, log *logrus.Entry) *JobQueue {
	if workers < 1 {
		workers = 1
	}
	if capacity < 1 {
		capacity = 1
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)
	q := &JobQueue{
		tokens:  make(chan Token, capacity),
		group:   group,
		cancel:  cancel,
		onYield: onYield,
		log:     log.WithField("component", "jobqueue"),
	}
	for i := 0; i < workers; i++ {
		workerID := i
		group.Go(func() error {
			q.worker(ctx, workerID)
			return nil
		})
	}
	return q
}

func (q *JobQueue) worker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case tok, ok := <-q.tokens:
			if !ok {
				return
			}
			kind := tok.Resumable.Resume()
			q.log.WithFields(logrus.Fields{"worker": id, "fd": tok.FD, "yield": kind.String()}).Debug("task resumed")
			q.onYield(tok, kind)
		}
	}
}

// Enqueue adds a resume-token to the queue. It blocks if the queue is full,
// providing natural backpressure on the reactor thread.
func (q *JobQueue) Enqueue(tok Token) {
	q.tokens <- tok
}

// StopSoft closes the input side and waits for queued tokens to be
// processed before worker goroutines exit.
func (q *JobQueue) StopSoft() error {
	close(q.tokens)
	return q.group.Wait()
}

// StopHard cancels immediately; queued tokens are dropped.
func (q *JobQueue) StopHard() error {
	q.cancel()
	return q.group.Wait()
}
