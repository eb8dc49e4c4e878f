package task_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/thorsanvil/nisse/task"
)

func TestResumeRunsBodyUntilFirstSuspend(t *testing.T) {
	var trace []string
	tk := task.New(func(y *task.Yielder) {
		trace = append(trace, "start")
		y.Suspend(task.WantRead)
		trace = append(trace, "resumed")
	})

	kind := tk.Resume()
	require.Equal(t, task.WantRead, kind)
	require.Equal(t, []string{"start"}, trace)
	require.Equal(t, task.StateParked, tk.State())
}

func TestResumeAgainRunsUntilDone(t *testing.T) {
	var trace []string
	tk := task.New(func(y *task.Yielder) {
		trace = append(trace, "start")
		y.Suspend(task.WantWrite)
		trace = append(trace, "finish")
	})

	require.Equal(t, task.WantWrite, tk.Resume())
	require.Equal(t, task.Done, tk.Resume())
	require.Equal(t, []string{"start", "finish"}, trace)
	require.Equal(t, task.StateDone, tk.State())
}

func TestBodyThatNeverSuspendsReportsDoneImmediately(t *testing.T) {
	tk := task.New(func(y *task.Yielder) {})
	require.Equal(t, task.Done, tk.Resume())
	require.Equal(t, task.StateDone, tk.State())
}

func TestMultipleSuspendsYieldInOrder(t *testing.T) {
	tk := task.New(func(y *task.Yielder) {
		y.Suspend(task.WantRead)
		y.Suspend(task.WaitMore)
		y.Suspend(task.WantWrite)
	})

	require.Equal(t, task.WantRead, tk.Resume())
	require.Equal(t, task.WaitMore, tk.Resume())
	require.Equal(t, task.WantWrite, tk.Resume())
	require.Equal(t, task.Done, tk.Resume())
}

func TestFailRecordsFirstErrorOnly(t *testing.T) {
	first := errors.New("first")
	second := errors.New("second")
	tk := task.New(func(y *task.Yielder) {
		y.Fail(first)
		y.Fail(second)
	})

	tk.Resume()
	require.Equal(t, first, tk.Err())
}

func TestYieldKindString(t *testing.T) {
	require.Equal(t, "WantRead", task.WantRead.String())
	require.Equal(t, "WantWrite", task.WantWrite.String())
	require.Equal(t, "WaitMore", task.WaitMore.String())
	require.Equal(t, "Done", task.Done.String())
	require.Equal(t, "Unknown", task.YieldKind(99).String())
}
