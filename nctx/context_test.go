//go:build linux

package nctx_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/thorsanvil/nisse/nctx"
	"github.com/thorsanvil/nisse/reactor"
	"github.com/thorsanvil/nisse/task"
	"github.com/thorsanvil/nisse/timer"
)

func newTestContext(features func(reactor.Feature) bool) (*nctx.Context, *reactor.Store, *timer.Wheel, *task.Task) {
	store := reactor.NewStore()
	wheel := timer.NewWheel()
	var tk *task.Task
	var ctx *nctx.Context
	tk = task.New(func(y *task.Yielder) {
		ctx = nctx.New(42, func() *task.Task { return tk }, y, store, wheel, features)
	})
	tk.Resume()
	return ctx, store, wheel, tk
}

func TestIsFeatureEnabledReflectsCallback(t *testing.T) {
	ctx, _, _, _ := newTestContext(func(f reactor.Feature) bool {
		return f == reactor.FeatureFileReadWrite
	})
	require.True(t, ctx.IsFeatureEnabled(reactor.FeatureFileReadWrite))
}

func TestIsFeatureEnabledFalseWithoutCallback(t *testing.T) {
	ctx, _, _, _ := newTestContext(nil)
	require.False(t, ctx.IsFeatureEnabled(reactor.FeatureFileReadWrite))
}

func TestRegisterOwnedEnqueuesCreateAndRemove(t *testing.T) {
	ctx, store, _, _ := newTestContext(nil)

	release := ctx.RegisterOwned(99, reactor.InterestRead)
	updates := store.Drain()
	require.Len(t, updates, 1)
	_, ok := updates[0].(reactor.CreateOwnedAux)
	require.True(t, ok)

	release()
	updates = store.Drain()
	require.Len(t, updates, 1)
	removed, ok := updates[0].(reactor.Remove)
	require.True(t, ok)
	require.Equal(t, reactor.Key(99), removed.FD)
}

func TestRegisterSharedEnqueuesCreateAndRemove(t *testing.T) {
	ctx, store, _, _ := newTestContext(nil)

	release := ctx.RegisterShared(100)
	updates := store.Drain()
	require.Len(t, updates, 1)
	_, ok := updates[0].(reactor.CreateSharedAux)
	require.True(t, ok)

	release()
	updates = store.Drain()
	require.Len(t, updates, 1)
	_, ok = updates[0].(reactor.Remove)
	require.True(t, ok)
}

func TestAddTimerFiresThroughWheel(t *testing.T) {
	ctx, _, wheel, _ := newTestContext(nil)

	var fired bool
	ctx.AddTimer(-time.Second, func(timer.ID) { fired = true })
	wheel.FireExpired(time.Now())

	require.True(t, fired)
}

func TestRemoveTimerPreventsFiring(t *testing.T) {
	ctx, _, wheel, _ := newTestContext(nil)

	var fired bool
	id := ctx.AddTimer(-time.Second, func(timer.ID) { fired = true })
	ctx.RemoveTimer(id)
	wheel.FireExpired(time.Now())

	require.False(t, fired)
}

func TestYielderIsNotNil(t *testing.T) {
	ctx, _, _, _ := newTestContext(nil)
	require.NotNil(t, ctx.Yielder())
}
