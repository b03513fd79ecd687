package timer

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fixkme/timerkit/errs"
	"github.com/fixkme/timerkit/mlog"
)

func nop(*Timer) {}

func TestAutoIDUnique(t *testing.T) {
	r := NewRegistry(newFakeLoop())
	seen := make(map[ID]bool)
	var last int64
	for i := 0; i < 50; i++ {
		id, err := r.Add(nop)
		require.NoError(t, err)
		assert.False(t, id.IsNamed())
		assert.False(t, seen[id], "id %s reused", id)
		assert.Greater(t, id.Int(), last)
		seen[id] = true
		last = id.Int()
		if i%3 == 0 {
			assert.True(t, r.Remove(id))
		}
	}
	assert.Equal(t, 33, r.Len())
}

func TestFreeIdempotent(t *testing.T) {
	loop := newFakeLoop()
	r := NewRegistry(loop)
	tm, err := r.New(nop, WithDelay(time.Second))
	require.NoError(t, err)
	h := tm.handle

	require.NoError(t, tm.Close())
	tm.Free()
	tm.Finish()
	require.NoError(t, tm.Close())
	assert.False(t, r.Remove(tm.ID()))

	assert.True(t, tm.Finished())
	assert.False(t, tm.Armed())
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 1, loop.destroyCount(h))

	// Freed之后都是空操作
	assert.NoError(t, tm.Timeout(time.Second))
	assert.NoError(t, tm.Rearm())
	assert.NoError(t, tm.Cancel())
	assert.NoError(t, tm.SetPriority(1))
	p, err := tm.HandlePriority()
	assert.NoError(t, err)
	assert.Equal(t, fakeDefaultPriority, p)
	assert.Equal(t, 1, loop.destroyCount(h))
}

func TestLookupMissIsSilent(t *testing.T) {
	r := NewRegistry(newFakeLoop())
	for _, id := range []ID{IntID(999), NamedID("missing")} {
		ok, err := r.SetTimeout(id, time.Second)
		assert.False(t, ok)
		assert.NoError(t, err)
		ok, err = r.Rearm(id)
		assert.False(t, ok)
		assert.NoError(t, err)
		ok, err = r.CancelTimeout(id)
		assert.False(t, ok)
		assert.NoError(t, err)
		assert.False(t, r.Remove(id))
		_, ok = r.Get(id)
		assert.False(t, ok)
	}
}

func TestCallbackFaultIsolation(t *testing.T) {
	loop := newFakeLoop()
	var faults []error
	r := NewRegistry(loop, WithFaultHandler(func(tm *Timer, err error) {
		faults = append(faults, err)
	}))

	badID, err := r.Add(func(*Timer) { panic(io.EOF) }, WithDelay(10*time.Millisecond))
	require.NoError(t, err)
	goodFired := 0
	_, err = r.Add(func(*Timer) { goodFired++ }, WithDelay(20*time.Millisecond))
	require.NoError(t, err)

	assert.Equal(t, 2, loop.fireDue())
	assert.Equal(t, 1, goodFired)
	require.Len(t, faults, 1)
	assert.ErrorIs(t, faults[0], errs.CallbackPanic)
	assert.ErrorIs(t, faults[0], io.EOF)
	var fe *FaultError
	require.True(t, errors.As(faults[0], &fe))
	assert.Equal(t, badID, fe.TimerID)
	assert.NotEmpty(t, fe.Stack)

	// 出错的定时器依然可用
	bad, ok := r.Get(badID)
	require.True(t, ok)
	assert.False(t, bad.Finished())
}

func TestDefaultFaultHandlerLogs(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	mlog.SetLogger(mlog.NewZapLogger(zap.New(core), mlog.InfoLevel))
	defer mlog.SetLogger(nil)

	loop := newFakeLoop()
	r := NewRegistry(loop)
	_, err := r.Add(func(*Timer) { panic("boom") }, WithID(NamedID("job")), WithDelay(time.Millisecond))
	require.NoError(t, err)
	loop.fireDue()

	entries := logs.FilterLevelExact(zapcore.ErrorLevel).All()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Message, "timer job callback fault: boom")
}

func TestFaultHandlerPanicContained(t *testing.T) {
	loop := newFakeLoop()
	r := NewRegistry(loop, WithFaultHandler(func(*Timer, error) { panic("handler") }))
	_, err := r.Add(func(*Timer) { panic("cb") }, WithDelay(time.Millisecond))
	require.NoError(t, err)
	assert.NotPanics(t, func() { loop.fireDue() })
}

func TestRearmUsesLastDelay(t *testing.T) {
	loop := newFakeLoop()
	r := NewRegistry(loop)
	id, err := r.Add(nop, WithDelay(100*time.Millisecond))
	require.NoError(t, err)
	tm, _ := r.Get(id)

	ok, err := r.CancelTimeout(id)
	require.True(t, ok)
	require.NoError(t, err)
	assert.False(t, loop.handle(tm).armed)

	ok, err = r.Rearm(id)
	require.True(t, ok)
	require.NoError(t, err)
	fh := loop.handle(tm)
	assert.True(t, fh.armed)
	assert.Equal(t, 100*time.Millisecond, fh.delay)
	assert.Equal(t, 2, fh.armCount)
	d, has := tm.LastDelay()
	assert.True(t, has)
	assert.Equal(t, 100*time.Millisecond, d)
}

func TestRearmWithoutDelay(t *testing.T) {
	loop := newFakeLoop()
	r := NewRegistry(loop)
	id, err := r.Add(nop)
	require.NoError(t, err)
	ok, err := r.Rearm(id)
	assert.True(t, ok)
	assert.ErrorIs(t, err, errs.NoDelay)

	tm, _ := r.Get(id)
	assert.False(t, tm.Armed())
	assert.Equal(t, 0, loop.handle(tm).armCount)
	assert.ErrorIs(t, tm.Rearm(), errs.NoDelay)
}

func TestCancelThenRearm(t *testing.T) {
	loop := newFakeLoop()
	r := NewRegistry(loop)
	var fired []time.Duration
	id, err := r.Add(func(tm *Timer) {
		d, _ := tm.LastDelay()
		fired = append(fired, d)
	}, WithDelay(100*time.Millisecond))
	require.NoError(t, err)

	_, err = r.CancelTimeout(id)
	require.NoError(t, err)
	ok, err := r.SetTimeout(id, 250*time.Millisecond)
	require.True(t, ok)
	require.NoError(t, err)

	assert.Equal(t, 1, loop.fireDue())
	assert.Equal(t, 0, loop.fireDue())
	assert.Equal(t, []time.Duration{250 * time.Millisecond}, fired)

	// 触发后仍登记着, 可以再次启动
	tm, ok := r.Get(id)
	require.True(t, ok)
	assert.False(t, tm.Armed())
	require.NoError(t, tm.Rearm())
	assert.Equal(t, 1, loop.fireDue())
	assert.Len(t, fired, 2)
}

func TestPriorityForwarding(t *testing.T) {
	loop := newFakeLoop()
	r := NewRegistry(loop)

	tm, err := r.New(nop, WithPriority(3))
	require.NoError(t, err)
	p, err := tm.HandlePriority()
	require.NoError(t, err)
	assert.Equal(t, 3, p)

	require.NoError(t, tm.SetPriority(7))
	p, err = tm.HandlePriority()
	require.NoError(t, err)
	assert.Equal(t, 7, p)
	p, ok := tm.Priority()
	assert.True(t, ok)
	assert.Equal(t, 7, p)

	def, err := r.New(nop)
	require.NoError(t, err)
	_, ok = def.Priority()
	assert.False(t, ok)
	p, err = def.HandlePriority()
	require.NoError(t, err)
	assert.Equal(t, fakeDefaultPriority, p)
}

func TestPriorityOrdersSimultaneousFires(t *testing.T) {
	loop := newFakeLoop()
	r := NewRegistry(loop)
	var order []string
	cb := func(tm *Timer) { order = append(order, tm.ID().Name()) }
	_, err := r.Add(cb, WithID(NamedID("low")), WithPriority(5), WithDelay(time.Second))
	require.NoError(t, err)
	_, err = r.Add(cb, WithID(NamedID("high")), WithPriority(1), WithDelay(time.Second))
	require.NoError(t, err)
	loop.fireDue()
	assert.Equal(t, []string{"high", "low"}, order)
}

func TestReRegisterFreesOld(t *testing.T) {
	loop := newFakeLoop()
	r := NewRegistry(loop)
	old, err := r.New(nop, WithID(NamedID("session")), WithDelay(time.Second))
	require.NoError(t, err)
	oldHandle := old.handle

	cur, err := r.New(nop, WithID(NamedID("session")), WithDelay(2*time.Second))
	require.NoError(t, err)

	assert.True(t, old.Finished())
	assert.Equal(t, 1, loop.destroyCount(oldHandle))
	got, ok := r.Get(NamedID("session"))
	require.True(t, ok)
	assert.Same(t, cur, got)
	assert.Equal(t, 1, r.Len())

	// 旧定时器再释放不能影响新的
	old.Free()
	got, ok = r.Get(NamedID("session"))
	require.True(t, ok)
	assert.Same(t, cur, got)
	assert.Equal(t, 1, r.RemovePrefix("session"))
}

func TestAutoIDSkipsExplicitIntID(t *testing.T) {
	loop := newFakeLoop()
	r := NewRegistry(loop)
	explicit, err := r.New(nop, WithID(IntID(1)), WithDelay(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "1", explicit.ID().String())

	auto, err := r.Add(nop)
	require.NoError(t, err)
	assert.NotEqual(t, IntID(1), auto)
	assert.Equal(t, IntID(2), auto)

	assert.False(t, explicit.Finished())
	assert.True(t, explicit.Armed())
	assert.Equal(t, 0, loop.destroyCount(explicit.handle))
	got, ok := r.Get(IntID(1))
	require.True(t, ok)
	assert.Same(t, explicit, got)
	assert.Equal(t, 2, r.Len())

	// 释放后的自动id也不复用
	require.True(t, r.Remove(auto))
	next, err := r.Add(nop)
	require.NoError(t, err)
	assert.Equal(t, IntID(3), next)
}

func TestStaleFireAfterRearmIgnored(t *testing.T) {
	loop := newFakeLoop()
	r := NewRegistry(loop)
	var fired int
	tm, err := r.New(func(*Timer) { fired++ }, WithDelay(time.Second))
	require.NoError(t, err)

	// 循环已取出到期通知, 回调前被重新启动
	stale := loop.takeDue()
	require.Len(t, stale, 1)
	require.NoError(t, tm.Timeout(2*time.Second))
	stale[0]()
	assert.Equal(t, 0, fired)
	assert.True(t, tm.Armed())

	assert.Equal(t, 1, loop.fireDue())
	assert.Equal(t, 1, fired)
	assert.False(t, tm.Armed())
}

func TestStaleFireAfterCancelIgnored(t *testing.T) {
	loop := newFakeLoop()
	r := NewRegistry(loop)
	var fired int
	tm, err := r.New(func(*Timer) { fired++ }, WithDelay(time.Second))
	require.NoError(t, err)

	stale := loop.takeDue()
	require.Len(t, stale, 1)
	require.NoError(t, tm.Cancel())
	stale[0]()
	assert.Equal(t, 0, fired)
	assert.False(t, tm.Armed())
}

func TestPrefixOperations(t *testing.T) {
	loop := newFakeLoop()
	r := NewRegistry(loop)
	for _, name := range []string{"conn:1:read", "conn:1:write", "conn:2:read"} {
		_, err := r.Add(nop, WithID(NamedID(name)), WithDelay(time.Second))
		require.NoError(t, err)
	}
	_, err := r.Add(nop, WithDelay(time.Second))
	require.NoError(t, err)

	assert.Equal(t, 2, r.CancelPrefix("conn:1:"))
	read, _ := r.Get(NamedID("conn:1:read"))
	assert.False(t, read.Armed())
	other, _ := r.Get(NamedID("conn:2:read"))
	assert.True(t, other.Armed())

	assert.Equal(t, 2, r.RemovePrefix("conn:1:"))
	assert.Equal(t, 0, r.RemovePrefix("conn:1:"))
	assert.Equal(t, 2, r.Len())
	assert.True(t, read.Finished())
}

func TestCreateFailureLeavesRegistryUnchanged(t *testing.T) {
	loop := newFakeLoop()
	loop.failArm = errs.LoopClosed
	r := NewRegistry(loop)
	_, err := r.Add(nop, WithDelay(time.Second))
	assert.ErrorIs(t, err, errs.LoopClosed)
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 1, loop.destroyCount(1))

	loop.failArm = nil
	_, err = r.Add(nil)
	assert.ErrorIs(t, err, errs.BadCallback)
	_, err = r.Add(nop, WithDelay(-time.Second))
	assert.ErrorIs(t, err, errs.BadDelay)
	assert.Equal(t, 0, r.Len())
}

func TestCallbackReentrancy(t *testing.T) {
	loop := newFakeLoop()
	r := NewRegistry(loop)
	victim, err := r.Add(nop, WithDelay(time.Hour))
	require.NoError(t, err)
	runs := 0
	_, err = r.Add(func(tm *Timer) {
		runs++
		r.Remove(victim)
		if runs < 3 {
			require.NoError(t, tm.Rearm())
		} else {
			tm.Finish()
		}
	}, WithDelay(time.Millisecond))
	require.NoError(t, err)

	for loop.fireDue() > 0 {
	}
	assert.Equal(t, 3, runs)
	assert.Equal(t, 0, r.Len())
}

func TestFreedTimerIgnoresLateFire(t *testing.T) {
	loop := newFakeLoop()
	r := NewRegistry(loop)
	fired := 0
	tm, err := r.New(func(*Timer) { fired++ }, WithDelay(time.Millisecond))
	require.NoError(t, err)
	fires := loop.takeDue()
	require.Len(t, fires, 1)
	tm.Free()
	fires[0]()
	assert.Equal(t, 0, fired)
}

func TestRegistryClose(t *testing.T) {
	loop := newFakeLoop()
	r := NewRegistry(loop)
	var timers []*Timer
	for i := 0; i < 3; i++ {
		tm, err := r.New(nop, WithDelay(time.Second))
		require.NoError(t, err)
		timers = append(timers, tm)
	}
	require.NoError(t, r.Close())
	assert.Equal(t, 0, r.Len())
	for _, tm := range timers {
		assert.True(t, tm.Finished())
	}
}
