package timer

import (
	"runtime/debug"
	"time"

	"github.com/fixkme/timerkit/errs"
	"github.com/fixkme/timerkit/mlog"
)

// Timer 一次性定时器, 到期触发后仍留在Registry里, 可以再次Timeout/Rearm.
// 状态都由所属Registry的锁保护, Free之后所有操作都是空操作.
type Timer struct {
	reg      *Registry
	id       ID
	callback Callback
	handle   Handle

	lastDelay   time.Duration
	hasDelay    bool
	priority    int
	hasPriority bool
	armed       bool
	armSeq      uint64 // 最近一次Arm的序号
	finished    bool
}

func (t *Timer) ID() ID {
	return t.id
}

func (t *Timer) Finished() bool {
	t.reg.mu.Lock()
	defer t.reg.mu.Unlock()
	return t.finished
}

// Armed 已启动且还没触发/取消
func (t *Timer) Armed() bool {
	t.reg.mu.Lock()
	defer t.reg.mu.Unlock()
	return t.armed
}

func (t *Timer) LastDelay() (time.Duration, bool) {
	t.reg.mu.Lock()
	defer t.reg.mu.Unlock()
	return t.lastDelay, t.hasDelay
}

// Priority 返回设置过的优先级, 没设置过时ok为false
func (t *Timer) Priority() (p int, ok bool) {
	t.reg.mu.Lock()
	defer t.reg.mu.Unlock()
	return t.priority, t.hasPriority
}

// HandlePriority 查询事件循环里实际生效的优先级, 释放后返回释放前最后生效的值
func (t *Timer) HandlePriority() (int, error) {
	t.reg.mu.Lock()
	defer t.reg.mu.Unlock()
	if t.finished {
		return t.priority, nil
	}
	return t.reg.loop.Priority(t.handle)
}

func (t *Timer) SetPriority(p int) error {
	t.reg.mu.Lock()
	defer t.reg.mu.Unlock()
	return t.setPriorityLocked(p)
}

// Timeout 记住d并按d(重新)启动
func (t *Timer) Timeout(d time.Duration) error {
	t.reg.mu.Lock()
	defer t.reg.mu.Unlock()
	return t.timeoutLocked(d)
}

// Rearm 按上一次的时长重新启动, 从没设置过时长返回errs.NoDelay
func (t *Timer) Rearm() error {
	t.reg.mu.Lock()
	defer t.reg.mu.Unlock()
	return t.rearmLocked()
}

// Cancel 停止等待, 不释放, 之后还能重新启动
func (t *Timer) Cancel() error {
	t.reg.mu.Lock()
	defer t.reg.mu.Unlock()
	return t.cancelLocked()
}

// Free 从Registry移除并释放handle, 可重复调用
func (t *Timer) Free() {
	if err := t.Close(); err != nil {
		mlog.Warnf("timer %s destroy handle failed: %v", t.id, err)
	}
}

func (t *Timer) Finish() {
	t.Free()
}

// Close 同Free, 只有第一次调用会返回释放handle的错误. 适合defer t.Close()
func (t *Timer) Close() error {
	t.reg.mu.Lock()
	defer t.reg.mu.Unlock()
	return t.reg.freeLocked(t)
}

func (t *Timer) setPriorityLocked(p int) error {
	if t.finished {
		return nil
	}
	if err := t.reg.loop.SetPriority(t.handle, p); err != nil {
		return err
	}
	t.priority = p
	t.hasPriority = true
	return nil
}

func (t *Timer) timeoutLocked(d time.Duration) error {
	if t.finished {
		return nil
	}
	if d < 0 {
		return errs.BadDelay.Printf("timer %s delay %s", t.id, d)
	}
	t.lastDelay = d
	t.hasDelay = true
	return t.armLocked()
}

func (t *Timer) rearmLocked() error {
	if t.finished {
		return nil
	}
	if !t.hasDelay {
		return errs.NoDelay.Printf("timer %s", t.id)
	}
	return t.armLocked()
}

func (t *Timer) armLocked() error {
	seq, err := t.reg.loop.Arm(t.handle, t.lastDelay)
	if err != nil {
		return err
	}
	t.armed = true
	t.armSeq = seq
	return nil
}

func (t *Timer) cancelLocked() error {
	if t.finished {
		return nil
	}
	if err := t.reg.loop.Disarm(t.handle); err != nil {
		return err
	}
	t.armed = false
	return nil
}

// onFire 事件循环协程调用, 回调期间不持有锁, 回调里可以操作任意定时器.
// 循环取出到期通知后, 拿到锁之前定时器可能已被别的协程取消或重新启动, 这种通知丢弃.
func (t *Timer) onFire(seq uint64) {
	t.reg.mu.Lock()
	if t.finished || !t.armed || seq != t.armSeq {
		t.reg.mu.Unlock()
		return
	}
	t.armed = false
	t.reg.mu.Unlock()

	if err := t.invoke(); err != nil {
		t.reg.reportFault(t, err)
	}
}

func (t *Timer) invoke() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &FaultError{TimerID: t.id, Recovered: r, Stack: debug.Stack()}
		}
	}()
	t.callback(t)
	return nil
}
