package timer

import (
	"sync"
	"time"

	"github.com/armon/go-radix"
	"go.uber.org/multierr"

	"github.com/fixkme/timerkit/errs"
	"github.com/fixkme/timerkit/mlog"
)

// Registry 一个事件循环对应一个Registry, id到定时器的唯一映射.
// 查不到id不算错误: 定时器可能在调用方决定取消之前就自己释放了.
type Registry struct {
	mu      sync.Mutex
	loop    EventLoop
	entries map[ID]*Timer
	named   *radix.Tree // 字符串id索引, 支持按前缀批量操作
	nextID  int64       // 只增不减, 释放的id不复用, 跳过显式占用的IntID
	onFault FaultHandler
}

func NewRegistry(loop EventLoop, opts ...RegistryOption) *Registry {
	r := &Registry{
		loop:    loop,
		entries: make(map[ID]*Timer),
		named:   radix.New(),
		onFault: defaultFaultHandler,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// New 创建定时器并登记. 失败时handle已释放, Registry不变.
func (r *Registry) New(cb Callback, opts ...Option) (*Timer, error) {
	if cb == nil {
		return nil, errs.BadCallback.Print("nil callback")
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.hasDelay && o.delay < 0 {
		return nil, errs.BadDelay.Printf("delay %s", o.delay)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := o.id
	if id.IsZero() {
		id = r.allocIDLocked()
	}
	t := &Timer{reg: r, id: id, callback: cb}
	h, err := r.loop.CreateTimer(t.onFire)
	if err != nil {
		return nil, err
	}
	t.handle = h
	if o.hasPriority {
		err = t.setPriorityLocked(o.priority)
	} else {
		t.priority, err = r.loop.Priority(h)
	}
	if err == nil && o.hasDelay {
		err = t.timeoutLocked(o.delay)
	}
	if err != nil {
		t.finished = true
		t.handle = 0
		if derr := r.loop.DestroyTimer(h); derr != nil {
			mlog.Warnf("timer %s destroy handle failed: %v", id, derr)
		}
		return nil, err
	}

	if old, ok := r.entries[id]; ok {
		mlog.Debugf("timer %s re-registered, free old one", id)
		if err := r.freeLocked(old); err != nil {
			mlog.Warnf("timer %s destroy handle failed: %v", id, err)
		}
	}
	r.entries[id] = t
	if id.IsNamed() {
		r.named.Insert(id.Name(), t)
	}
	return t, nil
}

// allocIDLocked 自动分配的id不能和显式登记的IntID冲突, 否则会把对方顶掉
func (r *Registry) allocIDLocked() ID {
	for {
		r.nextID++
		id := IntID(r.nextID)
		if _, ok := r.entries[id]; !ok {
			return id
		}
	}
}

// Add 创建定时器, 返回id
func (r *Registry) Add(cb Callback, opts ...Option) (ID, error) {
	t, err := r.New(cb, opts...)
	if err != nil {
		return ID{}, err
	}
	return t.id, nil
}

func (r *Registry) Get(id ID) (*Timer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.entries[id]
	return t, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// SetTimeout 按d重新启动id对应的定时器, id不存在返回false
func (r *Registry) SetTimeout(id ID, d time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.entries[id]
	if !ok {
		return false, nil
	}
	return true, t.timeoutLocked(d)
}

// Rearm 按上一次的时长重新启动, id不存在返回false
func (r *Registry) Rearm(id ID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.entries[id]
	if !ok {
		return false, nil
	}
	return true, t.rearmLocked()
}

func (r *Registry) CancelTimeout(id ID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.entries[id]
	if !ok {
		return false, nil
	}
	return true, t.cancelLocked()
}

// Remove 释放id对应的定时器, id不存在返回false
func (r *Registry) Remove(id ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.entries[id]
	if !ok {
		return false
	}
	if err := r.freeLocked(t); err != nil {
		mlog.Warnf("timer %s destroy handle failed: %v", id, err)
	}
	return true
}

// CancelPrefix 取消所有以prefix开头的字符串id定时器, 返回个数
func (r *Registry) CancelPrefix(prefix string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.prefixLocked(prefix) {
		if err := t.cancelLocked(); err != nil {
			mlog.Warnf("timer %s cancel failed: %v", t.id, err)
			continue
		}
		n++
	}
	return n
}

// RemovePrefix 释放所有以prefix开头的字符串id定时器, 返回个数
func (r *Registry) RemovePrefix(prefix string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	timers := r.prefixLocked(prefix)
	for _, t := range timers {
		if err := r.freeLocked(t); err != nil {
			mlog.Warnf("timer %s destroy handle failed: %v", t.id, err)
		}
	}
	return len(timers)
}

// Close 释放全部定时器, 事件循环退出前调用
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	for _, t := range r.entries {
		err = multierr.Append(err, r.freeLocked(t))
	}
	return err
}

func (r *Registry) prefixLocked(prefix string) []*Timer {
	var timers []*Timer
	r.named.WalkPrefix(prefix, func(_ string, v interface{}) bool {
		timers = append(timers, v.(*Timer))
		return false
	})
	return timers
}

func (r *Registry) freeLocked(t *Timer) error {
	if t.finished {
		return nil
	}
	t.finished = true
	t.armed = false
	if cur, ok := r.entries[t.id]; ok && cur == t {
		delete(r.entries, t.id)
		if t.id.IsNamed() {
			r.named.Delete(t.id.Name())
		}
	}
	h := t.handle
	t.handle = 0
	return r.loop.DestroyTimer(h)
}

func (r *Registry) reportFault(t *Timer, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			mlog.Errorf("timer %s fault handler panic: %v, fault: %v", t.id, rec, err)
		}
	}()
	r.onFault(t, err)
}
