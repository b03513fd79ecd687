// Package eventloop 定时器事件循环: clock时间轮负责计时, RoutineAgent单协程负责回调.
package eventloop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"

	"github.com/fixkme/timerkit/clock"
	"github.com/fixkme/timerkit/errs"
	"github.com/fixkme/timerkit/framework/app"
	"github.com/fixkme/timerkit/framework/config"
	g "github.com/fixkme/timerkit/framework/go"
	"github.com/fixkme/timerkit/mlog"
	"github.com/fixkme/timerkit/timer"
	utime "github.com/fixkme/timerkit/util/time"
)

var (
	_ timer.EventLoop = (*Loop)(nil)
	_ app.Module      = (*Loop)(nil)
)

type handle struct {
	fire     func(seq uint64)
	priority int
	seq      uint64 // 新进时间轮的Arm加一, 过期的到期通知直接丢弃
	armed    bool
	wheelID  int64
}

type firing struct {
	h   timer.Handle
	seq uint64
}

// Loop 实现timer.EventLoop, 自带一个Registry
type Loop struct {
	name            string
	defaultPriority int
	clock           *clock.Clock
	agent           *g.RoutineAgent
	timers          *timer.Registry

	mu      sync.Mutex
	nextH   timer.Handle
	handles map[timer.Handle]*handle

	inited  atomic.Bool
	running atomic.Bool
	closed  atomic.Bool
	done    chan struct{}
}

func New(conf config.LoopConfig, opts ...timer.RegistryOption) *Loop {
	conf.Normalize()
	name := conf.LoopName
	if name == "" {
		name = "loop-" + xid.New().String()
	}
	l := &Loop{
		name:            name,
		defaultPriority: conf.DefaultPriority,
		clock:           clock.NewClock(conf.TaskQueueSize),
		agent:           g.NewRoutineAgent(conf.TaskQueueSize, conf.TimerQueueSize),
		handles:         make(map[timer.Handle]*handle),
		done:            make(chan struct{}),
	}
	l.agent.Init(l.onPromise, nil)
	l.agent.SetPanicHandler(func(r any) {
		mlog.Errorf("%s dispatch panic: %v", l.name, r)
	})
	l.timers = timer.NewRegistry(l, opts...)
	return l
}

func (l *Loop) Name() string {
	return l.name
}

// Timers 本循环的定时器表
func (l *Loop) Timers() *timer.Registry {
	return l.timers
}

// OnInit 启动时间轮
func (l *Loop) OnInit() error {
	if l.closed.Load() {
		return errs.LoopClosed
	}
	if l.inited.CompareAndSwap(false, true) {
		l.clock.Start()
		mlog.Infof("%s started", l.name)
	}
	return nil
}

// Run 在当前协程执行回调, 直到Destroy. 已经在跑时只等待其退出
func (l *Loop) Run() {
	if !l.running.CompareAndSwap(false, true) {
		mlog.Warnf("%s already running", l.name)
		<-l.done
		return
	}
	l.run()
}

func (l *Loop) run() {
	defer close(l.done)
	l.agent.Run()
}

// Destroy 释放所有定时器并停止循环, 可以重复调用
func (l *Loop) Destroy() {
	if !l.closed.CompareAndSwap(false, true) {
		return
	}
	if err := l.timers.Close(); err != nil {
		mlog.Warnf("%s free timers: %v", l.name, err)
	}
	l.agent.Close()
	l.clock.Stop()
	mlog.Infof("%s stopped", l.name)
}

// Start OnInit后在新协程Run
func (l *Loop) Start() error {
	if err := l.OnInit(); err != nil {
		return err
	}
	if l.running.CompareAndSwap(false, true) {
		go l.run()
	}
	return nil
}

// Stop Destroy并等待Run退出
func (l *Loop) Stop() {
	l.Destroy()
	if l.running.Load() {
		<-l.done
	}
}

// Submit 投递到循环协程执行, 队列满返回errs.QueueFull
func (l *Loop) Submit(f func()) error {
	switch err := l.agent.TryRunFunc(f); err {
	case nil:
		return nil
	case g.ErrGoChanFull:
		return errs.QueueFull.Printf("%s task queue", l.name)
	default:
		return errs.LoopClosed.Print(l.name)
	}
}

// SyncRun 等f在循环协程执行完, 不能在回调里调用
func (l *Loop) SyncRun(ctx context.Context, f func()) error {
	switch err := l.agent.CtxRunFunc(ctx, f); err {
	case nil:
		return nil
	case g.ErrGoChanFull:
		return errs.QueueFull.Printf("%s task queue", l.name)
	case g.ErrRoutineClosed, g.ErrGoChanClosed:
		return errs.LoopClosed.Print(l.name)
	default:
		return err
	}
}

func (l *Loop) CreateTimer(fire func(seq uint64)) (timer.Handle, error) {
	if l.closed.Load() {
		return 0, errs.LoopClosed.Print(l.name)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextH++
	l.handles[l.nextH] = &handle{fire: fire, priority: l.defaultPriority}
	return l.nextH, nil
}

func (l *Loop) Arm(h timer.Handle, d time.Duration) (uint64, error) {
	return l.armAt(h, utime.DeadlineMs(d))
}

// armAt when为到期毫秒时间戳. 还在时间轮里的直接挪位置, 序号不变
func (l *Loop) armAt(h timer.Handle, when int64) (uint64, error) {
	// 时间轮没启动时投递任务会一直等
	if err := l.OnInit(); err != nil {
		return 0, errs.LoopClosed.Print(l.name)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	hd, ok := l.handles[h]
	if !ok {
		return 0, errs.UnknownHandle.Printf("handle %d", h)
	}
	if hd.armed {
		moved, err := l.clock.UpdateTimer(hd.wheelID, when)
		if err != nil {
			return 0, err
		}
		if moved {
			return hd.seq, nil
		}
		// 已出时间轮, 到期通知还在路上
		hd.armed = false
	}
	seq := hd.seq + 1
	id, err := l.clock.NewTimer(when, hd.priority, firing{h: h, seq: seq}, l.agent.GetTimerReceiver())
	if err != nil {
		return 0, err
	}
	hd.seq = seq
	hd.wheelID = id
	hd.armed = true
	return seq, nil
}

func (l *Loop) Disarm(h timer.Handle) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	hd, ok := l.handles[h]
	if !ok {
		return errs.UnknownHandle.Printf("handle %d", h)
	}
	l.disarmLocked(hd)
	return nil
}

func (l *Loop) SetPriority(h timer.Handle, priority int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	hd, ok := l.handles[h]
	if !ok {
		return errs.UnknownHandle.Printf("handle %d", h)
	}
	hd.priority = priority
	if hd.armed && !l.closed.Load() {
		if _, err := l.clock.SetPriority(hd.wheelID, priority); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loop) Priority(h timer.Handle) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	hd, ok := l.handles[h]
	if !ok {
		return 0, errs.UnknownHandle.Printf("handle %d", h)
	}
	return hd.priority, nil
}

func (l *Loop) DestroyTimer(h timer.Handle) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	hd, ok := l.handles[h]
	if !ok {
		return errs.UnknownHandle.Printf("handle %d", h)
	}
	l.disarmLocked(hd)
	delete(l.handles, h)
	return nil
}

// Pending 已创建未销毁的handle数
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.handles)
}

// disarmLocked 时间轮里的残留取消失败也没关系, seq会让它失效
func (l *Loop) disarmLocked(hd *handle) {
	if !hd.armed {
		return
	}
	hd.armed = false
	if l.closed.Load() {
		return
	}
	if _, err := l.clock.CancelTimer(hd.wheelID); err != nil {
		mlog.Debugf("%s cancel wheel timer %d: %v", l.name, hd.wheelID, err)
	}
}

// onPromise agent协程里按优先级顺序调用
func (l *Loop) onPromise(p *clock.Promise) {
	f, ok := p.Data.(firing)
	if !ok {
		return
	}
	l.mu.Lock()
	hd, exist := l.handles[f.h]
	if !exist || !hd.armed || hd.seq != f.seq {
		l.mu.Unlock()
		return
	}
	hd.armed = false
	fire := hd.fire
	l.mu.Unlock()
	fire(f.seq)
}
