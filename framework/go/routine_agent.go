package g

import (
	"context"
	"sync"

	"github.com/fixkme/timerkit/clock"
)

// RoutineAgent 单协程事件循环: 任务和到期定时器都在Run所在协程串行执行
type RoutineAgent struct {
	*Go
	closeSig    chan struct{}
	isClosed    bool
	mutex       sync.RWMutex
	timerCh     chan []*clock.Promise
	timerCb     TimerCb
	beforeClose func()
}

// TimerCb 每个到期定时器调用一次, 批次内已按优先级排好序
type TimerCb func(p *clock.Promise)

func NewRoutineAgent(taskChSize, timerChSize int) *RoutineAgent {
	a := &RoutineAgent{
		Go:       NewGoChan(taskChSize),
		closeSig: make(chan struct{}),
		timerCh:  make(chan []*clock.Promise, timerChSize),
	}
	return a
}

func (a *RoutineAgent) Init(timerCb TimerCb, beforeClose func()) {
	a.timerCb = timerCb
	a.beforeClose = beforeClose
}

func (a *RoutineAgent) GetTimerReceiver() chan<- []*clock.Promise {
	return a.timerCh
}

func (a *RoutineAgent) Run() {
	defer a.onClose()

	for {
		select {
		case <-a.closeSig:
			return
		case cb := <-a.Go.ChanCb:
			a.Go.Exec(cb)
		case batch := <-a.timerCh:
			a.dispatch(batch)
		}
	}
}

func (a *RoutineAgent) dispatch(batch []*clock.Promise) {
	if a.timerCb == nil {
		return
	}
	for _, p := range batch {
		a.Go.Exec(func() { a.timerCb(p) })
	}
}

func (a *RoutineAgent) onClose() {
	if a.beforeClose != nil {
		a.Go.Exec(a.beforeClose)
	}
	a.Go.Close()
	for cb := range a.Go.ChanCb {
		a.Go.Exec(cb)
	}
}

func (a *RoutineAgent) Close() {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if a.isClosed {
		return
	}

	a.isClosed = true
	close(a.closeSig)
}

// SyncRunFunc 等待f在agent协程执行完, 不能在agent协程内调用
func (a *RoutineAgent) SyncRunFunc(f func()) (err error) {
	a.mutex.RLock()
	if a.isClosed {
		a.mutex.RUnlock()
		return ErrRoutineClosed
	}

	errCh := a.Go.SubmitWithResult(f)
	a.mutex.RUnlock()
	return <-errCh
}

func (a *RoutineAgent) CtxRunFunc(ctx context.Context, f func()) (err error) {
	a.mutex.RLock()
	if a.isClosed {
		a.mutex.RUnlock()
		return ErrRoutineClosed
	}

	errCh := a.Go.SubmitWithResult(f)
	a.mutex.RUnlock()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err = <-errCh:
		return err
	}
}

func (a *RoutineAgent) TryRunFunc(f func()) error {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	if a.isClosed {
		return ErrRoutineClosed
	}

	if !a.Go.TrySubmit(f) {
		return ErrGoChanFull
	}
	return nil
}
