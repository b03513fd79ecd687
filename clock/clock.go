package clock

import (
	"cmp"
	"slices"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"

	"github.com/fixkme/timerkit/errs"
	"github.com/fixkme/timerkit/mlog"
	utime "github.com/fixkme/timerkit/util/time"
)

const (
	_SIEXP            = 0
	_SI               = 10 * (1 << _SIEXP) // ms
	_TIME_WHEEL_LEVEL = 4
)

// Tick 时间轮精度
const Tick = _SI * time.Millisecond

var (
	_LEVEL_DIVIS = [_TIME_WHEEL_LEVEL]int64{0, 10, 18, 24}
	_LEVEL_SLOTS = [_TIME_WHEEL_LEVEL]int64{1 << 10, 1 << 8, 1 << 6, 1 << 6}
	_LEVEL_MASKS = [_TIME_WHEEL_LEVEL]int64{}
	_LEVEL_TICKS = [_TIME_WHEEL_LEVEL]int64{}
)

func init() {
	for i := 0; i < _TIME_WHEEL_LEVEL; i++ {
		_LEVEL_MASKS[i] = _LEVEL_SLOTS[i] - 1
		if i > 0 {
			_LEVEL_TICKS[i] = _LEVEL_SLOTS[i] * _LEVEL_TICKS[i-1]
		} else {
			_LEVEL_TICKS[i] = _LEVEL_SLOTS[i]
		}
	}
}

// Clock 分层时间轮, 所有状态只在run协程里修改, 外部调用经taskch投递
type Clock struct {
	genId    int64
	lastTime int64
	slot     [_TIME_WHEEL_LEVEL]int64 //每层的指针位置
	tw       [_TIME_WHEEL_LEVEL]timeWheel
	taskch   chan func()
	quit     chan struct{}
	closed   atomic.Bool
	locs     map[int64]*_Timer //记录位置

	// 投递失败的批次, 下个tick重试
	backlog map[chan<- []*Promise]*queue.Queue
}

func NewClock(taskSize int) *Clock {
	if taskSize <= 0 {
		taskSize = 10240
	}
	c := &Clock{}
	c.taskch = make(chan func(), taskSize)
	c.quit = make(chan struct{})
	c.locs = make(map[int64]*_Timer)
	c.backlog = make(map[chan<- []*Promise]*queue.Queue)
	for i := 0; i < _TIME_WHEEL_LEVEL; i++ {
		c.slot[i] = 0
		c.tw[i] = make(timeWheel, _LEVEL_SLOTS[i])
	}
	return c
}

type timeWheel []*_List

func (c *Clock) Start() {
	c.lastTime = utime.NowMs()
	go c.run()
}

// Stop 停止时间轮, 未触发的定时器全部丢弃
func (c *Clock) Stop() {
	if c.closed.CompareAndSwap(false, true) {
		close(c.quit)
	}
}

// NewTimer when为到期毫秒时间戳, 到期后投递到batch
func (c *Clock) NewTimer(when int64, priority int, data any, batch chan<- []*Promise) (int64, error) {
	t := &_Timer{
		when:     when,
		priority: priority,
		data:     data,
		batch:    batch,
	}
	var id int64
	err := c.pushTask(func() {
		c.genId++
		t.id = c.genId
		c.addTimer(t)
		id = t.id
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (c *Clock) CancelTimer(id int64) (bool, error) {
	var ok bool
	err := c.pushTask(func() {
		ok = c.delTimer(id) != nil
	})
	return err == nil && ok, err
}

func (c *Clock) UpdateTimer(id int64, when int64) (bool, error) {
	var ok bool
	err := c.pushTask(func() {
		ok = c.updateTimer(id, when)
	})
	return err == nil && ok, err
}

// SetPriority 修改未到期定时器的投递优先级
func (c *Clock) SetPriority(id int64, priority int) (bool, error) {
	var ok bool
	err := c.pushTask(func() {
		if t, exist := c.locs[id]; exist {
			t.priority = priority
			ok = true
		}
	})
	return err == nil && ok, err
}

func (c *Clock) addTimer(timer *_Timer) {
	var ticks, level, slot int64
	ticks = (timer.when - c.lastTime + _SI - 1) / _SI //diff 向上取整
	if ticks <= 0 {
		ticks = 1
	}
	for level = 0; level < _TIME_WHEEL_LEVEL; level++ {
		if ticks < _LEVEL_TICKS[level] {
			slot = ((ticks >> _LEVEL_DIVIS[level]) + c.slot[level]) & _LEVEL_MASKS[level]
			break
		}
	}
	if level == _TIME_WHEEL_LEVEL {
		level--
		slot = _LEVEL_MASKS[level]
	}
	mlog.Tracef("clock add timer [%d, %d, %d], when=%d, lastTime=%d, ticks:%d", timer.id, level, slot, timer.when, c.lastTime, ticks)
	c.putTimer(level, slot, timer)
}

func (c *Clock) putTimer(level, slot int64, timer *_Timer) {
	timerList := c.tw[level][slot]
	if timerList == nil {
		timerList = newTimerList()
		c.tw[level][slot] = timerList
	}
	timerList.PushBack(timer)
	c.locs[timer.id] = timer
}

func (c *Clock) delTimer(id int64) *_Timer {
	timer, ok := c.locs[id]
	if ok {
		timer.removeFromList()
		delete(c.locs, id)
		return timer
	}
	return nil
}

func (c *Clock) updateTimer(id int64, when int64) bool {
	t := c.delTimer(id)
	if t != nil {
		t.when = when
		c.addTimer(t)
		return true
	}
	return false
}

func (c *Clock) trigger(nowMs int64) {
	timerList := c.tw[0][c.slot[0]]
	if timerList == nil || timerList.IsEmpty() {
		return
	}
	batchs := make(map[chan<- []*Promise][]*Promise)
	timerList.PopRange(func(timer *_Timer) bool {
		delete(c.locs, timer.id)
		if timer.when <= nowMs {
			mlog.Tracef("clock trigger id:%d, when:%d, now:%d", timer.id, timer.when, nowMs)
			promise := &Promise{TimerId: timer.id, NowTs: nowMs, Priority: timer.priority, Data: timer.data}
			batchs[timer.batch] = append(batchs[timer.batch], promise)
		} else {
			// 重新加入时间轮, 一般是下一次tick
			c.addTimer(timer)
		}
		return true
	})

	for ch, promises := range batchs {
		slices.SortStableFunc(promises, func(a, b *Promise) int {
			return cmp.Compare(a.Priority, b.Priority)
		})
		c.deliver(ch, promises)
	}
}

// deliver 不阻塞时间轮, 接收方满了就进backlog, 保持先后顺序
func (c *Clock) deliver(ch chan<- []*Promise, promises []*Promise) {
	if q := c.backlog[ch]; q != nil && q.Length() > 0 {
		q.Add(promises)
		return
	}
	select {
	case ch <- promises:
	default:
		q := c.backlog[ch]
		if q == nil {
			q = queue.New()
			c.backlog[ch] = q
		}
		q.Add(promises)
		mlog.Warnf("clock receiver full, %d timers delayed", len(promises))
	}
}

func (c *Clock) flushBacklog() {
	for ch, q := range c.backlog {
		for q.Length() > 0 {
			sent := false
			select {
			case ch <- q.Peek().([]*Promise):
				q.Remove()
				sent = true
			default:
			}
			if !sent {
				break
			}
		}
		if q.Length() == 0 {
			delete(c.backlog, ch)
		}
	}
}

func (c *Clock) tick(nowMs, tkTime int64) {
	c.slot[0] = (c.slot[0] + 1) & _LEVEL_MASKS[0]
	// 0层触发定时器
	c.trigger(nowMs)
	// 高层轮动
	var level, slot, ticks int64
	for i := 1; i < _TIME_WHEEL_LEVEL; i++ {
		if c.slot[i-1] != 0 {
			break
		}
		c.slot[i] = (c.slot[i] + 1) & _LEVEL_MASKS[i]
		timerList := c.tw[i][c.slot[i]]
		if timerList == nil {
			continue
		}
		timerList.PopRange(func(timer *_Timer) bool {
			// 降层, locs在putTimer里覆盖
			ticks = (timer.when - tkTime + _SI - 1) / _SI //diff 向上取整
			if ticks <= 0 {
				ticks = 1
			}
			for level = 0; level < _TIME_WHEEL_LEVEL; level++ {
				if ticks < _LEVEL_TICKS[level] {
					slot = ((ticks >> _LEVEL_DIVIS[level]) + c.slot[level]) & _LEVEL_MASKS[level]
					break
				}
			}
			if level == _TIME_WHEEL_LEVEL {
				level--
				slot = _LEVEL_MASKS[level]
			}
			c.putTimer(level, slot, timer)
			return true
		})
	}
}

func (c *Clock) run() {
	tickTimer := time.NewTimer(Tick)
	defer tickTimer.Stop()
	var nowMs, tk int64
	for {
		select {
		case <-c.quit:
			return
		case <-tickTimer.C:
			nowMs = utime.NowMs()
			c.flushBacklog()
			tk = c.lastTime + _SI
			c.lastTime += _SI * ((nowMs - c.lastTime) / _SI)
			for ; tk <= c.lastTime; tk += _SI {
				c.tick(nowMs, tk)
			}
			tickTimer.Reset(Tick)
		case fn := <-c.taskch:
			fn()
		}
	}
}

func (c *Clock) pushTask(f func()) error {
	if c.closed.Load() {
		return errs.LoopClosed
	}
	done := make(chan struct{})
	ff := func() {
		defer close(done)
		f()
	}
	select {
	case c.taskch <- ff:
	default:
		return errs.QueueFull.Print("clock task channel full")
	}
	select {
	case <-done:
		return nil
	case <-c.quit:
		// 任务已执行完则以结果为准
		select {
		case <-done:
			return nil
		default:
		}
		return errs.LoopClosed
	}
}
