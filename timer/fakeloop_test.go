package timer

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/fixkme/timerkit/errs"
)

const fakeDefaultPriority = 10

type fakeHandle struct {
	h        Handle
	fire     func(seq uint64)
	armed    bool
	seq      uint64
	delay    time.Duration
	armCount int
	priority int
}

// fakeLoop 手动触发的事件循环
type fakeLoop struct {
	mu        sync.Mutex
	next      Handle
	handles   map[Handle]*fakeHandle
	destroyed map[Handle]int
	failArm   error
}

func newFakeLoop() *fakeLoop {
	return &fakeLoop{
		handles:   make(map[Handle]*fakeHandle),
		destroyed: make(map[Handle]int),
	}
}

func (l *fakeLoop) CreateTimer(fire func(seq uint64)) (Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next++
	l.handles[l.next] = &fakeHandle{h: l.next, fire: fire, priority: fakeDefaultPriority}
	return l.next, nil
}

func (l *fakeLoop) get(h Handle) (*fakeHandle, error) {
	fh, ok := l.handles[h]
	if !ok {
		return nil, errs.UnknownHandle.Printf("handle %d", h)
	}
	return fh, nil
}

func (l *fakeLoop) Arm(h Handle, d time.Duration) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failArm != nil {
		return 0, l.failArm
	}
	fh, err := l.get(h)
	if err != nil {
		return 0, err
	}
	fh.armed = true
	fh.delay = d
	fh.armCount++
	fh.seq++
	return fh.seq, nil
}

func (l *fakeLoop) Disarm(h Handle) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	fh, err := l.get(h)
	if err != nil {
		return err
	}
	fh.armed = false
	return nil
}

func (l *fakeLoop) SetPriority(h Handle, p int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	fh, err := l.get(h)
	if err != nil {
		return err
	}
	fh.priority = p
	return nil
}

func (l *fakeLoop) Priority(h Handle) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fh, err := l.get(h)
	if err != nil {
		return 0, err
	}
	return fh.priority, nil
}

func (l *fakeLoop) DestroyTimer(h Handle) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.destroyed[h]++
	if _, ok := l.handles[h]; !ok {
		return errs.UnknownHandle.Printf("handle %d", h)
	}
	delete(l.handles, h)
	return nil
}

func (l *fakeLoop) handle(t *Timer) *fakeHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	fh, ok := l.handles[t.handle]
	if !ok {
		return nil
	}
	c := *fh
	return &c
}

func (l *fakeLoop) destroyCount(h Handle) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.destroyed[h]
}

// takeDue 取出所有已启动的定时器但先不触发, 按时长再按优先级排序
func (l *fakeLoop) takeDue() []func() {
	l.mu.Lock()
	var due []*fakeHandle
	for _, fh := range l.handles {
		if fh.armed {
			fh.armed = false
			due = append(due, fh)
		}
	}
	l.mu.Unlock()
	slices.SortFunc(due, func(a, b *fakeHandle) int {
		if c := cmp.Compare(a.delay, b.delay); c != 0 {
			return c
		}
		return cmp.Compare(a.priority, b.priority)
	})
	fires := make([]func(), 0, len(due))
	for _, fh := range due {
		fire, seq := fh.fire, fh.seq
		fires = append(fires, func() { fire(seq) })
	}
	return fires
}

// fireDue 触发所有已启动的定时器, 返回触发个数
func (l *fakeLoop) fireDue() int {
	fires := l.takeDue()
	for _, fire := range fires {
		fire()
	}
	return len(fires)
}
