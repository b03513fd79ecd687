package clock

// Promise 到期通知, 同一tick到期的按Priority升序成批投递
type Promise struct {
	TimerId  int64
	NowTs    int64 // 当前时间戳 毫秒
	Priority int
	Data     any
}

type _Timer struct {
	id         int64             // ID
	when       int64             // 到期时间戳 毫秒
	priority   int               // 越小越先投递
	data       any               // 数据
	batch      chan<- []*Promise // 批量处理器
	prev, next *_Timer           // 双向链表
}

func (t *_Timer) removeFromList() bool {
	if t.prev == nil || t.next == nil {
		return false
	}
	t.prev.next = t.next
	t.next.prev = t.prev
	t.prev = nil
	t.next = nil
	return true
}

type _List struct {
	root *_Timer //哨兵
}

func newTimerList() *_List {
	l := new(_List)
	l.root = new(_Timer)
	l.root.prev = l.root
	l.root.next = l.root
	return l
}

func (l *_List) PushBack(t *_Timer) {
	tail := l.root.prev
	tail.next = t
	t.prev = tail
	t.next = l.root
	l.root.prev = t
}

// IsEmpty 检查链表是否为空
func (l *_List) IsEmpty() bool {
	return l.root.next == l.root
}

// PopRange 删除并遍历链表中的节点
func (l *_List) PopRange(fn func(t *_Timer) bool) {
	for !l.IsEmpty() {
		t := l.root.next
		t.removeFromList()
		if !fn(t) {
			break
		}
	}
}
