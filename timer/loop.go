package timer

import "time"

// Handle 事件循环里的定时器资源, 0表示无效
type Handle uint64

// EventLoop 定时器依赖的事件循环.
// 到期时在循环自己的协程里调用CreateTimer传入的fire, 同时到期的按优先级先后调用.
// Arm返回本次启动的序号, fire带上触发的那次启动的序号.
type EventLoop interface {
	CreateTimer(fire func(seq uint64)) (Handle, error)
	Arm(h Handle, d time.Duration) (seq uint64, err error)
	Disarm(h Handle) error
	SetPriority(h Handle, priority int) error
	Priority(h Handle) (int, error)
	DestroyTimer(h Handle) error
}

// Callback 到期回调, 参数是触发的定时器本身
type Callback func(t *Timer)

// FaultHandler 回调出错(panic)时调用, 整个Registry只有一个
type FaultHandler func(t *Timer, err error)
