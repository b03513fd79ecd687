package timer

import "time"

type options struct {
	delay       time.Duration
	hasDelay    bool
	id          ID
	priority    int
	hasPriority bool
}

// Option 创建定时器的可选参数
type Option func(*options)

// WithDelay 创建后立即按d启动
func WithDelay(d time.Duration) Option {
	return func(o *options) {
		o.delay = d
		o.hasDelay = true
	}
}

// WithID 指定id, 已存在的同id定时器会被释放
func WithID(id ID) Option {
	return func(o *options) {
		o.id = id
	}
}

// WithPriority 不指定则用事件循环的默认优先级
func WithPriority(p int) Option {
	return func(o *options) {
		o.priority = p
		o.hasPriority = true
	}
}

type RegistryOption func(*Registry)

func WithFaultHandler(h FaultHandler) RegistryOption {
	return func(r *Registry) {
		if h != nil {
			r.onFault = h
		}
	}
}
