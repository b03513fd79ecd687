package time

import (
	"sync/atomic"
	"time"
)

var timeOffset atomic.Int64 // 时间偏移 ns

// SetTimeOffset 设置时间偏移量, 整个进程共用, 时间轮按偏移后的时间推进
func SetTimeOffset(newOffset time.Duration) {
	timeOffset.Store(int64(newOffset))
}

// GetTimeOffset 获取时间偏移量
func GetTimeOffset() time.Duration {
	return time.Duration(timeOffset.Load())
}

// Now 获取当前时间
func Now() time.Time {
	now := time.Now()
	if off := timeOffset.Load(); off != 0 {
		now = now.Add(time.Duration(off))
	}
	return now
}

// NowMs 获取当前时间的毫秒时间戳
func NowMs() int64 {
	return Now().UnixMilli()
}

// DeadlineMs 当前时间加d后向上取整到毫秒, 保证到期时不早于d
func DeadlineMs(d time.Duration) int64 {
	if d < 0 {
		d = 0
	}
	ns := Now().UnixNano() + int64(d)
	return (ns + int64(time.Millisecond) - 1) / int64(time.Millisecond)
}
