package time

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeOffset(t *testing.T) {
	defer SetTimeOffset(0)
	before := NowMs()
	SetTimeOffset(time.Hour)
	assert.Equal(t, time.Hour, GetTimeOffset())
	assert.GreaterOrEqual(t, NowMs()-before, time.Hour.Milliseconds())
}

func TestDeadlineMs(t *testing.T) {
	before := time.Now()
	when := DeadlineMs(50 * time.Millisecond)
	assert.GreaterOrEqual(t, time.UnixMilli(when).Sub(before), 50*time.Millisecond)
	assert.LessOrEqual(t, when, time.Now().Add(51*time.Millisecond).UnixMilli())
}
