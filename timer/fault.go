package timer

import (
	"fmt"

	"github.com/fixkme/timerkit/errs"
	"github.com/fixkme/timerkit/mlog"
)

// FaultError 回调panic后交给FaultHandler的错误
type FaultError struct {
	TimerID   ID
	Recovered any
	Stack     []byte
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("%s,timer %s: %v", errs.CallbackPanic.Error(), e.TimerID, e.Recovered)
}

// Unwrap 同时可以errors.Is到errs.CallbackPanic和panic出来的error
func (e *FaultError) Unwrap() []error {
	if err, ok := e.Recovered.(error); ok {
		return []error{errs.CallbackPanic, err}
	}
	return []error{errs.CallbackPanic}
}

func defaultFaultHandler(t *Timer, err error) {
	if fe, ok := err.(*FaultError); ok {
		mlog.Errorf("timer %s callback fault: %v\n%s", t.ID(), fe.Recovered, fe.Stack)
		return
	}
	mlog.Errorf("timer %s callback fault: %v", t.ID(), err)
}
