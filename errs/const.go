package errs

const (
	ErrCode_OK            = 0
	ErrCode_Unknown       = 1
	ErrCode_NoDelay       = 2
	ErrCode_BadDelay      = 3
	ErrCode_LoopClosed    = 4
	ErrCode_QueueFull     = 5
	ErrCode_UnknownHandle = 6
	ErrCode_CallbackPanic = 7
	ErrCode_BadCallback   = 8
)

var (
	Unknown       = CreateCodeError(ErrCode_Unknown, "UNKNOWN")
	NoDelay       = CreateCodeError(ErrCode_NoDelay, "NO_DELAY")
	BadDelay      = CreateCodeError(ErrCode_BadDelay, "BAD_DELAY")
	LoopClosed    = CreateCodeError(ErrCode_LoopClosed, "LOOP_CLOSED")
	QueueFull     = CreateCodeError(ErrCode_QueueFull, "QUEUE_FULL")
	UnknownHandle = CreateCodeError(ErrCode_UnknownHandle, "UNKNOWN_HANDLE")
	CallbackPanic = CreateCodeError(ErrCode_CallbackPanic, "CALLBACK_PANIC")
	BadCallback   = CreateCodeError(ErrCode_BadCallback, "BAD_CALLBACK")
)
