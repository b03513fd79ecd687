package mlog

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	maxFileSizeMB  = 100
	maxFileBackups = 10
	maxFileAgeDays = 7
)

// zapLogger 等级过滤由mlog.Level负责, zap只负责编码输出
type zapLogger struct {
	level Level
	sugar *zap.SugaredLogger
	file  *lumberjack.Logger
}

// NewZapLogger 包装已有的zap.Logger, 测试里可以配合zaptest/observer使用
func NewZapLogger(z *zap.Logger, level Level) Logger {
	return &zapLogger{
		level: level,
		sugar: z.WithOptions(zap.AddCallerSkip(2)).Sugar(),
	}
}

func newStdoutLogger(level Level) *zapLogger {
	core := zapcore.NewCore(newEncoder(), zapcore.Lock(os.Stdout), zapcore.DebugLevel)
	return &zapLogger{
		level: level,
		sugar: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2)).Sugar(),
	}
}

func newFileLogger(logpath, logName string, level Level, stdOut bool) (*zapLogger, error) {
	// 默认使用当前路径
	if len(logpath) == 0 {
		logpath = "."
	}
	if err := os.MkdirAll(logpath, 0755); err != nil {
		return nil, err
	}
	file := &lumberjack.Logger{
		Filename:   filepath.Join(logpath, genLogName(logName)),
		MaxSize:    maxFileSizeMB,
		MaxBackups: maxFileBackups,
		MaxAge:     maxFileAgeDays,
		LocalTime:  true,
	}
	core := zapcore.NewCore(newEncoder(), zapcore.AddSync(file), zapcore.DebugLevel)
	if stdOut {
		core = zapcore.NewTee(core, zapcore.NewCore(newEncoder(), zapcore.Lock(os.Stdout), zapcore.DebugLevel))
	}
	return &zapLogger{
		level: level,
		sugar: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2)).Sugar(),
		file:  file,
	}, nil
}

func newEncoder() zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05.000000")
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewConsoleEncoder(cfg)
}

func genLogName(logName string) string {
	if logName == "" {
		logName = "mlog"
	}
	return logName + ".log"
}

func (me *zapLogger) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		_ = me.sugar.Sync()
		if me.file != nil {
			_ = me.file.Close()
		}
	}()
}

func (me *zapLogger) IsLevelEnabled(level Level) bool {
	return me.level >= level
}

func (me *zapLogger) log(level Level, args []any) {
	if !me.IsLevelEnabled(level) {
		return
	}
	switch level {
	case FatalLevel:
		me.sugar.Fatal(args...)
	case ErrorLevel:
		me.sugar.Error(args...)
	case WarnLevel:
		me.sugar.Warn(args...)
	case NoticeLevel, InfoLevel:
		me.sugar.Info(args...)
	default:
		me.sugar.Debug(args...)
	}
}

func (me *zapLogger) logf(level Level, format string, args []any) {
	if !me.IsLevelEnabled(level) {
		return
	}
	switch level {
	case FatalLevel:
		me.sugar.Fatalf(format, args...)
	case ErrorLevel:
		me.sugar.Errorf(format, args...)
	case WarnLevel:
		me.sugar.Warnf(format, args...)
	case NoticeLevel, InfoLevel:
		me.sugar.Infof(format, args...)
	default:
		me.sugar.Debugf(format, args...)
	}
}

func (me *zapLogger) Trace(v ...any)  { me.log(TraceLevel, v) }
func (me *zapLogger) Debug(v ...any)  { me.log(DebugLevel, v) }
func (me *zapLogger) Info(v ...any)   { me.log(InfoLevel, v) }
func (me *zapLogger) Notice(v ...any) { me.log(NoticeLevel, v) }
func (me *zapLogger) Warn(v ...any)   { me.log(WarnLevel, v) }
func (me *zapLogger) Error(v ...any)  { me.log(ErrorLevel, v) }
func (me *zapLogger) Fatal(v ...any)  { me.log(FatalLevel, v) }

func (me *zapLogger) Tracef(format string, v ...any)  { me.logf(TraceLevel, format, v) }
func (me *zapLogger) Debugf(format string, v ...any)  { me.logf(DebugLevel, format, v) }
func (me *zapLogger) Infof(format string, v ...any)   { me.logf(InfoLevel, format, v) }
func (me *zapLogger) Noticef(format string, v ...any) { me.logf(NoticeLevel, format, v) }
func (me *zapLogger) Warnf(format string, v ...any)   { me.logf(WarnLevel, format, v) }
func (me *zapLogger) Errorf(format string, v ...any)  { me.logf(ErrorLevel, format, v) }
func (me *zapLogger) Fatalf(format string, v ...any)  { me.logf(FatalLevel, format, v) }
