package mlog

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLevelFilter(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(NewZapLogger(zap.New(core), WarnLevel))
	defer SetLogger(nil)

	Debugf("dropped %d", 1)
	Infof("dropped %d", 2)
	Warnf("kept %d", 3)
	Errorf("kept %d", 4)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "kept 3", entries[0].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
}

func TestNilLogger(t *testing.T) {
	SetLogger(nil)
	Errorf("no logger %d", 1)
	Info("no logger")
}

func TestFileLogger(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}
	require.NoError(t, UseDefaultLogger(ctx, wg, dir, "timer", InfoLevel, false))
	Infof("timer %d armed", 7)
	cancel()
	wg.Wait()
	SetLogger(nil)

	data, err := os.ReadFile(filepath.Join(dir, "timer.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "timer 7 armed")
}
