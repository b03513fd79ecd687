package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/fixkme/timerkit/mlog"
)

// 节点全局状态
const (
	AppStateNone = iota // 未开始或已停止
	AppStateInit        // 正在初始化中
	AppStateRun         // 正在运行中
	AppStateStop        // 正在停止中
)

var ErrStarted = errors.New("app mods cannot start twice")

// 单例
var defaultApp = new(App)

type Module interface {
	OnInit() error // 初始化
	Destroy()      // 销毁, Run需要随之返回
	Run()          // 启动, 阻塞
	Name() string  // 名字
}

// DefaultApp 默认单例
func DefaultApp() *App {
	return defaultApp
}

// App 中的 modules 在初始化之后不能变更
type App struct {
	mu    sync.Mutex
	mods  []Module
	state int32
	wg    sync.WaitGroup
}

func (app *App) setState(s int32) {
	atomic.StoreInt32(&app.state, s)
}

func (app *App) GetState() int32 {
	return atomic.LoadInt32(&app.state)
}

// Start 按顺序初始化并启动, 任一模块初始化失败则销毁已初始化的模块
func (app *App) Start(mods ...Module) error {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.GetState() != AppStateNone || len(app.mods) != 0 {
		return ErrStarted
	}
	if len(mods) == 0 {
		return nil
	}
	mlog.Info("app starting up")
	app.setState(AppStateInit)
	for i, m := range mods {
		if err := m.OnInit(); err != nil {
			for j := i - 1; j >= 0; j-- {
				destroy(mods[j])
			}
			app.setState(AppStateNone)
			return fmt.Errorf("module %s init: %w", m.Name(), err)
		}
	}
	app.mods = mods
	for _, m := range app.mods {
		app.wg.Add(1)
		go run(m, &app.wg)
	}
	app.setState(AppStateRun)
	mlog.Info("app started")
	return nil
}

// Stop 先进后出销毁模块, 等待所有Run返回
func (app *App) Stop() {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.GetState() != AppStateRun {
		return
	}
	mlog.Info("app stop begin")
	app.setState(AppStateStop)
	for i := len(app.mods) - 1; i >= 0; i-- {
		m := app.mods[i]
		mlog.Infof("app stop module %s", m.Name())
		destroy(m)
	}
	app.wg.Wait()
	app.mods = nil
	app.setState(AppStateNone)
	mlog.Info("app stopped")
}

func run(m Module, wg *sync.WaitGroup) {
	defer wg.Done()
	defer func() {
		if r := recover(); r != nil {
			mlog.Errorf("%s module run panic: %v\n%s", m.Name(), r, debug.Stack())
		}
	}()
	m.Run()
}

func destroy(m Module) {
	defer func() {
		if r := recover(); r != nil {
			mlog.Errorf("%s module destroy panic: %v\n%s", m.Name(), r, debug.Stack())
		}
	}()

	m.Destroy()
}

// Run 启动后阻塞到ctx结束或收到SIGINT/SIGTERM, SIGHUP忽略
func (app *App) Run(ctx context.Context, mods ...Module) error {
	if err := app.Start(mods...); err != nil {
		return err
	}
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sig)
loop:
	for {
		select {
		case <-ctx.Done():
			mlog.Info("app closing down (context done)")
			break loop
		case s := <-sig:
			if s == syscall.SIGHUP {
				mlog.Infof("app ignore signal: %v", s)
				continue
			}
			mlog.Infof("app closing down (signal: %v)", s)
			break loop
		}
	}
	app.Stop()
	return nil
}
