package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/fixkme/timerkit/eventloop"
	"github.com/fixkme/timerkit/framework/app"
	"github.com/fixkme/timerkit/framework/config"
	"github.com/fixkme/timerkit/mlog"
	"github.com/fixkme/timerkit/timer"
	utime "github.com/fixkme/timerkit/util/time"
)

var (
	configFile = flag.String("config", "", "config file, .json or .yaml")
	interval   = flag.Duration("heartbeat", time.Second, "heartbeat interval")
)

func loadEnv(conf *config.AppConfig) error {
	if v := os.Getenv("TIMERKIT_LOG_LEVEL"); v != "" {
		level, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		conf.LogLevel = level
	}
	return nil
}

func main() {
	flag.Parse()
	conf, err := config.LoadConfig(*configFile, loadEnv)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wg := &sync.WaitGroup{}
	if conf.LogPath != "" {
		err = mlog.UseDefaultLogger(ctx, wg, conf.LogPath, conf.LogName, mlog.Level(conf.LogLevel), conf.LogStdOut)
	} else {
		err = mlog.UseStdLogger(mlog.Level(conf.LogLevel))
	}
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	mlog.Infof("config: %s", conf.JsonFormat())
	utime.SetTimeOffset(conf.TimeOffset())

	loop := eventloop.New(conf.LoopConfig)
	if err := loop.OnInit(); err != nil {
		mlog.Fatalf("init loop: %v", err)
	}
	beats := 0
	_, err = loop.Timers().Add(func(t *timer.Timer) {
		beats++
		mlog.Infof("%s heartbeat %d, %d timers", loop.Name(), beats, loop.Timers().Len())
		if err := t.Rearm(); err != nil {
			mlog.Errorf("heartbeat rearm: %v", err)
		}
	}, timer.WithID(timer.NamedID("heartbeat")), timer.WithDelay(*interval))
	if err != nil {
		mlog.Fatalf("add heartbeat: %v", err)
	}

	if err := app.DefaultApp().Run(ctx, loop); err != nil {
		mlog.Errorf("app run: %v", err)
	}
	cancel()
	wg.Wait()
}
