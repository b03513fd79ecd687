package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultTaskQueueSize  = 10240
	DefaultTimerQueueSize = 1024
	DefaultPriority       = 0
)

type AppConfig struct {
	AppName      string `json:"app_name" yaml:"app_name" mapstructure:"app_name"`
	TimeOffsetMs int64  `json:"time_offset_ms" yaml:"time_offset_ms" mapstructure:"time_offset_ms"` //时间偏移 毫秒, 整个进程共用
	LogConfig    `json:",inline" yaml:",inline" mapstructure:",inline"`
	LoopConfig   `json:",inline" yaml:",inline" mapstructure:",inline"`
}

// TimeOffset 进程级时间偏移, 要在创建loop之前设置
func (c *AppConfig) TimeOffset() time.Duration {
	return time.Duration(c.TimeOffsetMs) * time.Millisecond
}

type LogConfig struct {
	LogPath   string `json:"log_path" yaml:"log_path" mapstructure:"log_path"`
	LogName   string `json:"log_name" yaml:"log_name" mapstructure:"log_name"`
	LogLevel  int    `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
	LogStdOut bool   `json:"log_std_out" yaml:"log_std_out" mapstructure:"log_std_out"`
}

type LoopConfig struct {
	LoopName        string `json:"loop_name" yaml:"loop_name" mapstructure:"loop_name"`                      //为空时自动生成
	TaskQueueSize   int    `json:"task_queue_size" yaml:"task_queue_size" mapstructure:"task_queue_size"`    //投递到loop协程的任务队列长度
	TimerQueueSize  int    `json:"timer_queue_size" yaml:"timer_queue_size" mapstructure:"timer_queue_size"` //到期定时器批次队列长度
	DefaultPriority int    `json:"default_priority" yaml:"default_priority" mapstructure:"default_priority"` //未指定优先级时使用, 越小越先触发
}

// Normalize 零值填默认
func (c *LoopConfig) Normalize() {
	if c.TaskQueueSize <= 0 {
		c.TaskQueueSize = DefaultTaskQueueSize
	}
	if c.TimerQueueSize <= 0 {
		c.TimerQueueSize = DefaultTimerQueueSize
	}
}

// LoadConfig configFile为空时只走env, 扩展名决定json或yaml
func LoadConfig(configFile string, loadConfigFromEnv func(*AppConfig) error) (*AppConfig, error) {
	conf := new(AppConfig)
	if len(configFile) != 0 {
		if err := loadConfigFromFile(configFile, conf); err != nil {
			return nil, err
		}
	}
	if loadConfigFromEnv != nil {
		if err := loadConfigFromEnv(conf); err != nil {
			return nil, err
		}
	}
	conf.LoopConfig.Normalize()
	return conf, nil
}

func loadConfigFromFile(configFile string, conf *AppConfig) error {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return err
	}
	switch ext := strings.ToLower(filepath.Ext(configFile)); ext {
	case ".json":
		err = json.Unmarshal(data, conf)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, conf)
	default:
		return fmt.Errorf("config: unsupported file type %q", ext)
	}
	if err != nil {
		return fmt.Errorf("config: parse %s: %w", configFile, err)
	}
	return nil
}

func (conf *AppConfig) JsonFormat() string {
	if conf == nil {
		return "{}"
	}
	data, err := json.MarshalIndent(conf, "", "  ")
	if err != nil {
		return ""
	}
	return string(data)
}
