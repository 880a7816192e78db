package loggers

import (
	"github.com/hellobchain/limsflow/common/config"
	"github.com/hellobchain/wswlog/wlogging"
)

// LogConfig 当前生效的日志切割配置, Setup 之前为 nil
var LogConfig *wlogging.LogConfig

// Setup 按配置将全局日志输出切换到按时间切割的文件, 并设置日志级别.
// 各包通过 wlogging.MustGetLoggerWithoutName 获取的 logger 共享该输出.
func Setup(cfg config.LogConfig) *wlogging.WswLogger {
	LogConfig = &wlogging.LogConfig{
		LogPath:      cfg.Path,
		MaxAge:       cfg.MaxAge,
		RotationTime: cfg.RotationTime,
		RotationSize: cfg.RotationSize,
		Console:      cfg.Console,
	}
	logger := wlogging.MustGetFileLoggerWithoutName(LogConfig)
	if cfg.Level != "" {
		wlogging.SetGlobalLogLevel(cfg.Level)
	}
	return logger
}
