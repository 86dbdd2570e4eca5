// Package logger 提供 go-ensync 的统一日志系统
//
// 基于标准库 log/slog，支持：
//   - 按子系统配置日志级别
//   - 环境变量配置（ENSYNC_LOG_LEVEL, ENSYNC_LOG_FORMAT）
//   - 结构化日志
//   - 整体开关（enableLogging 选项，仅影响诊断输出）
//
// 使用示例:
//
//	package connection
//
//	import "github.com/dep2p/go-ensync/internal/util/logger"
//
//	var log = logger.Logger("core/connection")
//
//	func foo() {
//	    log.Info("会话已就绪", "clientId", id)
//	    log.Debug("心跳应答", "rtt", rtt)
//	}
//
// 环境变量配置:
//
//	# 设置所有模块为 info，connection 模块为 debug
//	ENSYNC_LOG_LEVEL=core/connection=debug,info
//
//	# 使用 JSON 格式输出
//	ENSYNC_LOG_FORMAT=json
package logger

import (
	"io"
	"log/slog"
	"sync"
)

var (
	// loggers 缓存各子系统的 Logger
	loggers sync.Map // map[string]*slog.Logger

	// handlers 缓存各子系统的 Handler（用于动态调整级别）
	handlers sync.Map // map[string]*subsystemHandler
)

// Logger 获取指定子系统的 Logger
//
// 同一子系统多次调用会返回相同的 Logger 实例。
func Logger(subsystem string) *slog.Logger {
	if l, ok := loggers.Load(subsystem); ok {
		return l.(*slog.Logger)
	}

	cfg := ConfigFromEnv()
	level := cfg.LevelForSubsystem(subsystem)

	handler := newHandler(subsystem, level, cfg.Format)
	logger := slog.New(handler)

	actual, loaded := loggers.LoadOrStore(subsystem, logger)
	if !loaded {
		handlers.Store(subsystem, handler)
	}

	return actual.(*slog.Logger)
}

// SetLevel 动态设置子系统的日志级别
func SetLevel(subsystem string, level slog.Level) {
	if h, ok := handlers.Load(subsystem); ok {
		h.(*subsystemHandler).SetLevel(level)
	}
}

// SetGlobalLevel 设置所有已创建子系统的日志级别
func SetGlobalLevel(level slog.Level) {
	handlers.Range(func(_, value any) bool {
		value.(*subsystemHandler).SetLevel(level)
		return true
	})
}

// Discard 返回一个丢弃所有日志的 Logger
func Discard() *slog.Logger {
	return slog.New(DiscardHandler())
}

// With 创建带有预设属性的 Logger
func With(subsystem string, args ...any) *slog.Logger {
	return Logger(subsystem).With(args...)
}

// SetOutput 设置全局日志输出目标
//
// 已创建的 Logger 同样生效。
func SetOutput(w io.Writer) {
	globalOutputMu.Lock()
	globalOutput = w
	globalOutputMu.Unlock()
}

// SetEnabled 打开或关闭全部诊断输出
//
// 关闭时输出被丢弃，恢复时回到最近一次 SetOutput 设置的目标。
func SetEnabled(enabled bool) {
	globalOutputMu.Lock()
	defer globalOutputMu.Unlock()
	disabled = !enabled
}

// Enabled 返回诊断输出是否打开
func Enabled() bool {
	globalOutputMu.RLock()
	defer globalOutputMu.RUnlock()
	return !disabled
}
