package types

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logger every component receives.
// ErrorWithErrStack also prints the innermost recorded stack of err.
type Logger interface {
	Error(msg string, fields ...zap.Field)
	ErrorWithErrStack(msg string, err error, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Debug(msg string, fields ...zap.Field)
	Log(lvl zapcore.Level, msg string, fields ...zap.Field)
}

// LoggerManager is a Logger whose Stop flushes buffered output.
type LoggerManager interface {
	LifecycleManager
	Logger
}

type LoggerCreator func(config *LoggerConfig) (Logger, error)
