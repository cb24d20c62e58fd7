// Package log owns the process-wide structured logger. The default logger is
// a no-op: parsing is silent unless the CLI asks for diagnostics, because
// skipped records are expected noise, not incidents.
package log

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var logger = zap.NewNop()

// Init configures the global logger. verbose enables a console core on
// stderr at debug level; file additionally copies entries to a size-rotated
// log file. With neither, the logger stays a no-op.
func Init(verbose bool, file string) {
	var cores []zapcore.Core

	encoderCfg := zap.NewDevelopmentEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	if verbose {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderCfg),
			zapcore.AddSync(os.Stderr),
			zapcore.DebugLevel,
		))
	}
	if file != "" {
		sink := zapcore.AddSync(&lumberjack.Logger{
			Filename:   file,
			MaxSize:    20, // megabytes
			MaxBackups: 3,
			MaxAge:     14, // days
			Compress:   true,
		})
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderCfg),
			sink,
			zapcore.DebugLevel,
		))
	}

	if len(cores) == 0 {
		logger = zap.NewNop()
		return
	}
	logger = zap.New(zapcore.NewTee(cores...))
}

// L returns the current global logger.
func L() *zap.Logger {
	return logger
}

// Sync flushes buffered entries. Safe to call on the no-op logger.
func Sync() {
	_ = logger.Sync()
}
