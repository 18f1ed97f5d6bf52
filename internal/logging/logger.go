// Package logging builds the zap logger used across the watcher
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options controls logger construction
type Options struct {
	Dir   string // Directory for the daily log files; empty disables the file core
	Level string // debug, info, warn, error
	Debug bool   // Forces debug level
}

func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New builds a logger writing colored console output to stderr and plain
// console-encoded lines to the current day's file under opts.Dir.
// The returned DailyFile is nil when opts.Dir is empty.
func New(opts Options) (*zap.Logger, *DailyFile, error) {
	level := parseLevel(opts.Level)
	if opts.Debug {
		level = zapcore.DebugLevel
	}
	atom := zap.NewAtomicLevelAt(level)

	consoleCfg := zap.NewDevelopmentEncoderConfig()
	consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	consoleCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.Lock(os.Stderr), atom),
	}

	var daily *DailyFile
	if opts.Dir != "" {
		var err error
		daily, err = NewDailyFile(opts.Dir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize log file: %w", err)
		}

		fileCfg := zap.NewDevelopmentEncoderConfig()
		fileCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		fileCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(fileCfg), daily, atom))
	}

	logger := zap.New(zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.ErrorOutput(zapcore.Lock(os.Stderr)),
	)
	return logger, daily, nil
}
