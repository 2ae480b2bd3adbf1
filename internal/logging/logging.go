package logging

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/yourorg/loadcore/internal/config"
)

// Logger writes timestamped lines to stdout and, when configured, to a debug
// log file that is truncated on construction.
type Logger struct {
	*zap.SugaredLogger
	file *os.File
}

// New builds a Logger from cfg.
func New(cfg config.LogConfig) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stdout), level),
	}

	var file *os.File
	if cfg.File != "" {
		file, err = os.OpenFile(cfg.File, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		if _, err := fmt.Fprintf(file, "Log date: %s\n\n", time.Now().Format("2006-01-02")); err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("write log header: %w", err)
		}
		// The file keeps everything down to debug regardless of the console level.
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(file), zapcore.DebugLevel))
	}

	return &Logger{
		SugaredLogger: zap.New(zapcore.NewTee(cores...)).Sugar(),
		file:          file,
	}, nil
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

// Named returns a child logger with the given name segment.
func (l *Logger) Named(name string) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.Named(name), file: l.file}
}

// Report logs err at error level and returns it unchanged.
func (l *Logger) Report(err error, keysAndValues ...any) error {
	if err != nil {
		l.Errorw(err.Error(), keysAndValues...)
	}
	return err
}

// Close flushes the logger and closes the debug file.
func (l *Logger) Close() error {
	_ = l.Sync()
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
