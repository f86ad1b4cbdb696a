// Package log provides the process-wide zap logger and its adjustable level.
package log

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logging surface components accept.
type Logger interface {
	Debugw(msg string, keysAndValues ...any)
	Infow(msg string, keysAndValues ...any)
	Warnw(msg string, keysAndValues ...any)
	Errorw(msg string, keysAndValues ...any)
}

var (
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)

	buildOnce sync.Once
	shared    *zap.SugaredLogger
)

func encoding() zapcore.EncoderConfig {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "time"
	enc.MessageKey = "msg"
	enc.LevelKey = "level"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	return enc
}

// Shared returns the JSON logger writing to stderr, built on first use.
func Shared() *zap.SugaredLogger {
	buildOnce.Do(func() {
		sink := zapcore.Lock(os.Stderr)
		core := zapcore.NewCore(zapcore.NewJSONEncoder(encoding()), sink, level)
		shared = zap.New(core, zap.AddCaller(), zap.ErrorOutput(sink)).Sugar()
	})
	return shared
}

// SetLevel changes the minimum level of Shared. Blank names leave it as is.
func SetLevel(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return fmt.Errorf("log level %q: %w", name, err)
	}
	return nil
}

// Level reports the current minimum level.
func Level() string {
	return level.Level().String()
}

// Sync flushes Shared. Terminals and pipes reject fsync; those errors are dropped.
func Sync() error {
	err := Shared().Sync()
	if err == nil || errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) || errors.Is(err, syscall.EBADF) {
		return nil
	}
	return err
}
