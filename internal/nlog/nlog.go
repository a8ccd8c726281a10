// Package nlog is the worker's process-wide leveled logger.
//
// It matches the donor's nlog call-site shape (Infof/Infoln/Warningf/
// Errorf/Errorln) but is backed by zap rather than a hand-rolled writer,
// since the donor's own cmn/nlog implementation was not part of the
// retrieved file set.
package nlog

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	logger *zap.SugaredLogger
)

func init() {
	SetLevel("info")
}

// SetLevel rebuilds the underlying logger at the given level ("debug",
// "info", "warn", "error"). Unknown levels fall back to "info".
func SetLevel(level string) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.AddSync(os.Stderr), lvl)
	l := zap.New(core).Sugar()

	mu.Lock()
	logger = l
	mu.Unlock()
}

func cur() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func Infof(format string, args ...any)    { cur().Infof(format, args...) }
func Infoln(args ...any)                  { cur().Info(args...) }
func Warningf(format string, args ...any) { cur().Warnf(format, args...) }
func Warnln(args ...any)                  { cur().Warn(args...) }
func Errorf(format string, args ...any)   { cur().Errorf(format, args...) }
func Errorln(args ...any)                 { cur().Error(args...) }
func Debugf(format string, args ...any)   { cur().Debugf(format, args...) }
func Fatalf(format string, args ...any)   { cur().Fatalf(format, args...) }

// Sync flushes any buffered log entries, best-effort.
func Sync() { _ = cur().Sync() }
