package logger

import (
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const timeLayout = "2006/01/02 15:04:05"

var (
	logMu sync.RWMutex
	base  = zap.New(stdoutCore())
	sugar = base.Sugar()
	file  *dailyFile
)

// Init adds a file sink under dir/logs, one file per day.
// An empty dir keeps stdout-only logging.
func Init(logDir string) error {
	if logDir == "" {
		return nil
	}
	// If caller passes /lockr_data, write logs to /lockr_data/logs.
	resolved := logDir
	if path.Base(filepath.ToSlash(logDir)) != "logs" {
		resolved = filepath.Join(logDir, "logs")
	}
	if err := os.MkdirAll(resolved, 0755); err != nil {
		return err
	}

	df := &dailyFile{dir: resolved}
	if err := df.rotate(time.Now()); err != nil {
		return err
	}
	fileCore := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig(false)), df, zapcore.DebugLevel)

	logMu.Lock()
	defer logMu.Unlock()
	if file != nil {
		_ = file.Close()
	}
	file = df
	setLocked(zap.New(zapcore.NewTee(stdoutCore(), fileCore)))
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	_ = base.Sync()
	resetLocked()
}

// Reset drops any file sink and any logger installed with SetLogger, going back to stdout.
func Reset() {
	logMu.Lock()
	defer logMu.Unlock()
	resetLocked()
}

// L returns the underlying logger for structured fields.
func L() *zap.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	return base
}

// SetLogger replaces the process logger and returns a func restoring the previous one.
func SetLogger(l *zap.Logger) (restore func()) {
	logMu.Lock()
	defer logMu.Unlock()
	prev := base
	setLocked(l)
	return func() {
		logMu.Lock()
		defer logMu.Unlock()
		setLocked(prev)
	}
}

func Debug(format string, args ...interface{}) {
	current().Debugf(format, args...)
}

func Info(format string, args ...interface{}) {
	current().Infof(format, args...)
}

func Warn(format string, args ...interface{}) {
	current().Warnf(format, args...)
}

func Error(format string, args ...interface{}) {
	current().Errorf(format, args...)
}

func current() *zap.SugaredLogger {
	logMu.RLock()
	defer logMu.RUnlock()
	return sugar
}

func resetLocked() {
	if file != nil {
		_ = file.Close()
		file = nil
	}
	setLocked(zap.New(stdoutCore()))
}

func setLocked(l *zap.Logger) {
	base = l
	sugar = l.Sugar()
}

func stdoutCore() zapcore.Core {
	return zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig(true)), zapcore.Lock(os.Stdout), zapcore.DebugLevel)
}

func encoderConfig(color bool) zapcore.EncoderConfig {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout(timeLayout)
	cfg.CallerKey = ""
	cfg.NameKey = ""
	cfg.StacktraceKey = ""
	if color {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	return cfg
}
