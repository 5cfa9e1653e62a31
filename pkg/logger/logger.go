package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	logFilePermissions = 0600
	infoLogLevel       = "info"
)

// Global variables
var (
	globalLogger *zap.Logger
	loggerMutex  sync.RWMutex
	once         sync.Once

	// Global settings. Console logging is off by default: when serving MCP
	// over stdio, stdout carries protocol frames and must stay clean.
	GlobalEnableConsoleLogger bool
	GlobalEnableFileLogger    bool   = true
	GlobalLogPath             string = "/tmp/sshmcp.log"
	GlobalLogLevel            string = infoLogLevel
	GlobalLogFile             *os.File
)

// Logger wraps a zap logger with printf-style helpers.
type Logger struct {
	*zap.Logger
}

// InitLoggerOutputs applies resolved logging settings to the globals.
// Empty values leave the current defaults in place. Call before the first
// InitProduction or Get.
func InitLoggerOutputs(level, path string) {
	if level != "" {
		GlobalLogLevel = level
	}
	if path != "" {
		GlobalLogPath = path
	}
}

// InitProduction builds the global logger. Safe to call more than once.
func InitProduction() {
	once.Do(func() {
		if GlobalLogLevel == "" {
			GlobalLogLevel = infoLogLevel
		}
		level := zap.NewAtomicLevelAt(getZapLevel(GlobalLogLevel))

		var cores []zapcore.Core
		if GlobalEnableFileLogger {
			if fileCore, err := createFileCore(level); err == nil {
				cores = append(cores, fileCore)
			}
		}
		if GlobalEnableConsoleLogger {
			cores = append(cores, zapcore.NewCore(
				zapcore.NewConsoleEncoder(encoderConfig()),
				zapcore.AddSync(os.Stderr),
				level,
			))
		}

		core := zapcore.NewTee(cores...)
		globalLogger = zap.New(core, zap.AddCaller()).Named("sshmcp")
	})
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     customTimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

func createFileCore(level zap.AtomicLevel) (zapcore.Core, error) {
	logFile, err := os.OpenFile(
		GlobalLogPath,
		os.O_APPEND|os.O_CREATE|os.O_WRONLY,
		logFilePermissions,
	)
	if err != nil {
		return nil, err
	}
	GlobalLogFile = logFile

	return zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig()),
		zapcore.AddSync(logFile),
		level,
	), nil
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.Logger.Debug(fmt.Sprintf(format, args...))
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.Logger.Info(fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.Logger.Warn(fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.Logger.Error(fmt.Sprintf(format, args...))
}

func customTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(fmt.Sprintf("[%s]", t.Format("2006-01-02 15:04:05")))
}

func getZapLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Get returns the global logger, initializing it if needed.
func Get() *Logger {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()

	if globalLogger == nil {
		InitProduction()
	}
	return &Logger{Logger: globalLogger}
}

// SetGlobalLogger replaces the global logger. Used by tests.
func SetGlobalLogger(l *Logger) {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()
	globalLogger = l.Logger
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *Logger {
	return &Logger{Logger: zap.NewNop()}
}
