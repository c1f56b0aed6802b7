package utils

import (
	"log"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	instance *Logger
	once     sync.Once
)

// Logger struct
type Logger struct {
	zl *zap.Logger
}

// getDefaultLogFilePath returns the default log file path
func getDefaultLogFilePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		log.Fatalf("Failed to get home directory: %v", err)
	}
	logDir := filepath.Join(homeDir, ".geomys")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		log.Fatalf("Failed to create log directory: %v", err)
	}
	return filepath.Join(logDir, "geomys.log")
}

// NewLogger creates a new logger instance (singleton). Everything goes to
// the log file as JSON; the console gets INFO and above, or DEBUG too when
// debugMode is set.
func NewLogger(logFilePath string, debugMode bool) *Logger {
	once.Do(func() {
		if logFilePath == "" {
			logFilePath = getDefaultLogFilePath()
		}

		file, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			log.Fatalf("Failed to open log file: %v", err)
		}

		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

		consoleLevel := zapcore.InfoLevel
		if debugMode {
			consoleLevel = zapcore.DebugLevel
		}

		core := zapcore.NewTee(
			zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(file), zapcore.DebugLevel),
			zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stdout), consoleLevel),
		)
		instance = &Logger{zl: zap.New(core)}
	})
	return instance
}

// NewNopLogger installs a logger that discards everything, unless one has
// already been created.
func NewNopLogger() *Logger {
	once.Do(func() {
		instance = &Logger{zl: zap.NewNop()}
	})
	return instance
}

// GetLogger retrieves the singleton logger instance
func GetLogger() *Logger {
	if instance == nil {
		log.Fatalf("Logger has not been initialized. Call NewLogger() first.")
	}
	return instance
}

// With returns a child logger carrying the given fields.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{zl: l.zl.With(fields...)}
}

// Sync flushes buffered log entries.
func (l *Logger) Sync() error {
	return l.zl.Sync()
}

// Logging methods
func (l *Logger) Info(message string, fields ...zap.Field) {
	l.zl.Info(message, fields...)
}

func (l *Logger) Warn(message string, fields ...zap.Field) {
	l.zl.Warn(message, fields...)
}

func (l *Logger) Error(message string, fields ...zap.Field) {
	l.zl.Error(message, fields...)
}

func (l *Logger) Debug(message string, fields ...zap.Field) {
	l.zl.Debug(message, fields...)
}
