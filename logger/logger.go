// Package logger provides the zap-backed lrgraph.Logger used by the
// commands.
package logger

import (
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Logger wraps a zap SugaredLogger. Printf logs at info level and Debugf at
// debug level, so debug output only shows up in verbose mode.
type Logger struct {
	SugaredLogger *zap.SugaredLogger
}

// New gets a Logger. Verbose loggers use zap's development config at debug
// level; otherwise the production config at info level is used.
func New(verbose bool) (*Logger, error) {
	var cfg zap.Config
	if verbose {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	zapLogger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return NewFromZap(zapLogger), nil
}

// NewFromZap wraps an existing zap logger.
func NewFromZap(z *zap.Logger) *Logger {
	return &Logger{SugaredLogger: z.Sugar()}
}

// Sync flushes buffered log entries.
func (l *Logger) Sync() {
	_ = l.SugaredLogger.Sync()
}

// Printf implements lrgraph.Logger.
func (l *Logger) Printf(format string, v ...interface{}) {
	l.SugaredLogger.Infof(format, v...)
}

// Debugf implements lrgraph.Logger.
func (l *Logger) Debugf(format string, v ...interface{}) {
	l.SugaredLogger.Debugf(format, v...)
}

// Info logs msg with structured context.
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Infow(msg, keysAndValues...)
}

// Error logs msg with structured context.
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Errorw(msg, keysAndValues...)
}

// With returns a Logger which adds the key/value pairs to every entry.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.With(keysAndValues...)}
}

// RunID gets a fresh identifier for tagging the log entries of one run.
func RunID() string {
	return uuid.New().String()
}

