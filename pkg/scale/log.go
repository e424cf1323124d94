package scale

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger denotes the log interface used throughout the driver and its
// transports (satisfied e.g. by logrus.Logger and zap.SugaredLogger)
type Logger interface {
	Error(args ...interface{})
	Errorf(format string, args ...interface{})

	Warn(args ...interface{})
	Warnf(format string, args ...interface{})

	Info(args ...interface{})
	Infof(format string, args ...interface{})

	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
}

// NullLogger discards all messages
type NullLogger struct{}

var _ Logger = (*NullLogger)(nil)

func (*NullLogger) Error(...interface{})          {}
func (*NullLogger) Errorf(string, ...interface{}) {}
func (*NullLogger) Warn(...interface{})           {}
func (*NullLogger) Warnf(string, ...interface{})  {}
func (*NullLogger) Info(...interface{})           {}
func (*NullLogger) Infof(string, ...interface{})  {}
func (*NullLogger) Debug(...interface{})          {}
func (*NullLogger) Debugf(string, ...interface{}) {}

// NewConsoleLogger instantiates a human-readable logger writing to stderr.
// Caller information is only added in debug mode
func NewConsoleLogger(debug bool) (*zap.SugaredLogger, error) {

	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}

	logCfg := zap.NewDevelopmentConfig()
	logCfg.DisableStacktrace = true
	logCfg.DisableCaller = !debug
	logCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	logCfg.Level = zap.NewAtomicLevelAt(level)

	zapLogger, err := logCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate logger: %w", err)
	}

	return zapLogger.Sugar(), nil
}
