package utils

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const ErrorKey = "error"

// Logger is the logging interface used throughout chatkit. It is a thin
// wrapper over zap's SugaredLogger so that application code never depends on
// zap directly.
type Logger interface {
	// from zap.SugaredLogger
	Debugf(template string, args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
	Infof(template string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnf(template string, args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorf(template string, args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	// implemented here to provide a consistent interface, without exposing
	// *zap.SugaredLogger
	WithError(error) Logger
	With(keysAndValues ...interface{}) Logger
}

type logger struct {
	*zap.SugaredLogger
}

var _ Logger = (*logger)(nil)

func (l *logger) WithError(err error) Logger {
	if err == nil {
		return l
	}
	return &logger{
		SugaredLogger: l.SugaredLogger.With(ErrorKey, err.Error()),
	}
}

func (l *logger) With(keysAndValues ...interface{}) Logger {
	return &logger{
		SugaredLogger: l.SugaredLogger.With(keysAndValues...),
	}
}

// NewLogger wraps an existing zap logger.
func NewLogger(z *zap.Logger) Logger {
	return &logger{
		SugaredLogger: z.Sugar(),
	}
}

// NewTestLogger returns a development-mode logger, suitable for tests.
func NewTestLogger() Logger {
	z, err := zap.NewDevelopmentConfig().Build()
	if err != nil {
		panic(err.Error())
	}
	return &logger{
		SugaredLogger: z.Sugar(),
	}
}

// NilLogger discards everything. Used as the default when no logger is
// configured.
func NilLogger() Logger {
	return &logger{
		SugaredLogger: zap.NewNop().Sugar(),
	}
}

// MustMakeCommandLogger builds a console logger for CLI commands, at the
// requested level.
func MustMakeCommandLogger(level zapcore.Level) Logger {
	encodingConfig := zap.NewProductionEncoderConfig()
	encodingConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encodingConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encodingConfig.EncodeDuration = zapcore.StringDurationEncoder
	encodingConfig.EncodeCaller = zapcore.ShortCallerEncoder

	zconf := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Encoding:         "console",
		EncoderConfig:    encodingConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	z, err := zconf.Build()
	if err != nil {
		panic(err.Error())
	}
	return &logger{
		SugaredLogger: z.Sugar(),
	}
}
