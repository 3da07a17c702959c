package log

import (
	"fmt"

	"github.com/spf13/cast"
	"github.com/vuuvv/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.Logger

var nop = zap.NewNop()

// Logger 未设置时返回 nop logger，库使用者不必先调用 Setup
func Logger() *zap.Logger {
	if logger == nil {
		return nop
	}
	return logger
}

func SetLogger(l *zap.Logger) {
	logger = l
}

// SetDefaultLogger also replaces the zap globals, for code logging through
// zap.L().
func SetDefaultLogger(l *zap.Logger) {
	zap.ReplaceGlobals(l)
}

// Enabled reports whether level would be written, so callers can skip
// building fields for messages nobody reads.
func Enabled(level zapcore.Level) bool {
	return Logger().Core().Enabled(level)
}

// Decode returns the logger for one dissector invocation.
func Decode(frame uint32, protocol string, depth int) *zap.Logger {
	l := Logger()
	if l == nop {
		return l
	}
	return l.With(zap.Uint32("frame", frame), zap.String("protocol", protocol), zap.Int("depth", depth))
}

func reasonString(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return cast.ToString(val)
	}
}

// CastToError turns a recovered value or error into an error carrying the
// caller's stack. The message includes the stack at debug level.
func CastToError(reason any) (msg string, err error) {
	switch v := reason.(type) {
	case nil:
		err = errors.NewAndSkip("Unknown Error", 2)
	case error:
		err = errors.WithStackAndSkip(v, 2)
	default:
		err = errors.NewAndSkip(reasonString(v), 2)
	}

	if Enabled(zap.DebugLevel) {
		return fmt.Sprintf("%+v", err), err
	}
	return err.Error(), err
}

func Error(reason any, field ...zap.Field) {
	msg, err := CastToError(reason)
	Logger().Error(msg, append(field, zap.Error(err))...)
}

func Warn(reason any, field ...zap.Field) {
	msg, err := CastToError(reason)
	Logger().Warn(msg, append(field, zap.Error(err))...)
}

func Info(msg string, field ...zap.Field) {
	Logger().Info(msg, field...)
}

func Debug(msg string, field ...zap.Field) {
	Logger().Debug(msg, field...)
}
