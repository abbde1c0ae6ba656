package logging

import "strings"

const (
	LogLevelDebug = 0
	LogLevelInfo  = 1
	LogLevelWarn  = 2
	LogLevelError = 3
)

// Logger is the printf-style interface every component logs through.
// Lines read "Message, key: value, key: value".
type Logger interface {
	LogLevelf(level int, format string, args ...interface{})
	Debugf(msg string, args ...interface{})
	Infof(msg string, args ...interface{})
	Warnf(msg string, args ...interface{})
	Errorf(msg string, args ...interface{})
}

type LogLevelFunc func(level int, format string, args ...interface{})
type LogFunc func(format string, args ...interface{})

// LogFuncs adapts plain functions into a Logger. LogLevelf wins when set.
type LogFuncs struct {
	LogLevelf LogLevelFunc
	Debugf    LogFunc
	Infof     LogFunc
	Warnf     LogFunc
	Errorf    LogFunc
}

// forLevel returns the per-level func, nil when that level is not wired.
func (f LogFuncs) forLevel(level int) LogFunc {
	switch level {
	case LogLevelDebug:
		return f.Debugf
	case LogLevelInfo:
		return f.Infof
	case LogLevelWarn:
		return f.Warnf
	case LogLevelError:
		return f.Errorf
	}
	return nil
}

type funcLogger struct {
	prefix string
	funcs  LogFuncs
}

func NewLogger(prefix string, funcs LogFuncs) Logger {
	return &funcLogger{prefix: prefix, funcs: funcs}
}

// WithPrefix tags every line of base with "[component] ".
func WithPrefix(base Logger, component string) Logger {
	if base == nil {
		return Nop()
	}
	return NewLogger("["+component+"] ", LogFuncs{LogLevelf: base.LogLevelf})
}

func Nop() Logger {
	return NewLogger("", LogFuncs{})
}

// ParseLevel maps a level name to a LogLevel constant. Unknown names are info.
func ParseLevel(name string) int {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LogLevelDebug
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

func (l *funcLogger) LogLevelf(level int, format string, args ...interface{}) {
	format = l.prefix + format
	if l.funcs.LogLevelf != nil {
		l.funcs.LogLevelf(level, format, args...)
		return
	}
	if fn := l.funcs.forLevel(level); fn != nil {
		fn(format, args...)
	}
}

func (l *funcLogger) Debugf(msg string, args ...interface{}) { l.LogLevelf(LogLevelDebug, msg, args...) }
func (l *funcLogger) Infof(msg string, args ...interface{})  { l.LogLevelf(LogLevelInfo, msg, args...) }
func (l *funcLogger) Warnf(msg string, args ...interface{})  { l.LogLevelf(LogLevelWarn, msg, args...) }
func (l *funcLogger) Errorf(msg string, args ...interface{}) { l.LogLevelf(LogLevelError, msg, args...) }
