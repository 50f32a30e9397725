// Package log provides a thin structured-logging façade over go-kit/log,
// matching the call-site shape used throughout this repository:
// log.Info(msg, log.Pairs{...}).
package log

import (
	"os"
	"sync"
	"time"

	kitlog "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

// Pairs is a flattened set of structured fields attached to a log line.
type Pairs map[string]interface{}

// Logger wraps a go-kit logger with leveled helpers and a WarnOnce dedup set.
type Logger struct {
	base kitlog.Logger

	warnOnceMu   sync.Mutex
	warnOnceSeen map[string]struct{}
}

var std = New("info", os.Stderr)

// New constructs a Logger writing to w at the given level ("debug", "info", "warn", "error").
func New(level string, w *os.File) *Logger {
	base := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(w))
	base = kitlog.With(base, "ts", kitlog.TimestampFormat(time.Now, time.RFC3339Nano))
	return &Logger{
		base:         leveled(base, level),
		warnOnceSeen: make(map[string]struct{}),
	}
}

func leveled(base kitlog.Logger, lvl string) kitlog.Logger {
	var opt level.Option
	switch lvl {
	case "debug":
		opt = level.AllowDebug()
	case "warn":
		opt = level.AllowWarn()
	case "error":
		opt = level.AllowError()
	default:
		opt = level.AllowInfo()
	}
	return level.NewFilter(base, opt)
}

// SetDefault replaces the package-level default logger, used after config load.
func SetDefault(l *Logger) { std = l }

func flatten(p Pairs) []interface{} {
	kv := make([]interface{}, 0, len(p)*2)
	for k, v := range p {
		kv = append(kv, k, v)
	}
	return kv
}

func (l *Logger) Debug(msg string, p Pairs) {
	_ = level.Debug(l.base).Log(append([]interface{}{"msg", msg}, flatten(p)...)...)
}

func (l *Logger) Info(msg string, p Pairs) {
	_ = level.Info(l.base).Log(append([]interface{}{"msg", msg}, flatten(p)...)...)
}

func (l *Logger) Warn(msg string, p Pairs) {
	_ = level.Warn(l.base).Log(append([]interface{}{"msg", msg}, flatten(p)...)...)
}

func (l *Logger) Error(msg string, p Pairs) {
	_ = level.Error(l.base).Log(append([]interface{}{"msg", msg}, flatten(p)...)...)
}

// WarnOnce logs at most once per key for the lifetime of the process.
func (l *Logger) WarnOnce(key, msg string, p Pairs) {
	l.warnOnceMu.Lock()
	_, seen := l.warnOnceSeen[key]
	if !seen {
		l.warnOnceSeen[key] = struct{}{}
	}
	l.warnOnceMu.Unlock()
	if seen {
		return
	}
	l.Warn(msg, p)
}

func Debug(msg string, p Pairs)            { std.Debug(msg, p) }
func Info(msg string, p Pairs)             { std.Info(msg, p) }
func Warn(msg string, p Pairs)             { std.Warn(msg, p) }
func Error(msg string, p Pairs)            { std.Error(msg, p) }
func WarnOnce(key, msg string, p Pairs)    { std.WarnOnce(key, msg, p) }
