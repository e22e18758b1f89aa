// Copyright (2012) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

// Package minilog is a small leveled logger shared by every es40 component.
// Components log with a name (their devid_string-equivalent) so that
// user-facing failures carry a clear prefix, per the error handling design.
package minilog

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	FATAL
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "FATAL"
	}
}

const (
	colorLine  = ""
	colorDebug = ""
	colorInfo  = ""
	colorWarn  = ""
	colorError = ""
	colorFatal = ""
	Reset      = ""
)

var (
	mu      sync.Mutex
	loggers = map[string]*minilogger{}
)

func init() {
	loggers["stderr"] = &minilogger{
		logger: log.New(os.Stderr, "", 0),
		Level:  INFO,
	}
}

// AddLogger registers a named handler (e.g. a ring buffer or a file) at the
// given level. Re-registering a name replaces the previous handler.
func AddLogger(name string, w io.Writer, level Level, color bool) {
	mu.Lock()
	defer mu.Unlock()

	loggers[name] = &minilogger{
		logger: log.New(w, "", 0),
		Level:  level,
		Color:  color,
	}
}

// AddHandler registers a handler that already satisfies the Println
// contract (e.g. a *Ring), bypassing the log.Logger wrapper.
func AddHandler(name string, l logger, level Level) {
	mu.Lock()
	defer mu.Unlock()

	loggers[name] = &minilogger{
		logger: l,
		Level:  level,
	}
}

func DelLogger(name string) {
	mu.Lock()
	defer mu.Unlock()
	delete(loggers, name)
}

// Filter suppresses any message containing the given substring on the
// logger registered under name; other loggers are unaffected. Intended for noisy-but-harmless repeated guest register misuse.
func Filter(name, substr string) {
	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[name]; ok {
		l.filters = append(l.filters, substr)
	}
}

func dispatch(level Level, name, format string, arg []interface{}, nl bool) {
	mu.Lock()
	defer mu.Unlock()

	for _, l := range loggers {
		if level < l.Level {
			continue
		}
		if nl {
			l.logln(level, name, arg...)
		} else {
			l.log(level, name, format, arg...)
		}
	}
}

func Debug(format string, arg ...interface{}) { dispatch(DEBUG, "", format, arg, false) }
func Info(format string, arg ...interface{})  { dispatch(INFO, "", format, arg, false) }
func Warn(format string, arg ...interface{})  { dispatch(WARN, "", format, arg, false) }
func Error(format string, arg ...interface{}) { dispatch(ERROR, "", format, arg, false) }

func Fatal(format string, arg ...interface{}) {
	dispatch(FATAL, "", format, arg, false)
	os.Exit(1)
}

func Debugln(arg ...interface{}) { dispatch(DEBUG, "", "", arg, true) }
func Infoln(arg ...interface{})  { dispatch(INFO, "", "", arg, true) }
func Warnln(arg ...interface{})  { dispatch(WARN, "", "", arg, true) }
func Errorln(arg ...interface{}) { dispatch(ERROR, "", "", arg, true) }

func Fatalln(arg ...interface{}) {
	dispatch(FATAL, "", "", arg, true)
	os.Exit(1)
}

// Named returns a logger bound to a component name, so every call site
// doesn't have to repeat it (mirrors each device's devid_string prefix).
func Named(name string) Named_ {
	return Named_(name)
}

type Named_ string

func (n Named_) Debug(format string, arg ...interface{}) {
	dispatch(DEBUG, string(n), format, arg, false)
}
func (n Named_) Info(format string, arg ...interface{}) {
	dispatch(INFO, string(n), format, arg, false)
}
func (n Named_) Warn(format string, arg ...interface{}) {
	dispatch(WARN, string(n), format, arg, false)
}
func (n Named_) Error(format string, arg ...interface{}) {
	dispatch(ERROR, string(n), format, arg, false)
}

// OnceLog's Warn logs format/arg under name at most once per distinct formatted
// message. Used for the "unmapped access, logged once per distinct address"
// rule in the bus fabric.
type OnceLog struct {
	mu   sync.Mutex
	seen map[string]bool
}

func NewOnceLog() *OnceLog {
	return &OnceLog{seen: map[string]bool{}}
}

func (o *OnceLog) Warn(name, format string, arg ...interface{}) {
	msg := fmt.Sprintf(format, arg...)

	o.mu.Lock()
	already := o.seen[msg]
	o.seen[msg] = true
	o.mu.Unlock()

	if !already {
		dispatch(WARN, name, "%s", []interface{}{msg}, false)
	}
}
