// Package es40err defines the error kinds used throughout the emulator
// core. These are kinds, not distinct Go types: a single *Error carries
// a Kind plus the component that raised it and, where useful, the
// file:line of the call site, so that user-facing failures can be
// reported with a clear component prefix.
package es40err

import (
	"errors"
	"fmt"
	"runtime"
)

type Kind int

const (
	Configuration Kind = iota
	Runtime
	InvalidArgument
	NotImplemented
	OutOfMemory
	Thread
	Timeout
	IllegalState
	Graceful
	Abort
	Logic
)

func (k Kind) String() string {
	switch k {
	case Configuration:
		return "Configuration"
	case Runtime:
		return "Runtime"
	case InvalidArgument:
		return "InvalidArgument"
	case NotImplemented:
		return "NotImplemented"
	case OutOfMemory:
		return "OutOfMemory"
	case Thread:
		return "Thread"
	case Timeout:
		return "Timeout"
	case IllegalState:
		return "IllegalState"
	case Graceful:
		return "Graceful"
	case Abort:
		return "Abort"
	default:
		return "Logic"
	}
}

// Error is the single error type for the core. Kind selects propagation
// policy: Configuration/Abort kinds are meant to terminate
// the emulator from the main loop; Graceful triggers an orderly
// save-and-exit; the rest are informational or drive the device
// runtime's watchdog.
type Error struct {
	Kind      Kind
	Component string
	Message   string
	Site      string
	Err       error
}

func (e *Error) Error() string {
	prefix := e.Kind.String()
	if e.Component != "" {
		prefix = e.Component + ": " + prefix
	}
	if e.Site != "" {
		prefix = prefix + " (" + e.Site + ")"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error, capturing the caller's file:line the way
// minilog's prologue captures it for unnamed log lines.
func New(kind Kind, component, format string, arg ...interface{}) *Error {
	_, file, line, ok := runtime.Caller(1)
	site := ""
	if ok {
		site = fmt.Sprintf("%s:%d", shortFile(file), line)
	}
	return &Error{
		Kind:      kind,
		Component: component,
		Message:   fmt.Sprintf(format, arg...),
		Site:      site,
	}
}

// Wrap attaches a kind and component to an existing error.
func Wrap(kind Kind, component string, err error) *Error {
	if err == nil {
		return nil
	}
	_, file, line, ok := runtime.Caller(1)
	site := ""
	if ok {
		site = fmt.Sprintf("%s:%d", shortFile(file), line)
	}
	return &Error{Kind: kind, Component: component, Message: err.Error(), Site: site, Err: err}
}

func shortFile(file string) string {
	for i := len(file) - 1; i > 0; i-- {
		if file[i] == '/' {
			return file[i+1:]
		}
	}
	return file
}

// KindOf reports the Kind of err if it (or something it wraps) is an
// *Error, and false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsGraceful reports whether err is a Graceful shutdown request, the
// one case (per Design Note 9) that unwinds like the source's
// CException rather than returning up the call stack normally.
func IsGraceful(err error) bool {
	k, ok := KindOf(err)
	return ok && k == Graceful
}
