// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package cclog is a small leveled, printf-style logger used throughout
// the engine instead of the bare standard library logger.
package cclog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

var (
	mu    sync.Mutex
	out   io.Writer = os.Stderr
	level           = LevelInfo
)

// SetOutput redirects log output; used by tests to capture log lines.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

func logf(l Level, format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	if l < level {
		return
	}
	ts := time.Now().Format("2006-01-02T15:04:05.000Z07:00")
	fmt.Fprintf(out, "%s [%s] %s\n", ts, l, fmt.Sprintf(format, args...))
}

func Debugf(format string, args ...any) { logf(LevelDebug, format, args...) }
func Infof(format string, args ...any)  { logf(LevelInfo, format, args...) }
func Warnf(format string, args ...any)  { logf(LevelWarn, format, args...) }
func Errorf(format string, args ...any) { logf(LevelError, format, args...) }

func Debug(args ...any) { logf(LevelDebug, "%s", fmt.Sprint(args...)) }
func Info(args ...any)  { logf(LevelInfo, "%s", fmt.Sprint(args...)) }
func Warn(args ...any)  { logf(LevelWarn, "%s", fmt.Sprint(args...)) }
func Error(args ...any) { logf(LevelError, "%s", fmt.Sprint(args...)) }

// Fatalf logs at error level then terminates the process. Reserved for
// startup-time integrity errors (§7 Fatal); never called from request
// or write-path code.
func Fatalf(format string, args ...any) {
	logf(LevelError, format, args...)
	os.Exit(1)
}
