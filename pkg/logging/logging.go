// Copyright 2025 AUTHORS
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logging is a thin leveled wrapper around the standard log
// package, in the idiom the rest of this codebase's teacher uses
// (log.Printf/log.Fatal everywhere, no structured logging library).
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/fatih/color"
)

// Level orders severities from the most to the least chatty.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarning
	LevelError
)

func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warning", "warn":
		return LevelWarning
	case "error":
		return LevelError
	default:
		return LevelDebug
	}
}

// Logger is a small level-gated logger. The zero value is not usable; use
// New.
type Logger struct {
	level Level
	out   *log.Logger
	color bool
}

// New builds a Logger honoring LOG_LEVEL (trace, debug, info, warning,
// error; default debug) and NO_COLOR, matching spec's environment
// contract. w defaults to os.Stderr when nil.
func New(w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	level := ParseLevel(envOr("LOG_LEVEL", "debug"))
	useColor := os.Getenv("NO_COLOR") == ""
	return &Logger{
		level: level,
		out:   log.New(w, "", log.LstdFlags),
		color: useColor,
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (l *Logger) enabled(lvl Level) bool { return lvl >= l.level }

func (l *Logger) logf(lvl Level, tag string, colorFn func(format string, a ...any) string, format string, args ...any) {
	if !l.enabled(lvl) {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if l.color {
		l.out.Print(colorFn("%s %s", tag, msg))
		return
	}
	l.out.Printf("%s %s", tag, msg)
}

func (l *Logger) Tracef(format string, args ...any) {
	l.logf(LevelTrace, "TRACE", color.New(color.FgCyan).SprintfFunc(), format, args...)
}

func (l *Logger) Debugf(format string, args ...any) {
	l.logf(LevelDebug, "DEBUG", color.New(color.FgBlue).SprintfFunc(), format, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	l.logf(LevelInfo, "INFO", color.New(color.FgGreen).SprintfFunc(), format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.logf(LevelWarning, "WARN", color.New(color.FgYellow).SprintfFunc(), format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.logf(LevelError, "ERROR", color.New(color.FgRed).SprintfFunc(), format, args...)
}
