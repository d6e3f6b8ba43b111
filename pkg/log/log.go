// Copyright 2019 Intel Corporation. All Rights Reserved.
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

package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Level is the log message severity level below which we suppress messages.
type Level int32

const (
	// LevelDebug corresponds to debug messages.
	LevelDebug Level = iota
	// LevelInfo corresponds to informational messages.
	LevelInfo
	// LevelWarn corresponds to warning messages.
	LevelWarn
	// LevelError corresponds to error messages.
	LevelError
)

// Logger is the interface for producing log messages for/from a particular source.
type Logger interface {
	// Debug formats and emits a debug message.
	Debug(format string, args ...interface{})
	// Info formats and emits an informational message.
	Info(format string, args ...interface{})
	// Warn formats and emits a warning message.
	Warn(format string, args ...interface{})
	// Error formats and emits an error message.
	Error(format string, args ...interface{})
	// Panic formats and emits an error message then panics with the same.
	Panic(format string, args ...interface{})
	// Fatal formats and emits an error message and os.Exit()'s with status 1.
	Fatal(format string, args ...interface{})

	// DebugBlock formats and emits a multiline debug message.
	DebugBlock(prefix string, format string, args ...interface{})
	// InfoBlock formats and emits a multiline information message.
	InfoBlock(prefix string, format string, args ...interface{})

	// EnableDebug enables debug messages for this Logger, returning the previous state.
	EnableDebug(bool) bool
	// DebugEnabled checks if debug messages are enabled for this Logger.
	DebugEnabled() bool
	// Source returns the source name of this Logger.
	Source() string
}

// logger implements Logger for a single source.
type logger struct {
	source string
}

// state is our runtime logging state.
type state struct {
	sync.RWMutex
	level   Level              // lowest unsuppressed severity
	active  Backend            // active backend
	debug   map[string]bool    // per-source debug state
	forced  bool               // debug forced on for all sources
	loggers map[string]*logger // loggers created so far
	backend map[string]BackendFn
}

var log = &state{
	level:   LevelInfo,
	debug:   make(map[string]bool),
	loggers: make(map[string]*logger),
	backend: make(map[string]BackendFn),
}

// Get returns the Logger for the given source, creating it if necessary.
func Get(source string) Logger {
	source = strings.Trim(source, "[] ")

	log.Lock()
	defer log.Unlock()

	if l, ok := log.loggers[source]; ok {
		return l
	}
	l := &logger{source: source}
	log.loggers[source] = l
	return l
}

// NewLogger is an alias for Get.
func NewLogger(source string) Logger {
	return Get(source)
}

// SetLevel sets the lowest severity of messages to pass through.
func SetLevel(level Level) {
	log.Lock()
	defer log.Unlock()
	log.level = level
}

// ParseLevel parses a textual severity level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("invalid log level %q", s)
}

// EnableDebug turns debugging on or off for a comma-separated list of sources.
// The special source names '*' and 'all' match every source.
func EnableDebug(sources string, enable bool) {
	log.Lock()
	defer log.Unlock()
	for _, source := range strings.Split(sources, ",") {
		source = strings.TrimSpace(source)
		if source == "all" {
			source = "*"
		}
		if source != "" {
			log.debug[source] = enable
		}
	}
}

// SetBackend activates the named backend.
func SetBackend(name string) error {
	log.Lock()
	defer log.Unlock()

	fn, ok := log.backend[name]
	if !ok {
		return fmt.Errorf("unknown logger backend %q", name)
	}
	if log.active != nil {
		log.active.Sync()
	}
	log.active = fn()
	return nil
}

// Flush waits for the active backend to emit all pending messages.
func Flush() {
	log.RLock()
	defer log.RUnlock()
	if log.active != nil {
		log.active.Sync()
	}
}

func (l *logger) debugging() bool {
	if log.forced {
		return true
	}
	if enabled, ok := log.debug[l.source]; ok {
		return enabled
	}
	return log.debug["*"]
}

func (l *logger) emit(level Level, format string, args ...interface{}) {
	log.RLock()
	active := log.active
	pass := level >= log.level
	if level == LevelDebug {
		pass = l.debugging()
	}
	log.RUnlock()

	if !pass || active == nil {
		return
	}
	active.Log(level, l.source, format, args...)
}

// Debug emits a debug message.
func (l *logger) Debug(format string, args ...interface{}) {
	l.emit(LevelDebug, format, args...)
}

// Info emits an informational message.
func (l *logger) Info(format string, args ...interface{}) {
	l.emit(LevelInfo, format, args...)
}

// Warn emits a warning message.
func (l *logger) Warn(format string, args ...interface{}) {
	l.emit(LevelWarn, format, args...)
}

// Error emits an error message.
func (l *logger) Error(format string, args ...interface{}) {
	l.emit(LevelError, format, args...)
}

// Fatal emits an error message and exits.
func (l *logger) Fatal(format string, args ...interface{}) {
	l.emit(LevelError, format, args...)
	Flush()
	os.Exit(1)
}

// Panic emits an error message and panics.
func (l *logger) Panic(format string, args ...interface{}) {
	l.emit(LevelError, format, args...)
	Flush()
	panic(fmt.Sprintf(format, args...))
}

func (l *logger) block(fn func(string, ...interface{}), prefix string, format string, args ...interface{}) {
	for _, line := range strings.Split(fmt.Sprintf(format, args...), "\n") {
		fn("%s%s", prefix, line)
	}
}

// DebugBlock emits a block of debug messages.
func (l *logger) DebugBlock(prefix string, format string, args ...interface{}) {
	if !l.DebugEnabled() {
		return
	}
	l.block(l.Debug, prefix, format, args...)
}

// InfoBlock emits a block of info messages.
func (l *logger) InfoBlock(prefix string, format string, args ...interface{}) {
	l.block(l.Info, prefix, format, args...)
}

// EnableDebug enables/disables debug logging for this logger.
func (l *logger) EnableDebug(enable bool) bool {
	log.Lock()
	defer log.Unlock()
	previous := l.debugging()
	log.debug[l.source] = enable
	return previous
}

// DebugEnabled checks if debug logging is enabled for this logger.
func (l *logger) DebugEnabled() bool {
	log.RLock()
	defer log.RUnlock()
	return l.debugging()
}

// Source returns the source name of this logger.
func (l *logger) Source() string {
	return l.source
}

// our default logger
var deflog = Get(filepath.Base(filepath.Clean(os.Args[0])))

// Default returns the default Logger.
func Default() Logger {
	return deflog
}

// Info formats and emits an informational message with the default source.
func Info(format string, args ...interface{}) {
	deflog.Info(format, args...)
}

// Warn formats and emits a warning message with the default source.
func Warn(format string, args ...interface{}) {
	deflog.Warn(format, args...)
}

// Error formats and emits an error message with the default source.
func Error(format string, args ...interface{}) {
	deflog.Error(format, args...)
}

// Fatal formats and emits an error message and os.Exit()'s with status 1.
func Fatal(format string, args ...interface{}) {
	deflog.Fatal(format, args...)
}

// Debug formats and emits a debug message with the default source.
func Debug(format string, args ...interface{}) {
	deflog.Debug(format, args...)
}
