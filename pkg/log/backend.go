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
	"io"
	"os"
	"strings"
	"sync"

	"k8s.io/klog/v2"
)

//
// Logging backend interface, and fmt- and klog-based backends.
//

// BackendFn is a function that creates a Backend instance.
type BackendFn func() Backend

// Backend can format and emit log messages.
type Backend interface {
	// Name returns the name of this backend.
	Name() string
	// Log emits a log message with the given severity, source, and Printf-like arguments.
	Log(Level, string, string, ...interface{})
	// Sync waits for all messages to get emitted.
	Sync()
}

// RegisterBackend registers a logger backend.
func RegisterBackend(name string, fn BackendFn) {
	log.Lock()
	defer log.Unlock()
	log.backend[name] = fn
}

const (
	// FmtBackendName is the name of our simple fmt-based logging backend.
	FmtBackendName = "fmt"
	// KlogBackendName is the name of the klog-based logging backend.
	KlogBackendName = "klog"
)

// severity tags fmtBackend uses to prefix emitted messages with.
var fmtTags = map[Level]string{
	LevelDebug: "D:",
	LevelInfo:  "I:",
	LevelWarn:  "W:",
	LevelError: "E:",
}

// fmtBackend is our simple, synchronous fmt.Fprintln-based Backend.
type fmtBackend struct {
	sync.Mutex
	w io.Writer
}

func createFmtBackend() Backend {
	return &fmtBackend{w: os.Stderr}
}

// NewFmtBackend creates an fmt Backend writing to w. Mostly useful for tests.
func NewFmtBackend(w io.Writer) Backend {
	return &fmtBackend{w: w}
}

func (*fmtBackend) Name() string {
	return FmtBackendName
}

func (f *fmtBackend) Log(level Level, source, format string, args ...interface{}) {
	f.Lock()
	defer f.Unlock()
	for _, line := range strings.Split(fmt.Sprintf(format, args...), "\n") {
		fmt.Fprintln(f.w, fmtTags[level], "["+source+"]", line)
	}
}

func (*fmtBackend) Sync() {}

// klogBackend emits messages through klog.
type klogBackend struct{}

func createKlogBackend() Backend {
	return &klogBackend{}
}

func (*klogBackend) Name() string {
	return KlogBackendName
}

func (*klogBackend) Log(level Level, source, format string, args ...interface{}) {
	msg := "[" + source + "] " + fmt.Sprintf(format, args...)
	switch level {
	case LevelDebug:
		klog.InfoDepth(2, "DEBUG: "+msg)
	case LevelInfo:
		klog.InfoDepth(2, msg)
	case LevelWarn:
		klog.WarningDepth(2, msg)
	default:
		klog.ErrorDepth(2, msg)
	}
}

func (*klogBackend) Sync() {
	klog.Flush()
}

// setActiveBackend activates a backend instance directly.
func setActiveBackend(b Backend) Backend {
	log.Lock()
	defer log.Unlock()
	old := log.active
	log.active = b
	return old
}

func init() {
	RegisterBackend(FmtBackendName, createFmtBackend)
	RegisterBackend(KlogBackendName, createKlogBackend)
	log.active = createFmtBackend()
}
