// Copyright 2022 Intel Corporation. All Rights Reserved.
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

package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// PidFile guards a daemon instance. Only one live process can own it.
type PidFile struct {
	path string
	file *os.File
}

// New returns a PID file at path, or at the default path of the
// running binary if path is empty.
func New(path string) *PidFile {
	if path == "" {
		path = DefaultPath()
	}
	return &PidFile{path: path}
}

// Path returns the path of the PID file.
func (p *PidFile) Path() string {
	return p.path
}

// Acquire writes os.Getpid() to the PID file. A file left behind by a
// process that no longer runs is taken over, a file of a live process
// is an error. On success the file is kept open until Release.
func (p *PidFile) Acquire() error {
	if p.file != nil {
		return nil
	}
	owner, err := p.Owner()
	if err != nil {
		return err
	}
	if owner > 0 && owner != os.Getpid() {
		return fmt.Errorf("PID file %s is owned by running process %d", p.path, owner)
	}
	if owner == 0 {
		if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "failed to remove stale PID file")
		}
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return errors.Wrap(err, "failed to create PID file")
	}
	f, err := os.OpenFile(p.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrap(err, "failed to create PID file")
	}
	if _, err := f.Write([]byte(fmt.Sprintf("%d\n", os.Getpid()))); err != nil {
		f.Close()
		os.Remove(p.path)
		return errors.Wrap(err, "failed to write PID file")
	}
	p.file = f
	return nil
}

// Read returns the process ID in the PID file, 0 if there is no file.
func (p *PidFile) Read() (int, error) {
	buf, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return -1, errors.Wrap(err, "failed to read PID file")
	}
	content := strings.TrimSpace(string(buf))
	if content == "" {
		return 0, nil
	}
	pid, err := strconv.Atoi(content)
	if err != nil {
		return -1, errors.Wrapf(err, "invalid PID (%q) in PID file", string(buf))
	}
	return pid, nil
}

// Owner returns the ID of the live process owning the PID file, or 0
// if no process does.
func (p *PidFile) Owner() (int, error) {
	pid, err := p.Read()
	if err != nil || pid == 0 {
		return pid, err
	}
	switch err := unix.Kill(pid, 0); err {
	case nil, unix.EPERM:
		return pid, nil
	case unix.ESRCH:
		return 0, nil
	default:
		return -1, errors.Wrapf(err, "failed to check process %d", pid)
	}
}

// Release closes and removes the PID file if this process owns it.
func (p *PidFile) Release() error {
	if p.file == nil {
		return nil
	}
	p.file.Close()
	p.file = nil
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to remove PID file")
	}
	return nil
}

// DefaultPath returns /var/run/<binary>.pid for root and
// /tmp/<binary>.pid for other users.
func DefaultPath() string {
	name := "memtierd"
	if len(os.Args) > 0 {
		name = filepath.Base(os.Args[0])
	}
	if os.Geteuid() > 0 {
		return filepath.Join(os.TempDir(), name+".pid")
	}
	return filepath.Join("/", "var", "run", name+".pid")
}
