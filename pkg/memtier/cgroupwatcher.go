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

package memtier

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// SubjectListener is told about address spaces appearing in and
// disappearing from a tenant.
type SubjectListener interface {
	AddSubjects(tenant TenantID, subjects []SubjectID)
	RemoveSubjects(tenant TenantID, subjects []SubjectID)
}

// CgroupWatcher keeps the subjects of tenants in sync with the processes
// of their cgroups. A tenant covers the whole hierarchy under its cgroup.
type CgroupWatcher struct {
	cgroupPaths map[TenantID]string
	reported    map[TenantID]map[SubjectID]struct{}
	listener    SubjectListener
	interval    time.Duration
}

// NewCgroupWatcher creates a watcher polling cgroups every interval.
func NewCgroupWatcher(listener SubjectListener, interval time.Duration) *CgroupWatcher {
	return &CgroupWatcher{
		cgroupPaths: map[TenantID]string{},
		reported:    map[TenantID]map[SubjectID]struct{}{},
		listener:    listener,
		interval:    interval,
	}
}

// Watch binds a tenant to a cgroup directory.
func (w *CgroupWatcher) Watch(tenant TenantID, cgroupPath string) {
	w.cgroupPaths[tenant] = cgroupPath
	if _, ok := w.reported[tenant]; !ok {
		w.reported[tenant] = map[SubjectID]struct{}{}
	}
}

// Poll scans the cgroups once and reports changes.
func (w *CgroupWatcher) Poll() error {
	var firstErr error
	for _, tenant := range w.sortedTenants() {
		pidsFound := map[SubjectID]struct{}{}
		for _, path := range findFiles(w.cgroupPaths[tenant], "cgroup.procs") {
			pids, err := readPids(path)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			for _, pid := range pids {
				pidsFound[SubjectID(pid)] = struct{}{}
			}
		}

		// Gather found pids that have not been reported.
		reported := w.reported[tenant]
		newPids := []SubjectID{}
		for pid := range pidsFound {
			if _, ok := reported[pid]; !ok {
				reported[pid] = struct{}{}
				newPids = append(newPids, pid)
			}
		}
		// Gather reported pids that have disappeared.
		oldPids := []SubjectID{}
		for pid := range reported {
			if _, ok := pidsFound[pid]; !ok {
				delete(reported, pid)
				oldPids = append(oldPids, pid)
			}
		}
		if len(newPids) > 0 {
			w.listener.AddSubjects(tenant, newPids)
		}
		if len(oldPids) > 0 {
			w.listener.RemoveSubjects(tenant, oldPids)
		}
	}
	return firstErr
}

// Run polls the cgroups until ctx is cancelled.
func (w *CgroupWatcher) Run(ctx context.Context) error {
	log.Debug("cgroup watcher: online")
	defer log.Debug("cgroup watcher: offline")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		if err := w.Poll(); err != nil {
			warnLimited.Warn("cgroup watcher: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (w *CgroupWatcher) sortedTenants() []TenantID {
	tenants := make([]TenantID, 0, len(w.cgroupPaths))
	for tenant := range w.cgroupPaths {
		tenants = append(tenants, tenant)
	}
	sortTenantIDs(tenants)
	return tenants
}

// AddSubjects attaches subjects to a tenant, implementing SubjectListener.
func (e *Engine) AddSubjects(tenant TenantID, subjects []SubjectID) {
	for _, s := range subjects {
		if err := e.AttachSubject(tenant, s); err != nil {
			log.Warn("%v", err)
		}
	}
}

// RemoveSubjects detaches subjects, implementing SubjectListener.
func (e *Engine) RemoveSubjects(tenant TenantID, subjects []SubjectID) {
	for _, s := range subjects {
		if owner := e.subjectTenant(s); owner == nil || owner.id != tenant {
			continue
		}
		if _, err := e.RemoveSubject(s); err != nil {
			log.Warn("%v", err)
		}
	}
}

func readPids(path string) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(string(content), "\n")
	pids := make([]int, 0, len(lines))
	for index, line := range lines {
		if line == "" {
			continue
		}
		pid, err := strconv.Atoi(line)
		if err != nil {
			return nil, fmt.Errorf("bad pid at %s:%d (%q): %s",
				path, index+1, line, err)
		}
		pids = append(pids, pid)
	}
	return pids, nil
}

func findFiles(root string, filename string) []string {
	matchingFiles := []string{}
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Name() == filename {
			matchingFiles = append(matchingFiles, path)
		}
		return nil
	})
	return matchingFiles
}
