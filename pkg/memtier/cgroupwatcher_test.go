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
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type subjectRecorder struct {
	added   map[TenantID][]SubjectID
	removed map[TenantID][]SubjectID
}

func newSubjectRecorder() *subjectRecorder {
	return &subjectRecorder{
		added:   map[TenantID][]SubjectID{},
		removed: map[TenantID][]SubjectID{},
	}
}

func sortedSubjects(subjects []SubjectID) []SubjectID {
	sorted := append([]SubjectID{}, subjects...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted
}

func (r *subjectRecorder) AddSubjects(tenant TenantID, subjects []SubjectID) {
	r.added[tenant] = append(r.added[tenant], sortedSubjects(subjects)...)
}

func (r *subjectRecorder) RemoveSubjects(tenant TenantID, subjects []SubjectID) {
	r.removed[tenant] = append(r.removed[tenant], sortedSubjects(subjects)...)
}

func writeProcs(t *testing.T, dir string, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cgroup.procs"), []byte(content), 0644))
}

func TestCgroupWatcherPoll(t *testing.T) {
	root := t.TempDir()
	a, b := filepath.Join(root, "a"), filepath.Join(root, "b")
	writeProcs(t, a, "10\n11\n")
	writeProcs(t, filepath.Join(a, "child"), "12\n")
	writeProcs(t, b, "")

	rec := newSubjectRecorder()
	w := NewCgroupWatcher(rec, time.Hour)
	w.Watch("a", a)
	w.Watch("b", b)
	require.NoError(t, w.Poll())
	require.Equal(t, []SubjectID{10, 11, 12}, rec.added["a"])
	require.Empty(t, rec.added["b"])

	require.NoError(t, w.Poll())
	require.Len(t, rec.added["a"], 3, "reported subjects are not added again")

	writeProcs(t, a, "11\n13\n")
	writeProcs(t, b, "10\n")
	require.NoError(t, w.Poll())
	require.Equal(t, []SubjectID{10, 11, 12, 13}, rec.added["a"])
	require.Equal(t, []SubjectID{10}, rec.removed["a"])
	require.Equal(t, []SubjectID{10}, rec.added["b"])

	writeProcs(t, filepath.Join(a, "child"), "12\nbogus\n")
	require.Error(t, w.Poll())
	require.Equal(t, []SubjectID{10, 12}, rec.removed["a"], "subjects of unreadable cgroups disappear")
}

func TestCgroupWatcherEngine(t *testing.T) {
	root := t.TempDir()
	writeProcs(t, root, "21\n22\n")
	e, _, _ := newTestEngine(t, nil)
	_, err := e.AddTenant("a", 4)
	require.NoError(t, err)

	w := NewCgroupWatcher(e, time.Millisecond)
	w.Watch("a", root)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- w.Run(ctx)
	}()
	require.Eventually(t, func() bool {
		_, ok := e.SubjectTenant(22)
		return ok
	}, 5*time.Second, time.Millisecond)

	writeProcs(t, root, "22\n")
	require.Eventually(t, func() bool {
		_, ok := e.SubjectTenant(21)
		return !ok
	}, 5*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestReadPids(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cgroup.procs")
	require.NoError(t, os.WriteFile(path, []byte("1\n\n2\n"), 0644))
	pids, err := readPids(path)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, pids)

	_, err = readPids(filepath.Join(dir, "missing"))
	require.Error(t, err)
	require.NoError(t, os.WriteFile(path, []byte("1\nx\n"), 0644))
	_, err = readPids(path)
	require.Error(t, err)
}
