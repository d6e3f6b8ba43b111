//go:build linux
// +build linux

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
	"fmt"
	"math"
	"unsafe"

	"golang.org/x/sys/unix"
)

// MPOL_MF_MOVE flag of move_pages(2)
const mpolMfMove = 1 << 1

// movePagesSyscall moves pages of a process to nodes, or with nil nodes
// queries the nodes the pages are on. The returned status holds the node
// of each page, or a negative errno.
func movePagesSyscall(pid int, pages []uintptr, nodes []int, flags int) ([]int, error) {
	// long move_pages(int pid, unsigned long count, void **pages,
	//                 const int *nodes, int *status, int flags);
	count := len(pages)
	if count == 0 {
		return []int{}, nil
	}
	if nodes != nil && len(nodes) != count {
		return nil, fmt.Errorf("move_pages: %d pages but %d nodes", count, len(nodes))
	}

	var nodesPtr unsafe.Pointer
	if nodes != nil {
		cNodes := make([]int32, count)
		for i, node := range nodes {
			if node < 0 || node > math.MaxInt16 {
				return nil, fmt.Errorf("move_pages: invalid node %d", node)
			}
			cNodes[i] = int32(node)
		}
		nodesPtr = unsafe.Pointer(&cNodes[0])
	}
	cStatus := make([]int32, count)

	ret, _, en := unix.Syscall6(unix.SYS_MOVE_PAGES,
		uintptr(pid), uintptr(count),
		uintptr(unsafe.Pointer(&pages[0])), uintptr(nodesPtr),
		uintptr(unsafe.Pointer(&cStatus[0])), uintptr(flags))
	var err error
	if en != 0 {
		err = unix.Errno(en)
	}
	log.Debug("move_pages(): pid %d, count %d, flags %d: return value %d, errno %v",
		pid, count, flags, int(ret), err)

	status := make([]int, count)
	for i, s := range cStatus {
		status[i] = int(s)
	}
	return status, err
}
