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
	"sort"
)

type mapNodeUint64 map[Node]uint64

func (m mapNodeUint64) sortedKeys() []Node {
	keys := make([]Node, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i] < keys[j]
	})
	return keys
}

type mapStringPStatsPulse map[string]*StatsPulse

func (m mapStringPStatsPulse) sortedKeys() []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

type mapTenantPStatsTenant map[TenantID]*StatsTenant

func (m mapTenantPStatsTenant) sortedKeys() []TenantID {
	keys := make([]TenantID, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sortTenantIDs(keys)
	return keys
}

func sortTenantIDs(ids []TenantID) {
	sort.Slice(ids, func(i, j int) bool {
		return ids[i] < ids[j]
	})
}
