// Copyright 2021 Intel Corporation. All Rights Reserved.
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


/*

	Package memtier implements hotness-driven placement of memory
	between a fast and a slow memory tier.

	Component types

	1. The accountant (accountant.go) turns sampled memory accesses
	into decaying per-region access counters and keeps the hotness,
	estimated and skewness histograms of every tenant up to date.

	2. The cooler (cooler.go) halves all counters of a tenant by
	advancing its cooling epoch. Regions are decayed lazily when
	they are next touched or swept.

	3. The threshold adapter (threshold.go) picks the active, warm
	and sub-unit thresholds so that the hot units of a tenant fit
	in its fast tier budget, and sizes the split budget.

	4. The split advisor (splitter.go) queues skewed large regions
	for splitting.

	5. Tier workers (worker.go) serve per-node tenant queues
	(scheduler.go): demotion workers on fast nodes, promotion
	workers on slow nodes. They run reclassification sweeps over
	placement lists (placement.go) and ask the MigrationExecutor to
	move and split regions.

	Running the engine

		+-------+  samples  +----------+  mark   +--------------+
		|sampler|---------->|accountant|-------->|placement list|
		+-------+           +----+-----+         +------+-------+
		                         |                      ^
		                         | cool/adjust          | rotate
		                         V                      |
		                    +---------+  queue   +------+------+
		                    | tenant  |--------->|tier workers |
		                    +---------+          +------+------+
		                                                | migrate/split
		                                                V
		                                         +-------------+
		                                         |  executor   |
		                                         +-------------+

	Supporting modules

	1. HugeRegionIndex (hugeregion.go) counts accesses to large
	address ranges that have no tracked region yet.
	2. CgroupWatcher (cgroupwatcher.go) attaches the processes of a
	cgroup to a tenant.
	3. ProcessExecutor (executor_linux.go) moves pages of processes
	with move_pages(2).
*/

package memtier
