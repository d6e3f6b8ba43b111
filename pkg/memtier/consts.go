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
	"golang.org/x/sys/unix"
)

const (
	// NumHotnessBuckets is the number of buckets in the hotness and
	// estimated sub-unit histograms.
	NumHotnessBuckets = 16
	// MaxHotnessIndex is the largest classification index.
	MaxHotnessIndex = NumHotnessBuckets - 1
	// NumSkewnessBuckets is the number of buckets in the skewness histogram.
	NumSkewnessBuckets = 21
	// MaxSkewnessClass is the largest skewness class.
	MaxSkewnessClass = NumSkewnessBuckets - 1

	maxAccessCount   = 0xffff
	maxTotalAccesses = 0xffffffff
)

var constPagesize int64 = int64(unix.Getpagesize())
