//go:build !linux
// +build !linux

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

package main

import (
	"fmt"

	"github.com/intel/memtierd/pkg/memtier"
	"github.com/intel/memtierd/pkg/tiersim"
)

func newProcessEngine(cfg *memtier.Config, nodes []memtier.NodeInfo) (*memtier.Engine, *tiersim.Space, error) {
	return nil, nil, fmt.Errorf("the %s executor is supported only on linux", executorProcess)
}
