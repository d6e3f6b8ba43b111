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
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"

	"github.com/intel/memtierd/pkg/memtier"
	"github.com/intel/memtierd/pkg/tiersim"
)

const (
	executorSim     = "sim"
	executorProcess = "process"
)

// daemonConfig is the configuration file of memtierd.
type daemonConfig struct {
	// Engine holds the engine parameters, unset ones keep their defaults.
	Engine  *memtier.Config `json:"engine,omitempty"`
	Nodes   []nodeConfig    `json:"nodes"`
	Tenants []tenantConfig  `json:"tenants,omitempty"`
	// Executor is "sim" for a simulated address space or "process" for
	// moving pages of processes.
	Executor     string `json:"executor,omitempty"`
	CgroupPollMs int    `json:"cgroup_poll_ms,omitempty"`
	// SampleRate limits generated samples per second, 0 for no limit.
	SampleRate int                `json:"sample_rate,omitempty"`
	Workloads  []tiersim.Workload `json:"workloads,omitempty"`
}

type nodeConfig struct {
	Node int    `json:"node"`
	Tier string `json:"tier"`
	// Capacity in bytes, empty for unlimited.
	Capacity string `json:"capacity,omitempty"`
}

type tenantConfig struct {
	ID string `json:"id"`
	// Budget is the fast tier budget in bytes, empty for the default.
	Budget   string         `json:"budget,omitempty"`
	Subjects []int          `json:"subjects,omitempty"`
	Cgroups  []string       `json:"cgroups,omitempty"`
	Regions  []regionConfig `json:"regions,omitempty"`
}

type regionConfig struct {
	Subject int    `json:"subject"`
	Addr    uint64 `json:"addr"`
	Size    string `json:"size"`
	Large   bool   `json:"large,omitempty"`
	Node    int    `json:"node"`
}

func defaultConfig() *daemonConfig {
	return &daemonConfig{
		Engine: memtier.DefaultConfig(),
		Nodes: []nodeConfig{
			{Node: 0, Tier: "fast"},
			{Node: 1, Tier: "slow"},
		},
		Executor:     executorSim,
		CgroupPollMs: 1000,
	}
}

// loadConfig reads a YAML configuration file. Unknown fields are errors.
func loadConfig(path string) (*daemonConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read configuration")
	}
	return parseConfig(data)
}

func parseConfig(data []byte) (*daemonConfig, error) {
	cfg := defaultConfig()
	cfg.Nodes = nil
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse configuration")
	}
	if len(cfg.Nodes) == 0 {
		cfg.Nodes = defaultConfig().Nodes
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *daemonConfig) validate() error {
	var errs *multierror.Error
	if cfg.Engine == nil {
		cfg.Engine = memtier.DefaultConfig()
	}
	if err := cfg.Engine.Validate(); err != nil {
		errs = multierror.Append(errs, err)
	}
	switch cfg.Executor {
	case executorSim:
	case executorProcess:
		for _, tc := range cfg.Tenants {
			if len(tc.Regions) > 0 {
				errs = multierror.Append(errs, fmt.Errorf("tenant %s: regions are supported only by the %s executor", tc.ID, executorSim))
			}
		}
		if len(cfg.Workloads) > 0 {
			errs = multierror.Append(errs, fmt.Errorf("workloads are supported only by the %s executor", executorSim))
		}
	default:
		errs = multierror.Append(errs, fmt.Errorf("invalid executor %q, expected %s or %s", cfg.Executor, executorSim, executorProcess))
	}
	if cfg.SampleRate < 0 {
		errs = multierror.Append(errs, fmt.Errorf("invalid sample_rate %d", cfg.SampleRate))
	}
	seen := map[string]struct{}{}
	for _, tc := range cfg.Tenants {
		if tc.ID == "" {
			errs = multierror.Append(errs, fmt.Errorf("tenant without id"))
		}
		if _, ok := seen[tc.ID]; ok {
			errs = multierror.Append(errs, fmt.Errorf("duplicate tenant %q", tc.ID))
		}
		seen[tc.ID] = struct{}{}
	}
	return errs.ErrorOrNil()
}

// nodeInfos returns the memory nodes of the configuration.
func (cfg *daemonConfig) nodeInfos() ([]memtier.NodeInfo, error) {
	unit, err := cfg.Engine.UnitBytes()
	if err != nil {
		return nil, err
	}
	nodes := make([]memtier.NodeInfo, 0, len(cfg.Nodes))
	for _, nc := range cfg.Nodes {
		tier, err := memtier.ParseTier(nc.Tier)
		if err != nil {
			return nil, errors.Wrapf(err, "node %d", nc.Node)
		}
		capacity := int64(0)
		if nc.Capacity != "" {
			if capacity, err = memtier.ParseBytes(nc.Capacity); err != nil {
				return nil, errors.Wrapf(err, "node %d", nc.Node)
			}
		}
		nodes = append(nodes, memtier.NodeInfo{
			Node:     memtier.Node(nc.Node),
			Tier:     tier,
			Capacity: uint64(capacity / unit),
		})
	}
	return nodes, nil
}

// budgetUnits returns the fast tier budget of a tenant in units, 0 for
// the default budget.
func (cfg *daemonConfig) budgetUnits(tc tenantConfig) (uint64, error) {
	if tc.Budget == "" {
		return 0, nil
	}
	unit, err := cfg.Engine.UnitBytes()
	if err != nil {
		return 0, err
	}
	budget, err := memtier.ParseBytes(tc.Budget)
	if err != nil {
		return 0, errors.Wrapf(err, "tenant %s", tc.ID)
	}
	if budget < unit {
		return 0, fmt.Errorf("tenant %s: budget %s is less than a unit", tc.ID, tc.Budget)
	}
	return uint64(budget / unit), nil
}
