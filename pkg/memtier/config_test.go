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
	"testing"

	"github.com/intel/memtierd/pkg/testutils"
)

func TestConfigParams(t *testing.T) {
	cfg := DefaultConfig()
	testutils.VerifyError(t, cfg.Validate(), 0, nil)

	names := ParamNames()
	if !sort.StringsAreSorted(names) {
		t.Errorf("parameter names not sorted: %v", names)
	}
	for _, name := range names {
		if _, err := cfg.GetParam(name); err != nil {
			t.Errorf("GetParam(%q): %v", name, err)
		}
	}

	for _, tc := range []struct {
		name  string
		value string
		ok    bool
	}{
		{"cooling_period_samples", "100", true},
		{"cooling_period_samples", "-1", false},
		{"split_enabled", "false", true},
		{"split_enabled", "maybe", false},
		{"hot_threshold_floor", " 2 ", true},
		{"fast_tier_budget_per_tenant", "2G", true},
		{"no_such_parameter", "1", false},
	} {
		err := cfg.SetParam(tc.name, tc.value)
		if tc.ok && err != nil {
			t.Errorf("SetParam(%q, %q): unexpected error %v", tc.name, tc.value, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("SetParam(%q, %q): expected error", tc.name, tc.value)
		}
	}
	for name, expected := range map[string]string{
		"cooling_period_samples":      "100",
		"split_enabled":               "false",
		"hot_threshold_floor":         "2",
		"fast_tier_budget_per_tenant": "2G",
	} {
		value, err := cfg.GetParam(name)
		if err != nil || value != expected {
			t.Errorf("GetParam(%q): expected %q, got %q (error %v)", name, expected, value, err)
		}
	}
	if _, err := cfg.GetParam("no_such_parameter"); err == nil {
		t.Errorf("GetParam of unknown parameter: expected error")
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CoolingPeriodSamples = 0
	cfg.DemotionWatermarkPct = 101
	cfg.HotThresholdFloor = 16
	testutils.VerifyError(t, cfg.Validate(), 3,
		[]string{"cooling_period_samples", "demotion_watermark_pct", "hot_threshold_floor"})

	cfg = DefaultConfig()
	cfg.WatermarkMinUnits, cfg.WatermarkMaxUnits = 10, 5
	cfg.UnitSize = "4x"
	testutils.VerifyError(t, cfg.Validate(), 3, []string{"watermark_min_units", "unit_size"})
}

func TestConfigUnits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UnitSize = "2M"
	cfg.FastTierBudgetPerTenant = "1G"
	unit, err := cfg.UnitBytes()
	if err != nil || unit != 2*1024*1024 {
		t.Errorf("unit size: expected 2M, got %d (error %v)", unit, err)
	}
	budget, err := cfg.FastTierBudgetUnits()
	if err != nil || budget != 512 {
		t.Errorf("budget: expected 512 units, got %d (error %v)", budget, err)
	}

	cp := cfg.Copy()
	cp.UnitSize = "4k"
	if cfg.UnitSize != "2M" {
		t.Errorf("modifying a copy changed the original")
	}
	testutils.VerifyDeepEqual(t, "copy", *cfg, *cfg.Copy())
}

func TestParseBytes(t *testing.T) {
	for _, tc := range []struct {
		s     string
		bytes int64
		ok    bool
	}{
		{"4096", 4096, true},
		{"4k", 4096, true},
		{"4K", 4096, true},
		{"2MB", 2 * 1024 * 1024, true},
		{" 1G ", 1024 * 1024 * 1024, true},
		{"1T", 1024 * 1024 * 1024 * 1024, true},
		{"", 0, false},
		{"k", 0, false},
		{"12q", 0, false},
		{"B", 0, false},
	} {
		bytes, err := ParseBytes(tc.s)
		if tc.ok != (err == nil) || bytes != tc.bytes {
			t.Errorf("ParseBytes(%q): expected %d (ok %v), got %d (error %v)", tc.s, tc.bytes, tc.ok, bytes, err)
		}
	}
	for _, tc := range []struct {
		n int64
		s string
	}{
		{0, "0"},
		{1000, "1000"},
		{4096, "4k"},
		{3 * 1024 * 1024, "3M"},
		{1024 * 1024 * 1024 * 1024, "1T"},
	} {
		if got := FormatBytes(tc.n); got != tc.s {
			t.Errorf("FormatBytes(%d): expected %q, got %q", tc.n, tc.s, got)
		}
	}
}

func TestParseEventKind(t *testing.T) {
	for _, k := range []EventKind{FastTierRead, SlowTierRead, Write, TlbMissLoad, TlbMissStore} {
		parsed, err := ParseEventKind(k.String())
		if err != nil || parsed != k {
			t.Errorf("ParseEventKind(%q): expected %d, got %d (error %v)", k, k, parsed, err)
		}
	}
	if _, err := ParseEventKind("read"); err == nil {
		t.Errorf("ParseEventKind of invalid kind: expected error")
	}
	if tier, err := ParseTier("pmem"); err != nil || tier != TierSlow {
		t.Errorf("ParseTier(pmem): expected slow, got %s (error %v)", tier, err)
	}
	if _, err := ParseTier("lukewarm"); err == nil {
		t.Errorf("ParseTier of invalid tier: expected error")
	}
}
