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
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Config holds the tunables of the engine. Every field is a runtime
// parameter, named by its json tag.
type Config struct {
	// FastTierBudgetPerTenant is the default fast tier budget of a
	// tenant, in bytes: <NUM>(k|M|G|T).
	FastTierBudgetPerTenant string `json:"fast_tier_budget_per_tenant"`
	// CoolingPeriodSamples is the number of tenant samples between
	// cooling rounds.
	CoolingPeriodSamples uint64 `json:"cooling_period_samples"`
	// AdaptationPeriodSamples is the number of tenant samples between
	// threshold adaptations.
	AdaptationPeriodSamples uint64 `json:"adaptation_period_samples"`
	DemotionPeriodMs        int    `json:"demotion_period_ms"`
	PromotionPeriodMs       int    `json:"promotion_period_ms"`
	DemotionWatermarkPct    int    `json:"demotion_watermark_pct"`
	PromotionWatermarkPct   int    `json:"promotion_watermark_pct"`
	SplitEnabled            bool   `json:"split_enabled"`
	HotThresholdFloor       int    `json:"hot_threshold_floor"`
	WarmDisabled            bool   `json:"warm_disabled"`

	// UnitSize is the size of a base unit in bytes.
	UnitSize               string `json:"unit_size"`
	SubunitsPerLargeRegion int    `json:"subunits_per_large_region"`
	// ReclassifyBatch is the number of regions a worker catches up
	// per visit of a tenant.
	ReclassifyBatch int `json:"reclassify_batch"`
	// SplitBatch is the number of regions the demotion worker splits
	// per visit of a tenant.
	SplitBatch int `json:"split_batch"`
	// WarmOccupancyPct: the warm threshold is one below the active
	// threshold while hot units occupy less than this share of the
	// budget.
	WarmOccupancyPct   int `json:"warm_occupancy_pct"`
	SplitTriggerGapPct int `json:"split_trigger_gap_pct"`
	FastTierLatencyNs  int `json:"fast_tier_latency_ns"`
	SlowTierLatencyNs  int `json:"slow_tier_latency_ns"`
	// Watermarks are clamped to [WatermarkMinUnits, WatermarkMaxUnits].
	WatermarkMinUnits       uint64 `json:"watermark_min_units"`
	WatermarkMaxUnits       uint64 `json:"watermark_max_units"`
	MaxMigrateUnitsPerSec   uint64 `json:"max_migrate_units_per_sec"`
	DemotionSafetyMarginPct int    `json:"demotion_safety_margin_pct"`
	IdleIntervalMs          int    `json:"idle_interval_ms"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		FastTierBudgetPerTenant: "1G",
		CoolingPeriodSamples:    2000000,
		AdaptationPeriodSamples: 100000,
		DemotionPeriodMs:        50,
		PromotionPeriodMs:       100,
		DemotionWatermarkPct:    3,
		PromotionWatermarkPct:   5,
		SplitEnabled:            true,
		HotThresholdFloor:       1,
		WarmDisabled:            false,
		UnitSize:                strconv.FormatInt(constPagesize, 10),
		SubunitsPerLargeRegion:  512,
		ReclassifyBatch:         256,
		SplitBatch:              4,
		WarmOccupancyPct:        80,
		SplitTriggerGapPct:      5,
		FastTierLatencyNs:       100,
		SlowTierLatencyNs:       300,
		WatermarkMinUnits:       16,
		WatermarkMaxUnits:       262144,
		MaxMigrateUnitsPerSec:   25600,
		DemotionSafetyMarginPct: 2,
		IdleIntervalMs:          1000,
	}
}

// Copy returns a copy of the configuration.
func (c *Config) Copy() *Config {
	cp := *c
	return &cp
}

// Validate checks the configuration, returning all problems found.
func (c *Config) Validate() error {
	var errs *multierror.Error
	if _, err := c.FastTierBudgetUnits(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if _, err := c.UnitBytes(); err != nil {
		errs = multierror.Append(errs, err)
	}
	for _, p := range []struct {
		name  string
		value int64
	}{
		{"cooling_period_samples", int64(c.CoolingPeriodSamples)},
		{"adaptation_period_samples", int64(c.AdaptationPeriodSamples)},
		{"demotion_period_ms", int64(c.DemotionPeriodMs)},
		{"promotion_period_ms", int64(c.PromotionPeriodMs)},
		{"subunits_per_large_region", int64(c.SubunitsPerLargeRegion)},
		{"reclassify_batch", int64(c.ReclassifyBatch)},
		{"split_batch", int64(c.SplitBatch)},
		{"fast_tier_latency_ns", int64(c.FastTierLatencyNs)},
		{"slow_tier_latency_ns", int64(c.SlowTierLatencyNs)},
		{"idle_interval_ms", int64(c.IdleIntervalMs)},
	} {
		if p.value <= 0 {
			errs = multierror.Append(errs, fmt.Errorf("invalid %s %d, > 0 expected", p.name, p.value))
		}
	}
	for _, p := range []struct {
		name  string
		value int
	}{
		{"demotion_watermark_pct", c.DemotionWatermarkPct},
		{"promotion_watermark_pct", c.PromotionWatermarkPct},
		{"warm_occupancy_pct", c.WarmOccupancyPct},
		{"split_trigger_gap_pct", c.SplitTriggerGapPct},
		{"demotion_safety_margin_pct", c.DemotionSafetyMarginPct},
	} {
		if p.value < 0 || p.value > 100 {
			errs = multierror.Append(errs, fmt.Errorf("invalid %s %d, 0..100 expected", p.name, p.value))
		}
	}
	if c.HotThresholdFloor < 0 || c.HotThresholdFloor > MaxHotnessIndex {
		errs = multierror.Append(errs, fmt.Errorf("invalid hot_threshold_floor %d, 0..%d expected",
			c.HotThresholdFloor, MaxHotnessIndex))
	}
	if c.WatermarkMinUnits > c.WatermarkMaxUnits {
		errs = multierror.Append(errs, fmt.Errorf("watermark_min_units %d exceeds watermark_max_units %d",
			c.WatermarkMinUnits, c.WatermarkMaxUnits))
	}
	return errs.ErrorOrNil()
}

// UnitBytes returns the size of a base unit in bytes.
func (c *Config) UnitBytes() (int64, error) {
	unit, err := ParseBytes(c.UnitSize)
	if err != nil {
		return 0, errors.Wrap(err, "invalid unit_size")
	}
	if unit <= 0 {
		return 0, fmt.Errorf("invalid unit_size %q, > 0 expected", c.UnitSize)
	}
	return unit, nil
}

// FastTierBudgetUnits returns the default tenant budget in units.
func (c *Config) FastTierBudgetUnits() (uint64, error) {
	budget, err := ParseBytes(c.FastTierBudgetPerTenant)
	if err != nil {
		return 0, errors.Wrap(err, "invalid fast_tier_budget_per_tenant")
	}
	if budget < 0 {
		return 0, fmt.Errorf("invalid fast_tier_budget_per_tenant %q, >= 0 expected", c.FastTierBudgetPerTenant)
	}
	unit, err := c.UnitBytes()
	if err != nil {
		return 0, err
	}
	return uint64(budget / unit), nil
}

func (c *Config) hotThresholdFloor() uint8 {
	switch {
	case c.HotThresholdFloor < 0:
		return 0
	case c.HotThresholdFloor > MaxHotnessIndex:
		return MaxHotnessIndex
	}
	return uint8(c.HotThresholdFloor)
}

// ParamNames returns the names of all runtime parameters.
func ParamNames() []string {
	names := []string{}
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		names = append(names, paramName(t.Field(i)))
	}
	sort.Strings(names)
	return names
}

func paramName(f reflect.StructField) string {
	return strings.Split(f.Tag.Get("json"), ",")[0]
}

func (c *Config) paramField(name string) (reflect.Value, error) {
	v := reflect.ValueOf(c).Elem()
	for i := 0; i < v.NumField(); i++ {
		if paramName(v.Type().Field(i)) == name {
			return v.Field(i), nil
		}
	}
	return reflect.Value{}, fmt.Errorf("unknown parameter %q", name)
}

// SetParam sets a parameter by name from its textual value.
func (c *Config) SetParam(name, value string) error {
	f, err := c.paramField(name)
	if err != nil {
		return err
	}
	value = strings.TrimSpace(value)
	switch f.Kind() {
	case reflect.String:
		f.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return errors.Wrapf(err, "invalid value for %s", name)
		}
		f.SetBool(b)
	case reflect.Int:
		n, err := strconv.ParseInt(value, 10, 0)
		if err != nil {
			return errors.Wrapf(err, "invalid value for %s", name)
		}
		f.SetInt(n)
	case reflect.Uint64:
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid value for %s", name)
		}
		f.SetUint(n)
	default:
		return fmt.Errorf("parameter %q has unsupported type %s", name, f.Kind())
	}
	return nil
}

// GetParam returns the value of a parameter as text.
func (c *Config) GetParam(name string) (string, error) {
	f, err := c.paramField(name)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%v", f.Interface()), nil
}

// unmarshal decodes a JSON configuration, rejecting unknown fields.
func unmarshal(data string, out interface{}) error {
	dec := json.NewDecoder(bytes.NewBufferString(data))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}
