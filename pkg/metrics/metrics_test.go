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
package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndGather(t *testing.T) {
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "metrics_test_gauge",
		Help: "Gauge registered by the metrics package test.",
	})
	gauge.Set(42)

	require.NoError(t, RegisterCollector("metrics-test", func() (prometheus.Collector, error) {
		return gauge, nil
	}))
	require.Error(t, RegisterCollector("metrics-test", func() (prometheus.Collector, error) {
		return gauge, nil
	}), "duplicate registration should fail")
	require.Contains(t, RegisteredCollectors(), "metrics-test")

	g, err := NewMetricGatherer()
	require.NoError(t, err)
	families, err := g.Gather()
	require.NoError(t, err)

	found := false
	for _, mf := range families {
		if mf.GetName() != "metrics_test_gauge" {
			continue
		}
		found = true
		require.Len(t, mf.GetMetric(), 1)
		require.Equal(t, 42.0, mf.GetMetric()[0].GetGauge().GetValue())
	}
	require.True(t, found, "gathered metrics lack the registered gauge")
}
