// Copyright 2019-2020 Intel Corporation. All Rights Reserved.
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

package log

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	goxrate "golang.org/x/time/rate"
)

func TestRateLimit(t *testing.T) {
	ratelimit := RateLimit(Default(), Rate{Window: MinimumWindow, Limit: Every(time.Second)})
	rl := ratelimit.(*ratelimited)

	limiters := make(map[string]*goxrate.Limiter)

	// fill message window, store limiters for checking
	messages := make([]string, 0, MinimumWindow)
	for idx := 0; idx < cap(messages); idx++ {
		msg := fmt.Sprintf("message #%d", idx)
		messages = append(messages, msg)
		limiters[msg] = rl.getMessageLimit(msg)
	}

	for msg, limiter := range limiters {
		if rl.getMessageLimit(msg) != limiter {
			t.Errorf("unexpected new limiter for message %s", msg)
		}
	}

	// push a few more messages, shifting the oldest ones out
	recent := make([]string, 0, MinimumWindow/5)
	for i := 0; i < cap(recent); i++ {
		msg := fmt.Sprintf("message #%d", len(messages)+i)
		recent = append(recent, msg)
		limiters[msg] = rl.getMessageLimit(msg)
	}

	for _, msg := range recent {
		if rl.getMessageLimit(msg) != limiters[msg] {
			t.Errorf("unexpected new limiter for recent message %s", msg)
		}
	}

	for idx := len(recent); idx < len(messages); idx++ {
		msg := messages[idx]
		if rl.getMessageLimit(msg) != limiters[msg] {
			t.Errorf("unexpected new limiter for old message %s", msg)
		}
	}
}

func TestRateLimitSuppressesRepeats(t *testing.T) {
	buf := &bytes.Buffer{}
	old := setActiveBackend(NewFmtBackend(buf))
	defer setActiveBackend(old)

	rl := RateLimit(Get("ratelimit-test"), Interval(time.Hour))
	for i := 0; i < 10; i++ {
		rl.Warn("histogram bucket %d underflow", 3)
	}
	rl.Warn("histogram bucket %d underflow", 4)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 emitted lines, got %d: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "bucket 3") || !strings.Contains(lines[1], "bucket 4") {
		t.Errorf("unexpected rate-limited output %q", buf.String())
	}
}
