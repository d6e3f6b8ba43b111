// Copyright 2019 Intel Corporation. All Rights Reserved.
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
// Package log implements leveled, per-source logging for memtierd.
//
// Every component gets its own Logger with Get(source). Messages below the
// configured level are suppressed, and debug messages are only emitted for
// sources debugging has been enabled for, either individually or with the
// '*' (or 'all') wildcard:
//
//	log.EnableDebug("memtier,tiersim", true)
//
// Messages are emitted through the active Backend. The fmt backend writes
// to stderr, the klog backend hands messages over to k8s.io/klog/v2.
// RateLimit wraps a Logger to suppress frequently repeated messages.
package log
