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

package version

import (
	"bytes"
	"flag"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFlag(t *testing.T) {
	fs := flag.NewFlagSet("memtierd", flag.ContinueOnError)
	print := Flag(fs)
	require.NoError(t, fs.Parse([]string{"-version"}))
	require.True(t, *print)

	fs = flag.NewFlagSet("memtierd", flag.ContinueOnError)
	print = Flag(fs)
	require.NoError(t, fs.Parse(nil))
	require.False(t, *print)
	require.Error(t, fs.Parse([]string{"-version=maybe"}))
}

func TestInfo(t *testing.T) {
	Version, Build = "v0.1.0", "abcdef"
	require.True(t, strings.HasPrefix(Info("/usr/bin/memtierd"), "memtierd version v0.1.0 (build abcdef, "))
	buf := &bytes.Buffer{}
	Fprint(buf, "memtierd")
	require.Contains(t, buf.String(), "  - build:   abcdef\n")
}
