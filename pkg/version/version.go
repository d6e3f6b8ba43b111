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

// Package version carries the version metadata of built binaries. Set
// it with linker flags:
//
//	-ldflags "-X=github.com/intel/memtierd/pkg/version.Version=<version> \
//	          -X=github.com/intel/memtierd/pkg/version.Build=<build-id>"
package version

import (
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strconv"
)

var (
	// Version is our version as given by 'git describe'.
	Version = "unknown"
	// Build is the SHA1 of the repository we've been built from.
	Build = "unknown"
)

// Info returns a one-line version summary of binary.
func Info(binary string) string {
	return fmt.Sprintf("%s version %s (build %s, %s)",
		filepath.Base(binary), Version, Build, runtime.Version())
}

// Fprint writes the version information of binary to w.
func Fprint(w io.Writer, binary string) {
	fmt.Fprintf(w, "%s version information:\n", filepath.Base(binary))
	fmt.Fprintf(w, "  - version: %s\n", Version)
	fmt.Fprintf(w, "  - build:   %s\n", Build)
	fmt.Fprintf(w, "  - go:      %s\n", runtime.Version())
}

// flagValue hooks into flag parsing of -version.
type flagValue struct {
	set *bool
}

// IsBoolFlag lets -version go without an argument.
func (f flagValue) IsBoolFlag() bool {
	return true
}

func (f flagValue) Set(value string) error {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return err
	}
	*f.set = b
	return nil
}

func (f flagValue) String() string {
	if f.set == nil {
		return "false"
	}
	return strconv.FormatBool(*f.set)
}

// Flag registers -version on fs. The returned bool is set when the
// flag is given.
func Flag(fs *flag.FlagSet) *bool {
	set := new(bool)
	fs.Var(flagValue{set: set}, "version", "print version information and exit")
	return set
}
