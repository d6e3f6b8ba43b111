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
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"golang.org/x/sys/unix"

	logger "github.com/intel/memtierd/pkg/log"
	"github.com/intel/memtierd/pkg/memtier"
	"github.com/intel/memtierd/pkg/pidfile"
	"github.com/intel/memtierd/pkg/version"
)

var log = logger.Default()

func exit(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, "memtierd: "+format+"\n", a...)
	os.Exit(1)
}

func main() {
	optConfig := flag.String("config", "", "-config=FILE load configuration from YAML FILE")
	optPrompt := flag.Bool("prompt", false, "-prompt run interactive prompt on stdin")
	optEcho := flag.Bool("echo", false, "-echo echo prompt input")
	optSamples := flag.String("samples", "", "-samples=FILE read \"subject addr kind\" samples from FILE, - for stdin")
	optMetrics := flag.String("metrics", "", "-metrics=ADDR serve prometheus metrics on ADDR")
	optDebug := flag.String("debug", "", "-debug=SOURCES enable debug messages of comma-separated SOURCES, all for everything")
	optLogger := flag.String("logger", logger.FmtBackendName, "-logger=<fmt|klog> logger backend")
	optPidfile := flag.String("pidfile", "", "-pidfile=FILE refuse to run if FILE is owned by a live process, empty for no pidfile")
	optVersion := version.Flag(flag.CommandLine)
	flag.Parse()

	if *optVersion {
		version.Fprint(os.Stdout, os.Args[0])
		os.Exit(0)
	}

	if len(flag.Args()) != 0 {
		exit("unknown command-line arguments: %s", strings.Join(flag.Args(), ","))
	}
	if err := logger.SetBackend(*optLogger); err != nil {
		exit("%v", err)
	}
	defer logger.Flush()
	if *optDebug != "" {
		logger.EnableDebug(*optDebug, true)
	}
	logger.SetupDebugToggleSignal(unix.SIGUSR1)
	log.Info("%s", version.Info(os.Args[0]))

	cfg := defaultConfig()
	if *optConfig != "" {
		var err error
		if cfg, err = loadConfig(*optConfig); err != nil {
			exit("%v", err)
		}
	}

	var samples io.Reader
	switch *optSamples {
	case "":
	case "-":
		if *optPrompt {
			exit("-samples=- and -prompt both read stdin")
		}
		samples = os.Stdin
	default:
		f, err := os.Open(*optSamples)
		if err != nil {
			exit("%v", err)
		}
		defer f.Close()
		samples = f
	}

	d, err := newDaemon(cfg)
	if err != nil {
		exit("%v", err)
	}

	if *optPidfile != "" {
		pf := pidfile.New(*optPidfile)
		if err := pf.Acquire(); err != nil {
			exit("%v", err)
		}
		defer pf.Release()
	}

	ctx, stop := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	defer stop()

	if *optPrompt {
		go func() {
			p := memtier.NewPrompt("memtierd> ", bufio.NewReader(os.Stdin), bufio.NewWriter(os.Stdout))
			p.SetEngine(d.engine)
			p.SetEcho(*optEcho)
			p.Interact()
			stop()
		}()
	}

	if err := d.run(ctx, samples, *optMetrics); err != nil {
		log.Error("%v", err)
	}
	fmt.Println(d.engine.Stats().Summarize())
}
