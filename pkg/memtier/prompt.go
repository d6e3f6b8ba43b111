// Copyright 2021 Intel Corporation. All Rights Reserved.
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

// This file implements interactive prompt and command execution.

package memtier

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"io/ioutil"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"sigs.k8s.io/yaml"
)

type Cmd struct {
	description string
	Run         func([]string) CommandStatus
}

type Prompt struct {
	r      *bufio.Reader
	w      *bufio.Writer
	f      *flag.FlagSet
	engine *Engine
	cmds   map[string]Cmd
	ps1    string
	echo   bool
	quit   bool
}

type CommandStatus int

const (
	csOk CommandStatus = iota
	csUnknownCommand
	csPipeCreateError
	csPipeProcessStartError
	csError
)

func NewPrompt(ps1 string, reader *bufio.Reader, writer *bufio.Writer) *Prompt {
	p := Prompt{
		r:   reader,
		w:   writer,
		ps1: ps1,
	}
	p.cmds = map[string]Cmd{
		"q":      {"quit interactive prompt.", p.cmdQuit},
		"stats":  {"print statistics.", p.cmdStats},
		"tenant": {"list, add and remove tenants.", p.cmdTenant},
		"config": {"get and set engine parameters.", p.cmdConfig},
		"engine": {"start/stop tier workers.", p.cmdEngine},
		"cool":   {"run a cooling round on a tenant.", p.cmdCool},
		"adjust": {"adjust thresholds of a tenant.", p.cmdAdjust},
		"demote": {"request direct demotion of a tenant.", p.cmdDemote},
		"sample": {"deliver an access sample.", p.cmdSample},
		"dump":   {"dump tenant state.", p.cmdDump},
		"help":   {"print help.", p.cmdHelp},
		"nop":    {"no operation.", p.cmdNop},
	}
	return &p
}

func (p *Prompt) output(format string, a ...interface{}) {
	if p.w == nil {
		return
	}
	p.w.WriteString(fmt.Sprintf(format, a...))
	p.w.Flush()
}

func (p *Prompt) RunCmdSlice(cmdSlice []string) CommandStatus {
	if len(cmdSlice) == 0 {
		return csOk
	}
	if cmdSlice[0] == "" {
		cmdSlice[0] = "nop"
	}
	p.f = flag.NewFlagSet(cmdSlice[0], flag.ContinueOnError)
	if p.w != nil {
		p.f.SetOutput(p.w)
	}
	cmd, ok := p.cmds[cmdSlice[0]]
	if !ok {
		if len(cmdSlice[0]) > 0 {
			p.output("unknown command %q\n", cmdSlice[0])
		}
		return csUnknownCommand
	}
	// Call cmd<Function>
	rv := cmd.Run(cmdSlice[1:])
	// flag usage is written without flushing
	if p.w != nil {
		p.w.Flush()
	}
	return rv
}

func (p *Prompt) RunCmdString(cmdString string) CommandStatus {
	var err error
	// If command has "|", run the left-hand-side of the
	// pipe in a shell and pipe the output of the
	// right-hand-side cmd<Function> call to it.
	origOutputWriter := p.w
	pipeCmd := ""
	pipeIndex := strings.Index(cmdString, "|")
	if pipeIndex > -1 {
		pipeCmd = cmdString[pipeIndex+1:]
		cmdString = cmdString[:pipeIndex]
	}
	cmdSlice := strings.Fields(cmdString)
	if len(cmdSlice) == 0 {
		cmdSlice = []string{""}
	}

	// If there is a pipe, redirect p.output() (that is, p.w) to
	// the pipe before calling cmd<Function>.
	var pipeProcess *exec.Cmd = nil
	var pipeInput io.WriteCloser = nil
	if pipeCmd != "" {
		pipeProcess = exec.Command("sh", "-c", pipeCmd)
		pipeInput, err = pipeProcess.StdinPipe()
		if err != nil {
			p.output("failed to create pipe for command %q", pipeCmd)
			return csPipeCreateError
		}
		pipeProcess.Stdout = origOutputWriter
		pipeProcess.Stderr = origOutputWriter
		err := pipeProcess.Start()
		if err != nil {
			p.w = origOutputWriter
			p.output("failed to start: sh -c %q: %s", pipeCmd, err)
			pipeInput.Close()
			return csPipeProcessStartError
		}
		p.w = bufio.NewWriter(pipeInput)
	}
	runRv := p.RunCmdSlice(cmdSlice)
	// Wait for pipe process to exit and restore redirect.
	if pipeCmd != "" {
		p.w.Flush()
		pipeInput.Close()
		pipeProcess.Wait()
		p.w = origOutputWriter
	}
	return runRv
}

func (p *Prompt) Interact() {
	for !p.quit {
		p.output(p.ps1)
		cmdString, err := p.r.ReadString(byte('\n'))
		if err != nil {
			p.output("quit: %s\n", err)
			break
		}
		if p.echo {
			p.output("%s", cmdString)
		}
		p.RunCmdString(cmdString)
	}
	p.output("quit.\n")
}

func (p *Prompt) SetEcho(newEcho bool) {
	p.echo = newEcho
}

func (p *Prompt) SetEngine(e *Engine) {
	p.engine = e
}

func sortedStringKeys(m map[string]Cmd) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (p *Prompt) cmdNop(args []string) CommandStatus {
	return csOk
}

func (p *Prompt) cmdHelp(args []string) CommandStatus {
	p.output("Available commands:\n")
	for _, name := range sortedStringKeys(p.cmds) {
		p.output("        %-12s %s\n", name, p.cmds[name].description)
	}
	p.output("Syntax:\n")
	p.output("        <command> -h show help on command options.\n")
	p.output("        [command] | <shell-command>\n")
	p.output("                     pipe command output to shell-command.\n")
	return csOk
}

// requireEngine reports a missing engine.
func (p *Prompt) requireEngine() bool {
	if p.engine == nil {
		p.output("no engine\n")
		return false
	}
	return true
}

// tenant finds a tenant given with -id.
func (p *Prompt) tenant(id string) *Tenant {
	if id == "" {
		p.output("missing -id TENANT\n")
		return nil
	}
	t := p.engine.Tenant(TenantID(id))
	if t == nil {
		p.output("tenant %q not found\n", id)
	}
	return t
}

func (p *Prompt) cmdStats(args []string) CommandStatus {
	lm := p.f.String("lm", "", "show latest migration of TENANT")
	promotion := p.f.Bool("promotion", false, "with -lm: show latest promotion instead of demotion")
	counters := p.f.Bool("counters", false, "show sample counters")
	if err := p.f.Parse(args); err != nil {
		return csOk
	}
	if !p.requireEngine() {
		return csError
	}
	stats := p.engine.Stats()
	if *lm != "" {
		dir := Demotion
		if *promotion {
			dir = Promotion
		}
		if sm := stats.LastMove(TenantID(*lm), dir); sm != nil {
			p.output("%s\n", sm)
		} else {
			p.output("no %s of tenant %q\n", dir, *lm)
		}
		return csOk
	}
	if *counters {
		p.output("%+v\n", p.engine.Counters())
		return csOk
	}
	p.output(stats.Summarize() + "\n")
	return csOk
}

func (p *Prompt) cmdTenant(args []string) CommandStatus {
	ls := p.f.Bool("ls", false, "list tenants")
	add := p.f.String("add", "", "add tenant ID")
	rm := p.f.String("rm", "", "remove tenant ID")
	id := p.f.String("id", "", "tenant to modify")
	budget := p.f.String("budget", "", "fast tier budget of tenant SIZE[kMGT], default from config")
	attach := p.f.Int("attach", -1, "attach SUBJECT to tenant -id")
	detach := p.f.Int("detach", -1, "detach SUBJECT from its tenant")
	if err := p.f.Parse(args); err != nil {
		return csOk
	}
	if !p.requireEngine() {
		return csError
	}
	units := uint64(0)
	if *budget != "" {
		bytes, err := ParseBytes(*budget)
		if err != nil || bytes < 0 {
			p.output("invalid -budget %q: %v\n", *budget, err)
			return csError
		}
		unit, _ := p.engine.config().UnitBytes()
		units = uint64(bytes / unit)
	}
	if *add != "" {
		if _, err := p.engine.AddTenant(TenantID(*add), units); err != nil {
			p.output("adding tenant failed: %v\n", err)
			return csError
		}
		p.output("tenant %s added\n", *add)
	}
	if *rm != "" {
		if err := p.engine.RemoveTenant(TenantID(*rm)); err != nil {
			p.output("removing tenant failed: %v\n", err)
			return csError
		}
		p.output("tenant %s removed\n", *rm)
	}
	if *id != "" {
		t := p.tenant(*id)
		if t == nil {
			return csError
		}
		if *budget != "" {
			t.SetMaxFastTierUnits(units)
		}
		if *attach >= 0 {
			if err := p.engine.AttachSubject(t.id, SubjectID(*attach)); err != nil {
				p.output("attach failed: %v\n", err)
				return csError
			}
		}
	}
	if *detach >= 0 {
		n, err := p.engine.RemoveSubject(SubjectID(*detach))
		if err != nil {
			p.output("detach failed: %v\n", err)
			return csError
		}
		p.output("subject %d detached, %d regions untracked\n", *detach, n)
	}
	if *ls {
		for _, t := range p.engine.Tenants() {
			units, large := t.Tracked()
			p.output("%s budget %d fast %d tracked %d large %d subjects %v\n",
				t.id, t.MaxFastTierUnits(), p.engine.FastTierUsage(t.id), units, large, t.Subjects())
		}
	}
	return csOk
}

func (p *Prompt) cmdConfig(args []string) CommandStatus {
	ls := p.f.Bool("ls", false, "list parameters")
	get := p.f.String("get", "", "print value of parameter NAME")
	set := p.f.String("set", "", "set parameter NAME=VALUE")
	config := p.f.String("config", "", "reconfigure with JSON string")
	configFile := p.f.String("config-file", "", "reconfigure with YAML or JSON FILE")
	configDump := p.f.Bool("config-dump", false, "dump current configuration")
	if err := p.f.Parse(args); err != nil {
		return csOk
	}
	if !p.requireEngine() {
		return csError
	}
	if *ls {
		p.output(strings.Join(ParamNames(), "\n") + "\n")
	}
	if *configFile != "" {
		data, err := ioutil.ReadFile(*configFile)
		if err != nil {
			p.output("reading file %q failed: %s\n", *configFile, err)
			return csError
		}
		configJson, err := yaml.YAMLToJSON(data)
		if err != nil {
			p.output("parsing file %q failed: %s\n", *configFile, err)
			return csError
		}
		if err := p.engine.SetConfigJson(string(configJson)); err != nil {
			p.output("config failed: %s\n", err)
			return csError
		}
	}
	if *config != "" {
		if err := p.engine.SetConfigJson(*config); err != nil {
			p.output("config failed: %s\n", err)
			return csError
		}
	}
	if *set != "" {
		nameValue := strings.SplitN(*set, "=", 2)
		if len(nameValue) != 2 {
			p.output("invalid -set %q, NAME=VALUE expected\n", *set)
			return csError
		}
		if err := p.engine.SetParam(nameValue[0], nameValue[1]); err != nil {
			p.output("set failed: %s\n", err)
			return csError
		}
	}
	if *get != "" {
		value, err := p.engine.GetParam(*get)
		if err != nil {
			p.output("get failed: %s\n", err)
			return csError
		}
		p.output("%s\n", value)
	}
	if *configDump {
		p.output("%s\n", p.engine.GetConfigJson())
	}
	return csOk
}

func (p *Prompt) cmdEngine(args []string) CommandStatus {
	start := p.f.Bool("start", false, "start tier workers")
	stop := p.f.Bool("stop", false, "stop tier workers")
	if err := p.f.Parse(args); err != nil {
		return csOk
	}
	if !p.requireEngine() {
		return csError
	}
	if *stop {
		if err := p.engine.Stop(); err != nil {
			p.output("stop failed: %s\n", err)
			return csError
		}
		p.output("engine stopped\n")
	}
	if *start {
		if err := p.engine.Start(context.Background()); err != nil {
			p.output("start failed: %s\n", err)
			return csError
		}
		p.output("engine started\n")
	}
	return csOk
}

func (p *Prompt) cmdCool(args []string) CommandStatus {
	id := p.f.String("id", "", "tenant to cool")
	if err := p.f.Parse(args); err != nil {
		return csOk
	}
	if !p.requireEngine() {
		return csError
	}
	t := p.tenant(*id)
	if t == nil {
		return csError
	}
	if !t.RunCooling() {
		p.output("cooling refused, previous round still in progress\n")
		return csOk
	}
	p.output("tenant %s cooled to epoch %d\n", t.id, t.Epoch())
	return csOk
}

func (p *Prompt) cmdAdjust(args []string) CommandStatus {
	id := p.f.String("id", "", "tenant to adjust")
	if err := p.f.Parse(args); err != nil {
		return csOk
	}
	if !p.requireEngine() {
		return csError
	}
	t := p.tenant(*id)
	if t == nil {
		return csError
	}
	t.AdjustThresholds()
	p.output("tenant %s thresholds: active %d warm %d subunit %d\n",
		t.id, t.ActiveThreshold(), t.WarmThreshold(), t.SubunitActiveThreshold())
	return csOk
}

func (p *Prompt) cmdDemote(args []string) CommandStatus {
	id := p.f.String("id", "", "tenant to demote")
	if err := p.f.Parse(args); err != nil {
		return csOk
	}
	if !p.requireEngine() {
		return csError
	}
	if err := p.engine.RequestDirectDemotion(TenantID(*id)); err != nil {
		p.output("demotion failed: %s\n", err)
		return csError
	}
	return csOk
}

func (p *Prompt) cmdSample(args []string) CommandStatus {
	subject := p.f.Int("subject", 0, "sampled address space")
	addr := p.f.String("addr", "", "sampled ADDRESS")
	kind := p.f.String("kind", "fastread", "event kind: fastread, slowread, write, tlbload, tlbstore")
	count := p.f.Int("count", 1, "deliver the sample COUNT times")
	if err := p.f.Parse(args); err != nil {
		return csOk
	}
	if !p.requireEngine() {
		return csError
	}
	a, err := strconv.ParseUint(*addr, 0, 64)
	if err != nil {
		p.output("invalid -addr %q: %s\n", *addr, err)
		return csError
	}
	k, err := ParseEventKind(*kind)
	if err != nil {
		p.output("%s\n", err)
		return csError
	}
	hint := HintNone
	for i := 0; i < *count; i++ {
		hint = p.engine.Deliver(AccessSample{Subject: SubjectID(*subject), Addr: a, Kind: k})
	}
	p.output("%s\n", hint)
	return csOk
}

func (p *Prompt) cmdDump(args []string) CommandStatus {
	if err := p.f.Parse(args); err != nil {
		return csOk
	}
	if !p.requireEngine() {
		return csError
	}
	p.output("%s\n", p.engine.Dump(p.f.Args()))
	return csOk
}

func (p *Prompt) cmdQuit(args []string) CommandStatus {
	if err := p.f.Parse(args); err != nil {
		return csOk
	}
	p.quit = true
	return csOk
}
