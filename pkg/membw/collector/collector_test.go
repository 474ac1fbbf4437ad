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

package collector

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/intel/membw/pkg/membw"
	"github.com/intel/membw/pkg/membw/catalog"
	"github.com/intel/membw/pkg/sysfs"
)

// fakeOutput describes what a fake collection does.
type fakeOutput struct {
	content string
	err     error
	block   bool
	noDump  bool
}

type fakeLauncher struct {
	sync.Mutex
	outputs  map[string]fakeOutput
	launched [][]string
}

type fakeProcess struct {
	argv       []string
	out        fakeOutput
	terminated chan struct{}
	once       sync.Once
}

func (l *fakeLauncher) Launch(argv []string) (Process, error) {
	l.Lock()
	defer l.Unlock()
	l.launched = append(l.launched, argv)
	return &fakeProcess{
		argv:       argv,
		out:        l.outputs[outputPath(argv)],
		terminated: make(chan struct{}),
	}, nil
}

func (p *fakeProcess) Start() error {
	if p.out.err != nil || p.out.block || p.out.noDump {
		return nil
	}
	return os.WriteFile(outputPath(p.argv), []byte(p.out.content), 0644)
}

func (p *fakeProcess) Wait(timeout time.Duration) error {
	if p.out.block {
		select {
		case <-p.terminated:
			return errors.New("terminated")
		case <-time.After(timeout):
			return errors.New("timed out")
		}
	}
	return p.out.err
}

func (p *fakeProcess) Terminate() error {
	p.once.Do(func() { close(p.terminated) })
	return nil
}

func (p *fakeProcess) Pid() int {
	return 4242
}

func outputPath(argv []string) string {
	for i, arg := range argv {
		if arg == "-o" && i+1 < len(argv) {
			return argv[i+1]
		}
	}
	return ""
}

func newTestCollector(t *testing.T, imc sysfs.IMCLayout, pmem bool, outputs map[string]fakeOutput) (*Collector, *fakeLauncher) {
	specs, err := catalog.SpecsFor("85")
	require.NoError(t, err)

	store := NewLogStore(filepath.Join(t.TempDir(), "logs"))
	launcher := &fakeLauncher{outputs: map[string]fakeOutput{}}
	for key, out := range outputs {
		launcher.outputs[filepath.Join(store.Dir(), key)] = out
	}

	c, err := New(RunContext{
		Specs:    specs,
		PMEM:     pmem,
		IMC:      imc,
		Store:    store,
		Launcher: launcher,
		Grace:    time.Second,
	})
	require.NoError(t, err)
	return c, launcher
}

func TestNew(t *testing.T) {
	specs, err := catalog.SpecsFor("85")
	require.NoError(t, err)
	store := NewLogStore(t.TempDir())
	imc := sysfs.IMCLayout{Aggregate: true}

	_, err = New(RunContext{Store: store, IMC: imc})
	require.Error(t, err)
	_, err = New(RunContext{Specs: specs, IMC: imc})
	require.Error(t, err)
	_, err = New(RunContext{Specs: specs, Store: store})
	require.True(t, errors.Is(err, membw.ErrUnsupportedHardware), "unexpected error %v", err)

	c, err := New(RunContext{Specs: specs, Store: store, IMC: imc})
	require.NoError(t, err)
	require.Equal(t, DefaultPerf, c.Perf)
	require.Equal(t, DefaultGrace, c.Grace)
	require.IsType(t, ExecLauncher{}, c.Launcher)
}

func TestArgs(t *testing.T) {
	const (
		dramRead = "cpu/event=0xbb,umask=0x1,offcore_rsp=0x7bc0007f7,name=OCR_READ_DRAM/"
		pmemRead = "cpu/event=0xb7,umask=0x1,offcore_rsp=0x7bc4007f7,name=OCR_READ_PMEM/"
		stores   = "cpu/event=0xd0,umask=0x82,name=MEM_INST_RETIRED.ALL_STORES/"
	)

	tcases := []struct {
		name     string
		imc      sysfs.IMCLayout
		pmem     bool
		req      Request
		expected []string
	}{
		{
			name: "system",
			imc:  sysfs.IMCLayout{Aggregate: true},
			req:  Request{Stream: SystemStream, Target: AllTasks, Duration: 5 * time.Second},
			expected: []string{"perf", "stat", "-a", "-e", stores,
				"-o", "logs/system.log", "--", "sleep", "5"},
		},
		{
			name: "single task",
			imc:  sysfs.IMCLayout{Aggregate: true},
			req:  Request{Stream: TaskStream, Target: 4242, Duration: 5 * time.Second},
			expected: []string{"perf", "stat", "-p", "4242", "-e", dramRead, "-e", stores,
				"-o", "logs/4242/task.log", "--", "sleep", "5"},
		},
		{
			name: "single task with pmem",
			imc:  sysfs.IMCLayout{Aggregate: true},
			pmem: true,
			req:  Request{Stream: TaskStream, Target: 4242, Duration: 2500 * time.Millisecond},
			expected: []string{"perf", "stat", "-p", "4242", "-e", dramRead, "-e", pmemRead, "-e", stores,
				"-o", "logs/4242/task.log", "--", "sleep", "2.5"},
		},
		{
			name: "all tasks",
			imc:  sysfs.IMCLayout{Aggregate: true},
			req:  Request{Stream: TaskStream, Target: AllTasks, Duration: 5 * time.Second},
			expected: []string{"perf", "stat", "-a", "--per-thread", "-e", dramRead, "-e", stores,
				"-o", "logs/task.log", "--", "sleep", "5"},
		},
		{
			name: "aggregate uncore",
			imc:  sysfs.IMCLayout{Aggregate: true},
			req:  Request{Stream: UncoreStream, Target: AllTasks, Duration: 5 * time.Second},
			expected: []string{"perf", "stat",
				"-e", "uncore_imc/event=0x10,umask=0x0,name=UNC_M_RPQ_INSERTS/",
				"-e", "uncore_imc/event=0x20,umask=0x0,name=UNC_M_WPQ_INSERTS/",
				"-o", "logs/unc.log", "--", "sleep", "5"},
		},
		{
			name: "uncore instances with a gap",
			imc:  sysfs.IMCLayout{Instances: []int{0, 3}},
			req:  Request{Stream: UncoreStream, Target: AllTasks, Duration: 5 * time.Second},
			expected: []string{"perf", "stat",
				"-e", "uncore_imc_0/event=0x10,umask=0x0,name=UNC_M_RPQ_INSERTS_IMC_0/",
				"-e", "uncore_imc_0/event=0x20,umask=0x0,name=UNC_M_WPQ_INSERTS_IMC_0/",
				"-e", "uncore_imc_3/event=0x10,umask=0x0,name=UNC_M_RPQ_INSERTS_IMC_3/",
				"-e", "uncore_imc_3/event=0x20,umask=0x0,name=UNC_M_WPQ_INSERTS_IMC_3/",
				"-o", "logs/unc.log", "--", "sleep", "5"},
		},
	}

	specs, err := catalog.SpecsFor("85")
	require.NoError(t, err)

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			store := NewLogStore("logs")
			c, err := New(RunContext{Specs: specs, PMEM: tc.pmem, IMC: tc.imc, Store: store})
			require.NoError(t, err)

			args := c.Args(tc.req, store.Path(tc.req.Stream, tc.req.Target))
			if diff := cmp.Diff(tc.expected, args); diff != "" {
				t.Errorf("unexpected command line (-expected, +got):\n%s", diff)
			}
		})
	}
}

func TestCollect(t *testing.T) {
	c, _ := newTestCollector(t, sysfs.IMCLayout{Aggregate: true}, false, map[string]fakeOutput{
		"system.log":    {content: "1,000,000 MEM_INST_RETIRED.ALL_STORES\n\n5.001 seconds time elapsed\n"},
		"4242/task.log": {err: errors.New("exit status 255")},
	})

	// a stale dump must not survive into the new round
	stale := c.Store.Path(TaskStream, 4242)
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0755))
	require.NoError(t, os.WriteFile(stale, []byte("stale\n"), 0644))

	dump, err := c.Collect(context.Background(), Request{Stream: SystemStream, Target: AllTasks, Duration: time.Second})
	require.NoError(t, err)
	require.Equal(t, SystemStream, dump.Stream)
	require.Equal(t, []string{"1,000,000 MEM_INST_RETIRED.ALL_STORES", "", "5.001 seconds time elapsed"}, dump.Lines)

	_, err = c.Collect(context.Background(), Request{Stream: TaskStream, Target: 4242, Duration: time.Second})
	var cerr *CollectionError
	require.True(t, errors.As(err, &cerr), "unexpected error %v", err)
	require.Equal(t, TaskStream, cerr.Stream)
	require.Equal(t, 4242, cerr.Target)
	require.Contains(t, err.Error(), "task 4242")
	_, err = os.Stat(stale)
	require.True(t, os.IsNotExist(err), "stale dump should be cleared")
}

func TestCollectMissingDump(t *testing.T) {
	c, _ := newTestCollector(t, sysfs.IMCLayout{Aggregate: true}, false, map[string]fakeOutput{
		"unc.log": {noDump: true},
	})

	_, err := c.Collect(context.Background(), Request{Stream: UncoreStream, Target: AllTasks, Duration: time.Second})
	require.True(t, errors.Is(err, membw.ErrMissingDump), "unexpected error %v", err)
}

func TestCollectCancel(t *testing.T) {
	c, _ := newTestCollector(t, sysfs.IMCLayout{Aggregate: true}, false, map[string]fakeOutput{
		"system.log": {block: true},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := c.Collect(ctx, Request{Stream: SystemStream, Target: AllTasks, Duration: time.Minute})
	require.True(t, errors.Is(err, membw.ErrInterrupted), "unexpected error %v", err)
	require.Less(t, int64(time.Since(start)), int64(10*time.Second))
}

func TestCollectAll(t *testing.T) {
	c, launcher := newTestCollector(t, sysfs.IMCLayout{Instances: []int{0, 1}}, false, map[string]fakeOutput{
		"system.log": {content: "100 MEM_INST_RETIRED.ALL_STORES\n"},
		"unc.log":    {content: "10 UNC_M_RPQ_INSERTS_IMC_0\n"},
		"1/task.log": {content: "1 OCR_READ_DRAM\n"},
		"2/task.log": {err: errors.New("no such process")},
		"3/task.log": {content: "3 OCR_READ_DRAM\n"},
	})

	reqs := []Request{
		{Stream: SystemStream, Target: AllTasks, Duration: time.Second},
		{Stream: UncoreStream, Target: AllTasks, Duration: time.Second},
		{Stream: TaskStream, Target: 1, Duration: time.Second},
		{Stream: TaskStream, Target: 2, Duration: time.Second},
		{Stream: TaskStream, Target: 3, Duration: time.Second},
	}

	results := c.CollectAll(context.Background(), reqs)
	require.Len(t, results, len(reqs))
	require.Len(t, launcher.launched, len(reqs))

	for i, r := range results {
		require.Equal(t, reqs[i], r.Request)
		if r.Request.Target == 2 {
			require.Error(t, r.Err)
			require.Nil(t, r.Dump)
			continue
		}
		require.NoError(t, r.Err)
		require.Equal(t, r.Request.Stream, r.Dump.Stream)
		require.Len(t, r.Dump.Lines, 1)
	}
	require.Equal(t, []string{"3 OCR_READ_DRAM"}, results[4].Dump.Lines)
}

func TestCheckTool(t *testing.T) {
	err := CheckTool("surely-not-a-profiling-tool-on-this-host")
	require.True(t, errors.Is(err, membw.ErrMissingTool), "unexpected error %v", err)
	require.NoError(t, CheckTool(os.Args[0]))
}
