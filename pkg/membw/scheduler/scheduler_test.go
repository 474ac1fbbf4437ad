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

package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/intel/membw/pkg/membw"
	"github.com/intel/membw/pkg/membw/attribution"
	"github.com/intel/membw/pkg/membw/collector"
)

const (
	systemDump = "1,000,000 MEM_INST_RETIRED.ALL_STORES\n1.0 seconds time elapsed\n"
	uncoreDump = "1,000,000 UNC_M_RPQ_INSERTS_IMC_0\n1,000,000 UNC_M_WPQ_INSERTS_IMC_0\n1.0 seconds time elapsed\n"
	taskDump   = "# started on Thu Oct 16 10:11:12 2026\n%d OCR_READ_DRAM\n%d MEM_INST_RETIRED.ALL_STORES\n%s seconds time elapsed\n"
)

// outcome is what the fake collector does for one request.
type outcome struct {
	content string
	err     error
}

// fakeCollector writes canned dumps into the log store.
type fakeCollector struct {
	t      *testing.T
	store  *collector.LogStore
	rounds int
	// outcome for a target in a round, a running task by default
	plan func(round, target int) *outcome
	// called when collection starts
	hook func(round int)
}

func (c *fakeCollector) CollectAll(ctx context.Context, reqs []collector.Request) []collector.Result {
	if c.hook != nil {
		c.hook(c.rounds)
	}
	results := make([]collector.Result, 0, len(reqs))
	for _, req := range reqs {
		out := &outcome{}
		switch req.Stream {
		case collector.SystemStream:
			out.content = systemDump
		case collector.UncoreStream:
			out.content = uncoreDump
		case collector.TaskStream:
			out.content = fmt.Sprintf(taskDump, 100000, 100000, "1.0")
		}
		if c.plan != nil {
			if o := c.plan(c.rounds, targetOf(req)); o != nil {
				out = o
			}
		}
		results = append(results, c.result(ctx, req, out))
	}
	c.rounds++
	return results
}

func (c *fakeCollector) result(ctx context.Context, req collector.Request, out *outcome) collector.Result {
	if ctx.Err() != nil {
		return collector.Result{Request: req, Err: errors.Wrap(membw.ErrInterrupted, "test")}
	}
	path, err := c.store.Prepare(req.Stream, req.Target)
	require.NoError(c.t, err)
	if out.err != nil {
		return collector.Result{Request: req, Err: out.err}
	}
	if out.content != "" {
		require.NoError(c.t, os.WriteFile(path, []byte(out.content), 0644))
	}
	dump, err := c.store.ReadDump(req.Stream, req.Target)
	return collector.Result{Request: req, Dump: dump, Err: err}
}

// shared streams are planned as targets -10 (system) and -20 (uncore)
func targetOf(req collector.Request) int {
	switch req.Stream {
	case collector.SystemStream:
		return -10
	case collector.UncoreStream:
		return -20
	}
	return req.Target
}

type fakeNamer struct {
	names map[int]string
	gone  map[int]bool
}

func (n *fakeNamer) TaskName(pid int) (string, error) {
	if name, ok := n.names[pid]; ok && !n.gone[pid] {
		return name, nil
	}
	return "", fmt.Errorf("no task %d", pid)
}

func (n *fakeNamer) TaskExists(pid int) bool {
	_, ok := n.names[pid]
	return ok && !n.gone[pid]
}

type recorder struct {
	rounds []*attribution.Round
}

func (r *recorder) Report(round *attribution.Round) error {
	r.rounds = append(r.rounds, round)
	return nil
}

func pidsOf(r *attribution.Round) []int {
	pids := []int{}
	for _, tb := range r.Tasks {
		pids = append(pids, tb.PID)
	}
	return pids
}

type fixture struct {
	store     *collector.LogStore
	collector *fakeCollector
	namer     *fakeNamer
	sink      *recorder
	sched     *Scheduler
}

func setup(t *testing.T, opts Options) *fixture {
	f := &fixture{
		store: collector.NewLogStore(filepath.Join(t.TempDir(), "logs")),
		namer: &fakeNamer{
			names: map[int]string{1: "stream", 2: "redis", 3: "nginx"},
			gone:  map[int]bool{},
		},
		sink: &recorder{},
	}
	f.collector = &fakeCollector{t: t, store: f.store}

	if opts.Interval == 0 {
		opts.Interval = time.Second
	}
	sched, err := New(opts, f.collector, f.store, f.namer, f.sink)
	require.NoError(t, err)
	f.sched = sched
	return f
}

func TestNew(t *testing.T) {
	store := collector.NewLogStore(t.TempDir())
	c := &fakeCollector{t: t, store: store}
	namer := &fakeNamer{}

	_, err := New(Options{Interval: time.Second}, c, store, namer)
	require.True(t, errors.Is(err, membw.ErrInvalidArgument))
	_, err = New(Options{Targets: []int{1}}, c, store, namer)
	require.True(t, errors.Is(err, membw.ErrInvalidArgument))
	_, err = New(Options{Targets: []int{1}, Interval: time.Second}, nil, store, namer)
	require.Error(t, err)
}

func TestRunToCompletion(t *testing.T) {
	f := setup(t, Options{Targets: []int{1, 2}, Total: 3 * time.Second})

	require.NoError(t, f.sched.Run(context.Background()))
	require.Len(t, f.sink.rounds, 3)
	for _, r := range f.sink.rounds {
		require.Equal(t, []int{1, 2}, pidsOf(r))
		require.Equal(t, "stream", r.Tasks[0].Name)
		require.Equal(t, "redis", r.Tasks[1].Name)
		require.Equal(t, "10:11:12", r.StartTime)
	}
	require.Equal(t, Stopped, f.sched.State())
	_, err := os.Stat(f.store.Dir())
	require.True(t, os.IsNotExist(err), "log directory should be removed")
}

func TestFailedCollectionRemovesTask(t *testing.T) {
	f := setup(t, Options{Targets: []int{1, 2, 3}, Total: 3 * time.Second})
	f.collector.plan = func(round, target int) *outcome {
		if round == 0 && target == 2 {
			return &outcome{err: &collector.CollectionError{
				Stream: collector.TaskStream,
				Target: 2,
				Err:    errors.New("exit status 255"),
			}}
		}
		return nil
	}
	f.collector.hook = func(round int) {
		if round == 1 {
			_, err := os.Stat(filepath.Join(f.store.Dir(), "2"))
			require.True(t, os.IsNotExist(err), "logs of removed task should be cleared")
		}
	}

	require.NoError(t, f.sched.Run(context.Background()))
	require.Len(t, f.sink.rounds, 3)
	for _, r := range f.sink.rounds {
		require.Equal(t, []int{1, 3}, pidsOf(r))
	}
	require.Equal(t, 3, f.collector.rounds)
}

func TestTaskEndRemovesTask(t *testing.T) {
	tcases := []struct {
		name   string
		plan   func(round, target int) *outcome
		rounds int
		gone   bool
	}{
		{
			name: "zero duration",
			plan: func(round, target int) *outcome {
				if round >= 1 && target == 1 {
					return &outcome{content: fmt.Sprintf(taskDump, 0, 0, "0.0")}
				}
				return nil
			},
			rounds: 2,
		},
		{
			name: "name lookup fails",
			gone: true,
			plan: func(round, target int) *outcome {
				return nil
			},
			rounds: 1,
		},
		{
			name: "shared stream without duration",
			plan: func(round, target int) *outcome {
				if round == 2 && target == -20 {
					return &outcome{content: "100 UNC_M_RPQ_INSERTS_IMC_0\n0.0 seconds time elapsed\n"}
				}
				return nil
			},
			rounds: 2,
		},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			f := setup(t, Options{Targets: []int{1}})
			f.collector.plan = tc.plan
			f.namer.gone[1] = tc.gone

			require.NoError(t, f.sched.Run(context.Background()))
			require.Len(t, f.sink.rounds, tc.rounds)
			require.Empty(t, f.sched.Tracked())
		})
	}
}

func TestMissingDump(t *testing.T) {
	f := setup(t, Options{Targets: []int{1, 2}, Total: 2 * time.Second})
	f.collector.plan = func(round, target int) *outcome {
		if round == 0 && (target == 1 || target == 2) {
			// no dump, task 1 is still running but task 2 is gone
			return &outcome{}
		}
		return nil
	}
	f.namer.gone[2] = true

	require.NoError(t, f.sched.Run(context.Background()))
	require.Equal(t, 2, f.collector.rounds)
	require.Len(t, f.sink.rounds, 1, "first round should be skipped")
	require.Equal(t, []int{1}, pidsOf(f.sink.rounds[0]))
}

func TestAllTasks(t *testing.T) {
	f := setup(t, Options{Targets: []int{collector.AllTasks}, Total: time.Second})
	f.collector.plan = func(round, target int) *outcome {
		if target != collector.AllTasks {
			return nil
		}
		return &outcome{content: strings.Join([]string{
			"stream-4242 400,000 OCR_READ_DRAM",
			"idle-7 1 OCR_READ_DRAM",
			"stream-4242 500,000 MEM_INST_RETIRED.ALL_STORES",
			"idle-7 1 MEM_INST_RETIRED.ALL_STORES",
			"1.0 seconds time elapsed",
		}, "\n")}
	}

	require.NoError(t, f.sched.Run(context.Background()))
	require.Len(t, f.sink.rounds, 1)
	r := f.sink.rounds[0]
	require.Equal(t, []int{4242}, pidsOf(r))
	require.Equal(t, "stream", r.Tasks[0].Name)
	require.Equal(t, 1, r.Suppressed)
	require.InDelta(t, 40.0, r.Tasks[0].ReadPercent, 1e-9)
	require.InDelta(t, 50.0, r.Tasks[0].WritePercent, 1e-9)
}

func TestCancel(t *testing.T) {
	f := setup(t, Options{Targets: []int{1}})
	ctx, cancel := context.WithCancel(context.Background())
	f.collector.hook = func(round int) {
		if round == 2 {
			cancel()
		}
	}

	err := f.sched.Run(ctx)
	require.True(t, errors.Is(err, membw.ErrInterrupted), "unexpected error %v", err)
	require.Len(t, f.sink.rounds, 2)
	_, err = os.Stat(f.store.Dir())
	require.True(t, os.IsNotExist(err), "log directory should be removed")
}

func TestFatalSharedCollection(t *testing.T) {
	f := setup(t, Options{Targets: []int{1}})
	f.collector.plan = func(round, target int) *outcome {
		if target == -10 {
			return &outcome{err: &collector.CollectionError{
				Stream: collector.SystemStream,
				Target: collector.AllTasks,
				Err:    errors.New("permission denied"),
			}}
		}
		return nil
	}

	err := f.sched.Run(context.Background())
	var cerr *collector.CollectionError
	require.True(t, errors.As(err, &cerr), "unexpected error %v", err)
	require.Empty(t, f.sink.rounds)
}
