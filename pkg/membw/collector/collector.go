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
	"fmt"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"

	logger "github.com/intel/membw/pkg/log"
	"github.com/intel/membw/pkg/membw"
	"github.com/intel/membw/pkg/membw/catalog"
	"github.com/intel/membw/pkg/sysfs"
)

const (
	// AllTasks is the task target for monitoring every task on the host.
	AllTasks = -1
	// DefaultPerf is the default profiling tool.
	DefaultPerf = "perf"
	// DefaultGrace is how long a collection may overrun its round.
	DefaultGrace = 5 * time.Second
)

// StreamKind identifies one kind of counter stream.
type StreamKind int

const (
	// SystemStream is the system-wide retired store stream.
	SystemStream StreamKind = iota
	// TaskStream is a per-task (or per-thread, for all tasks) stream.
	TaskStream
	// UncoreStream is the memory controller queue insertion stream.
	UncoreStream
)

// Request asks for one stream to be collected for one round.
type Request struct {
	Stream   StreamKind
	Target   int
	Duration time.Duration
}

// RawDump is the text produced by one collection.
type RawDump struct {
	Stream StreamKind
	Target int
	Path   string
	Lines  []string
}

// Result is the outcome of one collection.
type Result struct {
	Request Request
	Dump    *RawDump
	Err     error
}

// CollectionError is returned when a collection process fails.
type CollectionError struct {
	Stream StreamKind
	Target int
	Err    error
}

// RunContext is everything a Collector needs for one monitoring run.
type RunContext struct {
	// Perf is the profiling tool to run.
	Perf string
	// Specs is the counter catalog of this host.
	Specs *catalog.SpecSet
	// PMEM enables persistent memory counters.
	PMEM bool
	// IMC is the memory controller layout of this host.
	IMC sysfs.IMCLayout
	// Store is where dumps are written.
	Store *LogStore
	// Launcher starts collection processes, ExecLauncher if nil.
	Launcher Launcher
	// Grace is added to the round duration when waiting, DefaultGrace if 0.
	Grace time.Duration
}

// Collector runs counter collection processes.
type Collector struct {
	RunContext
}

var log = logger.NewLogger("collector")

// New creates a collector for the given run context.
func New(rc RunContext) (*Collector, error) {
	if rc.Specs == nil {
		return nil, collectorError("no counter catalog")
	}
	if rc.Store == nil {
		return nil, collectorError("no log store")
	}
	if rc.IMC.Count() == 0 {
		return nil, errors.Wrap(membw.ErrUnsupportedHardware, "no memory controller instances")
	}
	if rc.Perf == "" {
		rc.Perf = DefaultPerf
	}
	if rc.Launcher == nil {
		rc.Launcher = ExecLauncher{}
	}
	if rc.Grace == 0 {
		rc.Grace = DefaultGrace
	}
	return &Collector{RunContext: rc}, nil
}

// CheckTool checks that the given profiling tool is installed.
func CheckTool(perf string) error {
	if _, err := exec.LookPath(perf); err != nil {
		return errors.Wrapf(membw.ErrMissingTool, "%s not available, please install it first", perf)
	}
	return nil
}

// Args returns the command line for collecting the given request into path.
func (c *Collector) Args(req Request, path string) []string {
	args := []string{c.Perf, "stat"}

	switch req.Stream {
	case SystemStream:
		args = append(args, "-a")
		args = appendEvents(args, c.Specs.SystemEvents())
	case TaskStream:
		if req.Target == AllTasks {
			args = append(args, "-a", "--per-thread")
		} else {
			args = append(args, "-p", strconv.Itoa(req.Target))
		}
		args = appendEvents(args, c.Specs.TaskEvents(c.PMEM))
	case UncoreStream:
		if c.IMC.Aggregate {
			args = appendEvents(args, c.Specs.UncoreEvents(catalog.AggregateInstance, c.PMEM))
		} else {
			for _, i := range c.IMC.Instances {
				args = appendEvents(args, c.Specs.UncoreEvents(i, c.PMEM))
			}
		}
	}

	return append(args, "-o", path, "--", "sleep", formatSeconds(req.Duration))
}

// Collect runs one collection to completion and returns its dump. Cancelling
// the context terminates the collection process.
func (c *Collector) Collect(ctx context.Context, req Request) (*RawDump, error) {
	path, err := c.Store.Prepare(req.Stream, req.Target)
	if err != nil {
		return nil, err
	}

	argv := c.Args(req, path)
	log.Debug("%s: starting %v", req, argv)

	proc, err := c.Launcher.Launch(argv)
	if err != nil {
		return nil, &CollectionError{Stream: req.Stream, Target: req.Target, Err: err}
	}
	if err := proc.Start(); err != nil {
		return nil, &CollectionError{Stream: req.Stream, Target: req.Target, Err: err}
	}

	done := make(chan error, 1)
	go func() {
		done <- proc.Wait(req.Duration + c.Grace)
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		log.Debug("%s: cancelled, terminating process %d", req, proc.Pid())
		if err := proc.Terminate(); err != nil {
			log.Warn("%s: %v", req, err)
		}
		<-done
		return nil, errors.Wrapf(membw.ErrInterrupted, "%s", req)
	}

	if err != nil {
		return nil, &CollectionError{Stream: req.Stream, Target: req.Target, Err: err}
	}

	return c.Store.ReadDump(req.Stream, req.Target)
}

// CollectAll runs all collections concurrently and waits for every one of
// them to finish. Results are in request order.
func (c *Collector) CollectAll(ctx context.Context, reqs []Request) []Result {
	results := make([]Result, len(reqs))
	wg := sync.WaitGroup{}

	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req Request) {
			defer wg.Done()
			dump, err := c.Collect(ctx, req)
			results[i] = Result{Request: req, Dump: dump, Err: err}
		}(i, req)
	}

	wg.Wait()
	return results
}

func appendEvents(args, events []string) []string {
	for _, e := range events {
		args = append(args, "-e", e)
	}
	return args
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

// String returns a name for the stream kind.
func (k StreamKind) String() string {
	switch k {
	case SystemStream:
		return "system"
	case TaskStream:
		return "task"
	case UncoreStream:
		return "uncore"
	}
	return "stream-" + strconv.Itoa(int(k))
}

// String returns a short description of the request.
func (r Request) String() string {
	if r.Stream != TaskStream {
		return r.Stream.String()
	}
	if r.Target == AllTasks {
		return "task <all>"
	}
	return "task " + strconv.Itoa(r.Target)
}

// Error implements error.
func (e *CollectionError) Error() string {
	req := Request{Stream: e.Stream, Target: e.Target}
	return fmt.Sprintf("%s collection failed: %v", req, e.Err)
}

// Unwrap returns the underlying error.
func (e *CollectionError) Unwrap() error {
	return e.Err
}

// collectorError returns a package-specific formatted error.
func collectorError(format string, args ...interface{}) error {
	return fmt.Errorf("collector: "+format, args...)
}
