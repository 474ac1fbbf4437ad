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
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	logger "github.com/intel/membw/pkg/log"
	"github.com/intel/membw/pkg/membw"
	"github.com/intel/membw/pkg/membw/attribution"
	"github.com/intel/membw/pkg/membw/collector"
	"github.com/intel/membw/pkg/membw/parser"
)

// State is the state of the sampling loop.
type State int

const (
	// Idle is the state between rounds.
	Idle State = iota
	// Collecting is the state while collection processes run.
	Collecting
	// Parsing is the state while dumps are parsed.
	Parsing
	// Attributing is the state while bandwidth is attributed.
	Attributing
	// Reporting is the state while sinks are fed.
	Reporting
	// Stopped is the final state.
	Stopped
)

// Options configures the sampling loop.
type Options struct {
	// Targets are the PIDs to monitor, or a single collector.AllTasks.
	Targets []int
	// Total is the total measurement time, 0 for unbounded.
	Total time.Duration
	// Interval is the length of a round.
	Interval time.Duration
	// PMEM enables persistent memory attribution.
	PMEM bool
}

// Collector runs the collections of a round.
type Collector interface {
	CollectAll(ctx context.Context, reqs []collector.Request) []collector.Result
}

// TaskNamer resolves task names.
type TaskNamer interface {
	TaskName(pid int) (string, error)
	TaskExists(pid int) bool
}

// Sink consumes attributed rounds.
type Sink interface {
	Report(r *attribution.Round) error
}

// Scheduler drives sampling rounds until the measurement time is over, no
// task is left to monitor, or it is cancelled.
type Scheduler struct {
	sync.Mutex
	opts      Options
	collector Collector
	store     *collector.LogStore
	engine    *attribution.Engine
	namer     TaskNamer
	sinks     []Sink
	state     State
	tracked   map[int]struct{}
	elapsed   time.Duration
	rounds    int
}

var log = logger.NewLogger("scheduler")

// New creates a scheduler.
func New(opts Options, c Collector, store *collector.LogStore, namer TaskNamer, sinks ...Sink) (*Scheduler, error) {
	if len(opts.Targets) == 0 {
		return nil, errors.Wrap(membw.ErrInvalidArgument, "no tasks to monitor")
	}
	if opts.Interval <= 0 {
		return nil, errors.Wrapf(membw.ErrInvalidArgument, "invalid interval %s", opts.Interval)
	}
	if c == nil || store == nil || namer == nil {
		return nil, schedulerError("missing collector, log store or task namer")
	}

	s := &Scheduler{
		opts:      opts,
		collector: c,
		store:     store,
		engine:    attribution.NewEngine(attribution.Options{PMEM: opts.PMEM}),
		namer:     namer,
		sinks:     sinks,
		tracked:   map[int]struct{}{},
	}
	for _, pid := range opts.Targets {
		s.tracked[pid] = struct{}{}
	}
	return s, nil
}

// Run runs sampling rounds. It returns nil once the measurement time is over
// or no task is left, and membw.ErrInterrupted if the context is cancelled.
// Logs are cleaned up on every return path.
func (s *Scheduler) Run(ctx context.Context) (err error) {
	defer func() {
		s.setState(Stopped)
		if cerr := s.store.RemoveAll(); cerr != nil {
			log.Error("failed to clean up logs: %v", cerr)
			if err == nil {
				err = cerr
			}
		}
	}()

	for s.active() {
		if ctx.Err() != nil {
			return errors.Wrap(membw.ErrInterrupted, "before round")
		}
		if err := s.round(ctx); err != nil {
			return err
		}
		s.elapsed += s.opts.Interval
		s.rounds++
	}

	log.Info("monitoring finished after %d rounds, %s", s.rounds, s.elapsed)
	return nil
}

// Tracked returns the currently monitored targets in ascending order.
func (s *Scheduler) Tracked() []int {
	s.Lock()
	defer s.Unlock()
	return s.trackedLocked()
}

// State returns the current state of the scheduler.
func (s *Scheduler) State() State {
	s.Lock()
	defer s.Unlock()
	return s.state
}

func (s *Scheduler) active() bool {
	s.Lock()
	defer s.Unlock()
	if len(s.tracked) == 0 {
		log.Info("no tasks left to monitor")
		return false
	}
	return s.opts.Total == 0 || s.elapsed < s.opts.Total
}

func (s *Scheduler) trackedLocked() []int {
	pids := make([]int, 0, len(s.tracked))
	for pid := range s.tracked {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids
}

func (s *Scheduler) setState(state State) {
	s.Lock()
	defer s.Unlock()
	if s.state != state {
		log.Debug("round %d: %s => %s", s.rounds, s.state, state)
	}
	s.state = state
}

// remove stops monitoring a target and clears its logs.
func (s *Scheduler) remove(pid int, format string, args ...interface{}) {
	s.Lock()
	_, ok := s.tracked[pid]
	delete(s.tracked, pid)
	s.Unlock()

	if !ok {
		return
	}
	log.Info("%s: no longer monitored, %s", targetName(pid), fmt.Sprintf(format, args...))
	if err := s.store.Clear(pid); err != nil {
		log.Warn("%s: failed to clear logs: %v", targetName(pid), err)
	}
}

// round runs a single sampling round. Errors returned are fatal.
func (s *Scheduler) round(ctx context.Context) error {
	defer s.setState(Idle)
	defer s.clearRound()

	targets := s.Tracked()
	reqs := make([]collector.Request, 0, len(targets)+2)
	reqs = append(reqs,
		collector.Request{Stream: collector.SystemStream, Target: collector.AllTasks, Duration: s.opts.Interval},
		collector.Request{Stream: collector.UncoreStream, Target: collector.AllTasks, Duration: s.opts.Interval},
	)
	for _, pid := range targets {
		reqs = append(reqs, collector.Request{Stream: collector.TaskStream, Target: pid, Duration: s.opts.Interval})
	}

	s.setState(Collecting)
	results := s.collector.CollectAll(ctx, reqs)
	if ctx.Err() != nil {
		return errors.Wrap(membw.ErrInterrupted, "during collection")
	}

	s.setState(Parsing)
	sys, unc, err := s.parseShared(results[0], results[1])
	if err != nil {
		if errors.Is(err, membw.ErrMissingDump) || errors.Is(err, membw.ErrMalformedDump) {
			log.Error("skipping round: %v", err)
			return nil
		}
		return err
	}

	tasks, names, skip := s.parseTasks(results[2:])
	if skip {
		return nil
	}

	s.setState(Attributing)
	r, ok := s.engine.Attribute(sys, tasks, unc)
	if !ok {
		for _, pid := range s.Tracked() {
			s.remove(pid, "collection covered no time")
		}
		return nil
	}
	for _, pid := range r.Ended {
		s.remove(pid, "task ended")
	}
	for i := range r.Tasks {
		if name, ok := names[r.Tasks[i].PID]; ok {
			r.Tasks[i].Name = name
		}
	}

	s.setState(Reporting)
	for _, sink := range s.sinks {
		if err := sink.Report(r); err != nil {
			log.Error("failed to report round: %v", err)
		}
	}

	return nil
}

// parseShared parses the system-wide and memory controller dumps.
func (s *Scheduler) parseShared(sysResult, uncResult collector.Result) (*parser.SystemSampleSet, *parser.UncoreSampleSet, error) {
	for _, r := range []collector.Result{sysResult, uncResult} {
		if r.Err != nil {
			return nil, nil, errors.Wrapf(r.Err, "%s collection", r.Request)
		}
	}

	sys, err := parser.ParseSystem(sysResult.Dump)
	if err != nil {
		return nil, nil, err
	}
	unc, err := parser.ParseUncore(uncResult.Dump)
	if err != nil {
		return nil, nil, err
	}
	return sys, unc, nil
}

// parseTasks parses task dumps, dropping tasks which are gone. For explicit
// PIDs it also resolves task names. It returns true if the round has to be
// skipped.
func (s *Scheduler) parseTasks(results []collector.Result) ([]*parser.TaskSampleSet, map[int]string, bool) {
	var (
		sets  []*parser.TaskSampleSet
		names = map[int]string{}
		skip  bool
	)

	for _, r := range results {
		pid := r.Request.Target
		if r.Err != nil {
			var cerr *collector.CollectionError
			switch {
			case errors.As(r.Err, &cerr):
				s.remove(pid, "collection failed: %v", cerr.Err)
			case errors.Is(r.Err, membw.ErrMissingDump) && pid != collector.AllTasks && !s.namer.TaskExists(pid):
				s.remove(pid, "task exited")
			default:
				log.Error("%s: %v", targetName(pid), r.Err)
				skip = true
			}
			continue
		}

		set, err := parser.ParseTask(r.Dump)
		if err != nil {
			log.Warn("%s: %v", targetName(pid), err)
			continue
		}

		if pid != collector.AllTasks && !set.NoData() {
			name, err := s.namer.TaskName(pid)
			if err != nil {
				s.remove(pid, "failed to get task name: %v", err)
				continue
			}
			names[pid] = name
		}

		sets = append(sets, set)
	}

	if skip {
		log.Error("skipping round %d", s.rounds)
	}
	return sets, names, skip
}

func (s *Scheduler) clearRound() {
	if err := s.store.ClearRound(); err != nil {
		log.Warn("failed to clear round logs: %v", err)
	}
	for _, pid := range s.Tracked() {
		if err := s.store.Clear(pid); err != nil {
			log.Warn("%s: failed to clear logs: %v", targetName(pid), err)
		}
	}
}

func targetName(pid int) string {
	if pid == collector.AllTasks {
		return "all tasks"
	}
	return fmt.Sprintf("task %d", pid)
}

// String returns the name of the state.
func (st State) String() string {
	switch st {
	case Idle:
		return "IDLE"
	case Collecting:
		return "COLLECTING"
	case Parsing:
		return "PARSING"
	case Attributing:
		return "ATTRIBUTING"
	case Reporting:
		return "REPORTING"
	case Stopped:
		return "STOPPED"
	}
	return fmt.Sprintf("<unknown state %d>", st)
}

// schedulerError returns a package-specific formatted error.
func schedulerError(format string, args ...interface{}) error {
	return fmt.Errorf("scheduler: "+format, args...)
}
