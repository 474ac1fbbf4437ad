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

package parser

import (
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"

	logger "github.com/intel/membw/pkg/log"
	"github.com/intel/membw/pkg/membw"
	"github.com/intel/membw/pkg/membw/catalog"
	"github.com/intel/membw/pkg/membw/collector"
)

var log = logger.NewLogger("parser")

// skipped lines can be numerous, keep them from flooding the log
var skipLog = logger.RateLimit(log, logger.Interval(10*time.Second))

// SampleSet is the parsed content of one dump.
type SampleSet interface {
	// Stream returns the kind of stream the samples come from.
	Stream() collector.StreamKind
	// Seconds returns the elapsed time of the collection.
	Seconds() float64
	// NoData returns true if the collection covered no time at all.
	NoData() bool
}

// SystemSampleSet is the content of a system-wide store dump.
type SystemSampleSet struct {
	Stores  uint64
	Elapsed float64
}

// TaskCounts are the proxy counters of a single task.
type TaskCounts struct {
	PID      int
	Name     string
	Read     uint64
	PMEMRead uint64
	Stores   uint64
}

// TaskSampleSet is the content of a task dump.
type TaskSampleSet struct {
	// Target is the PID the dump was collected for, or AllTasks.
	Target    int
	Elapsed   float64
	StartTime string
	Tasks     map[int]*TaskCounts
}

// UncoreCounts are the queue insertion counts of memory controllers.
type UncoreCounts struct {
	Read      uint64
	Write     uint64
	PMEMRead  uint64
	PMEMWrite uint64
}

// UncoreSampleSet is the content of a memory controller dump.
type UncoreSampleSet struct {
	Elapsed   float64
	Instances map[int]*UncoreCounts
}

// stats about the lines of a dump
type lineStats struct {
	recognized int
	malformed  int
	unknown    int
}

// Parse parses a dump into the sample set of its stream.
func Parse(dump *collector.RawDump) (SampleSet, error) {
	switch dump.Stream {
	case collector.SystemStream:
		return ParseSystem(dump)
	case collector.TaskStream:
		return ParseTask(dump)
	case collector.UncoreStream:
		return ParseUncore(dump)
	}
	return nil, parserError("%s: unknown stream %s", dump.Path, dump.Stream)
}

// ParseSystem parses a system-wide store dump.
func ParseSystem(dump *collector.RawDump) (*SystemSampleSet, error) {
	set := &SystemSampleSet{}
	err := scan(dump, func(l Line) {
		switch l.Kind {
		case SystemLine:
			set.Stores += l.Sample.Value
		case DurationLine:
			set.Elapsed = l.Elapsed
		}
	})
	if err != nil {
		return nil, err
	}
	return set, nil
}

// ParseTask parses a task dump, either for a single task or for all tasks.
func ParseTask(dump *collector.RawDump) (*TaskSampleSet, error) {
	set := &TaskSampleSet{
		Target: dump.Target,
		Tasks:  map[int]*TaskCounts{},
	}
	err := scan(dump, func(l Line) {
		switch l.Kind {
		case TaskLine:
			s := l.Sample
			tc, ok := set.Tasks[s.Subject.PID]
			if !ok {
				tc = &TaskCounts{PID: s.Subject.PID, Name: s.Subject.Name}
				set.Tasks[s.Subject.PID] = tc
			}
			switch s.Kind {
			case catalog.OffcoreRead:
				tc.Read += s.Value
			case catalog.OffcorePMEMRead:
				tc.PMEMRead += s.Value
			case catalog.AllStores:
				tc.Stores += s.Value
			}
		case DurationLine:
			set.Elapsed = l.Elapsed
		case StartTimeLine:
			set.StartTime = l.StartTime
		}
	})
	if err != nil {
		return nil, err
	}
	return set, nil
}

// ParseUncore parses a memory controller dump.
func ParseUncore(dump *collector.RawDump) (*UncoreSampleSet, error) {
	set := &UncoreSampleSet{
		Instances: map[int]*UncoreCounts{},
	}
	err := scan(dump, func(l Line) {
		switch l.Kind {
		case UncoreLine:
			s := l.Sample
			uc, ok := set.Instances[s.Subject.Instance]
			if !ok {
				uc = &UncoreCounts{}
				set.Instances[s.Subject.Instance] = uc
			}
			switch s.Kind {
			case catalog.UncoreRead:
				uc.Read += s.Value
			case catalog.UncoreWrite:
				uc.Write += s.Value
			case catalog.UncorePMEMRead:
				uc.PMEMRead += s.Value
			case catalog.UncorePMEMWrite:
				uc.PMEMWrite += s.Value
			}
		case DurationLine:
			set.Elapsed = l.Elapsed
		}
	})
	if err != nil {
		return nil, err
	}
	return set, nil
}

// scan classifies every line of a dump, passing usable ones to fn. Counter
// lines after the elapsed time line are ignored.
func scan(dump *collector.RawDump, fn func(Line)) error {
	var (
		stats lineStats
		done  bool
	)

	for _, text := range dump.Lines {
		l := ParseLine(text, dump.Stream, dump.Target)
		switch l.Kind {
		case Unrecognized:
			stats.unknown++
			continue
		case Malformed:
			stats.malformed++
			skipLog.Debug("%s: skipping malformed line: %s", dump.Path, l.Reason)
			continue
		case SystemLine, TaskLine, UncoreLine:
			if done {
				continue
			}
		case DurationLine:
			if done {
				continue
			}
			done = true
		}
		stats.recognized++
		fn(l)
	}

	log.Debug("%s: %d recognized, %d malformed, %d other lines",
		dump.Path, stats.recognized, stats.malformed, stats.unknown)

	if stats.recognized == 0 && stats.malformed > 0 {
		return errors.Wrapf(membw.ErrMalformedDump, "%s: %d malformed lines", dump.Path, stats.malformed)
	}
	return nil
}

// Stream implements SampleSet.
func (s *SystemSampleSet) Stream() collector.StreamKind { return collector.SystemStream }

// Seconds implements SampleSet.
func (s *SystemSampleSet) Seconds() float64 { return s.Elapsed }

// NoData implements SampleSet.
func (s *SystemSampleSet) NoData() bool { return s.Elapsed == 0 }

// Stream implements SampleSet.
func (s *TaskSampleSet) Stream() collector.StreamKind { return collector.TaskStream }

// Seconds implements SampleSet.
func (s *TaskSampleSet) Seconds() float64 { return s.Elapsed }

// NoData implements SampleSet.
func (s *TaskSampleSet) NoData() bool { return s.Elapsed == 0 }

// PIDs returns the tasks of the set in ascending PID order.
func (s *TaskSampleSet) PIDs() []int {
	pids := make([]int, 0, len(s.Tasks))
	for pid := range s.Tasks {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids
}

// Stream implements SampleSet.
func (s *UncoreSampleSet) Stream() collector.StreamKind { return collector.UncoreStream }

// Seconds implements SampleSet.
func (s *UncoreSampleSet) Seconds() float64 { return s.Elapsed }

// NoData implements SampleSet.
func (s *UncoreSampleSet) NoData() bool { return s.Elapsed == 0 }

// Totals sums the counts of all instances.
func (s *UncoreSampleSet) Totals() UncoreCounts {
	total := UncoreCounts{}
	for _, uc := range s.Instances {
		total.Read += uc.Read
		total.Write += uc.Write
		total.PMEMRead += uc.PMEMRead
		total.PMEMWrite += uc.PMEMWrite
	}
	return total
}

// parserError returns a package-specific formatted error.
func parserError(format string, args ...interface{}) error {
	return fmt.Errorf("parser: "+format, args...)
}
