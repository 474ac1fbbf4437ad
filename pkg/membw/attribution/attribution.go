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

package attribution

import (
	"sort"

	logger "github.com/intel/membw/pkg/log"
	"github.com/intel/membw/pkg/membw/parser"
)

const (
	// MiB is the bandwidth unit divisor.
	MiB = 1024 * 1024
	// NoiseThreshold is the default ratio at or below which a task is not reported.
	NoiseThreshold = 0.0005
)

// Options configures attribution.
type Options struct {
	// PMEM enables persistent memory attribution.
	PMEM bool
	// Threshold for suppressing tasks, NoiseThreshold if 0.
	Threshold float64
}

// Engine attributes memory controller bandwidth to tasks.
type Engine struct {
	opts Options
}

// Totals are the memory controller bandwidths of a round, in MiB/s.
type Totals struct {
	ReadBW      float64
	WriteBW     float64
	PMEMReadBW  float64
	PMEMWriteBW float64
}

// TaskBandwidth is the estimated bandwidth of a single task. Bandwidths are
// in MiB/s, percentages of the corresponding total in the range 0-100.
type TaskBandwidth struct {
	PID             int
	Name            string
	StartTime       string
	ReadCount       uint64
	ReadBW          float64
	ReadPercent     float64
	WriteBW         float64
	WritePercent    float64
	PMEMReadBW      float64
	PMEMReadPercent float64
}

// Round is the result of attributing one sampling round.
type Round struct {
	// StartTime is the wall-clock start label of the round.
	StartTime string
	// Elapsed is the memory controller collection time in seconds.
	Elapsed float64
	// PMEM is true if persistent memory bandwidth was attributed.
	PMEM bool
	// Totals are the memory controller bandwidths.
	Totals Totals
	// Tasks are the reported tasks, in descending read count order.
	Tasks []TaskBandwidth
	// Ended are the targets whose collection covered no time.
	Ended []int
	// Suppressed is the number of tasks below the noise threshold.
	Suppressed int
}

var log = logger.NewLogger("attribution")

// NewEngine creates an attribution engine.
func NewEngine(opts Options) *Engine {
	if opts.Threshold == 0 {
		opts.Threshold = NoiseThreshold
	}
	return &Engine{opts: opts}
}

// Attribute combines the samples of a round into per-task bandwidth
// estimates. It returns false if the system-wide or memory controller
// collection covered no time, in which case no task can be attributed.
//
// Read bandwidth is measured per task. Write bandwidth is estimated by
// splitting the memory controller write bandwidth in proportion to the
// share of retired stores, assuming every store is equally likely to miss
// the caches.
func (e *Engine) Attribute(sys *parser.SystemSampleSet, tasks []*parser.TaskSampleSet, unc *parser.UncoreSampleSet) (*Round, bool) {
	if sys == nil || unc == nil || sys.NoData() || unc.NoData() {
		return nil, false
	}

	counts := unc.Totals()
	r := &Round{
		Elapsed: unc.Elapsed,
		PMEM:    e.opts.PMEM,
		Totals: Totals{
			ReadBW:  bandwidth(counts.Read, unc.Elapsed),
			WriteBW: bandwidth(counts.Write, unc.Elapsed),
		},
	}
	if e.opts.PMEM {
		r.Totals.PMEMReadBW = bandwidth(counts.PMEMRead, unc.Elapsed)
		r.Totals.PMEMWriteBW = bandwidth(counts.PMEMWrite, unc.Elapsed)
	}

	for _, set := range tasks {
		if set.NoData() {
			log.Debug("task set %d: no data, task ended", set.Target)
			r.Ended = append(r.Ended, set.Target)
			continue
		}
		if r.StartTime == "" {
			r.StartTime = set.StartTime
		}
		for _, pid := range set.PIDs() {
			tb, readRatio, writeRatio := e.attributeTask(set.Tasks[pid], set, sys, &r.Totals)
			if readRatio <= e.opts.Threshold && writeRatio <= e.opts.Threshold {
				r.Suppressed++
				continue
			}
			r.Tasks = append(r.Tasks, tb)
		}
	}

	sort.SliceStable(r.Tasks, func(i, j int) bool {
		ti, tj := &r.Tasks[i], &r.Tasks[j]
		if ti.ReadCount != tj.ReadCount {
			return ti.ReadCount > tj.ReadCount
		}
		return ti.PID < tj.PID
	})

	log.Debug("round %s: read %.1f MiB/s, write %.1f MiB/s, %d tasks, %d suppressed, %d ended",
		r.StartTime, r.Totals.ReadBW, r.Totals.WriteBW, len(r.Tasks), r.Suppressed, len(r.Ended))

	return r, true
}

// attributeTask returns the bandwidth of a task along with its read and
// write ratios.
func (e *Engine) attributeTask(tc *parser.TaskCounts, set *parser.TaskSampleSet, sys *parser.SystemSampleSet, totals *Totals) (TaskBandwidth, float64, float64) {
	tb := TaskBandwidth{
		PID:       tc.PID,
		Name:      tc.Name,
		StartTime: set.StartTime,
		ReadCount: tc.Read,
		ReadBW:    bandwidth(tc.Read, set.Elapsed),
	}

	readRatio := ratio(tb.ReadBW, totals.ReadBW)
	tb.ReadPercent = readRatio * 100

	writeRatio := 0.0
	if sys.Stores > 0 {
		writeRatio = float64(tc.Stores) / float64(sys.Stores)
		tb.WriteBW = writeRatio * totals.WriteBW
		if totals.WriteBW != 0 {
			tb.WritePercent = writeRatio * 100
		}
	}

	if e.opts.PMEM && totals.PMEMReadBW != 0 {
		tb.PMEMReadBW = bandwidth(tc.PMEMRead, set.Elapsed)
		tb.PMEMReadPercent = ratio(tb.PMEMReadBW, totals.PMEMReadBW) * 100
	}

	return tb, readRatio, writeRatio
}

// bandwidth converts a cache line count over the given seconds to MiB/s.
func bandwidth(count uint64, seconds float64) float64 {
	if seconds <= 0 {
		return 0
	}
	return float64(parser.Bytes(count)) / MiB / seconds
}

func ratio(part, total float64) float64 {
	if total == 0 {
		return 0
	}
	return part / total
}
