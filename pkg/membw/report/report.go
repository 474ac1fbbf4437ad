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

package report

import (
	"fmt"
	"io"
	"time"

	"github.com/intel/membw/pkg/membw/attribution"
)

// Run describes a monitoring run for the report preamble.
type Run struct {
	// Tasks is the number of monitored tasks, ignored if AllTasks is set.
	Tasks int
	// AllTasks is true if every task on the host is monitored.
	AllTasks bool
	// Total is the measurement time, 0 for unbounded.
	Total time.Duration
	// Interval is the refresh interval.
	Interval time.Duration
	// PMEM is true if persistent memory bandwidth is reported.
	PMEM bool
}

// Writer renders attributed rounds in some output format.
type Writer interface {
	// Start writes whatever precedes the first round.
	Start(run Run) error
	// Report writes a single round.
	Report(r *attribution.Round) error
	// Finish writes whatever follows the last round.
	Finish() error
}

// Monitored returns a human-readable description of the monitored tasks.
func (run Run) Monitored() string {
	if run.AllTasks {
		return "all tasks"
	}
	return fmt.Sprintf("%d task(s)", run.Tasks)
}

// Banner writes the run preamble shown before any round.
func Banner(w io.Writer, run Run) error {
	var err error

	write := func(format string, args ...interface{}) {
		if err == nil {
			_, err = fmt.Fprintf(w, format, args...)
		}
	}

	write("\n")
	if run.Total > 0 {
		write("Monitoring %s for %d seconds, refreshing in every %d seconds.\n",
			run.Monitored(), int(run.Total.Seconds()), int(run.Interval.Seconds()))
	} else {
		write("Monitoring %s until interrupted, refreshing in every %d seconds.\n",
			run.Monitored(), int(run.Interval.Seconds()))
	}
	if run.PMEM {
		write("pmem specified. Persistent memory related bandwidth monitoring added.\n")
	}
	if run.AllTasks {
		write("\n!!! NOTE: Tasks with 0.0 Task/iMC read & write BW Ratio are not listed.\n")
	}

	return err
}
