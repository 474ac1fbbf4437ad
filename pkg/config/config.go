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

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"

	"github.com/intel/membw/pkg/membw"
)

const (
	// AllTasks is the target selector for monitoring every task on the host.
	AllTasks = -1
	// DefaultTime is the default total measurement time.
	DefaultTime = Duration(1000 * time.Second)
	// DefaultInterval is the default refresh interval.
	DefaultInterval = Duration(5 * time.Second)
	// DefaultLogDir is the default directory for ephemeral counter dumps.
	DefaultLogDir = "logs"
	// DefaultPerf is the default profiling tool binary.
	DefaultPerf = "perf"
	// OutputTable selects the fixed-width table report.
	OutputTable = "table"
	// OutputPrometheus selects the Prometheus text exposition report.
	OutputPrometheus = "prometheus"
	// OutputCSV selects a CSV report with a record per task and round.
	OutputCSV = "csv"
)

// Options is the runtime configuration of a monitoring run.
type Options struct {
	// Targets are the PIDs to monitor, or a single AllTasks.
	Targets PidList `json:"pids,omitempty"`
	// Time is the total measurement time, 0 for unbounded.
	Time Duration `json:"time"`
	// Interval is the length of a sampling round.
	Interval Duration `json:"interval"`
	// PMEM enables persistent memory bandwidth attribution.
	PMEM bool `json:"pmem,omitempty"`
	// LogDir is the directory for ephemeral counter dumps.
	LogDir string `json:"logDir,omitempty"`
	// Perf is the perf binary to use.
	Perf string `json:"perf,omitempty"`
	// MetricsAddress is the HTTP address for Prometheus metrics, empty to disable.
	MetricsAddress string `json:"metricsAddress,omitempty"`
	// Output is the report format.
	Output string `json:"output,omitempty"`
	// Logger configures logging.
	Logger LoggerOptions `json:"logger,omitempty"`
}

// LoggerOptions configures logging.
type LoggerOptions struct {
	Backend string `json:"backend,omitempty"`
	Level   string `json:"level,omitempty"`
	Debug   string `json:"debug,omitempty"`
}

// PidList is a list of PIDs settable from the command line.
type PidList []int

// Default returns the default configuration.
func Default() *Options {
	return &Options{
		Targets:  PidList{AllTasks},
		Time:     DefaultTime,
		Interval: DefaultInterval,
		LogDir:   DefaultLogDir,
		Perf:     DefaultPerf,
		Output:   OutputTable,
	}
}

// Load reads a YAML configuration file on top of the defaults.
func Load(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read configuration file")
	}
	o := Default()
	if err := yaml.UnmarshalStrict(data, o); err != nil {
		return nil, errors.Wrapf(membw.ErrInvalidArgument, "configuration file %s: %v", path, err)
	}
	return o, nil
}

// AllTasks returns true if every task on the host is monitored.
func (o *Options) AllTasks() bool {
	return len(o.Targets) == 1 && o.Targets[0] == AllTasks
}

// Validate checks the configuration against the host's maximum PID.
func (o *Options) Validate(pidMax int) error {
	var result *multierror.Error

	invalid := func(format string, args ...interface{}) {
		result = multierror.Append(result, errors.Wrapf(membw.ErrInvalidArgument, format, args...))
	}

	if len(o.Targets) == 0 {
		invalid("no PIDs to monitor")
	}
	seen := map[int]struct{}{}
	for _, pid := range o.Targets {
		if pid == AllTasks {
			if len(o.Targets) > 1 {
				invalid("PID %d (all tasks) can't be combined with other PIDs", AllTasks)
			}
			continue
		}
		if pid < 1 || pid > pidMax {
			invalid("PID %d out of range 1-%d", pid, pidMax)
			continue
		}
		if _, dup := seen[pid]; dup {
			invalid("duplicate PID %d", pid)
		}
		seen[pid] = struct{}{}
	}

	if o.Time < 0 {
		invalid("negative measurement time %s", o.Time.String())
	}
	if o.Interval <= 0 {
		invalid("non-positive refresh interval %s", o.Interval.String())
	} else if o.Time > 0 && o.Interval >= o.Time {
		invalid("refresh interval %s not less than measurement time %s",
			o.Interval.String(), o.Time.String())
	}

	if o.LogDir == "" {
		invalid("empty log directory")
	}
	if o.Perf == "" {
		invalid("empty perf binary")
	}
	switch o.Output {
	case OutputTable, OutputPrometheus, OutputCSV:
	default:
		invalid("unknown output format %q", o.Output)
	}

	return result.ErrorOrNil()
}

// Set implements flag.Value. It appends a comma-separated list of PIDs.
func (l *PidList) Set(value string) error {
	for _, field := range strings.Split(value, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		pid, err := strconv.Atoi(field)
		if err != nil {
			return errors.Wrapf(membw.ErrInvalidArgument, "invalid PID %q", field)
		}
		*l = append(*l, pid)
	}
	return nil
}

// String implements flag.Value.
func (l *PidList) String() string {
	if l == nil {
		return ""
	}
	strs := make([]string, 0, len(*l))
	for _, pid := range *l {
		strs = append(strs, strconv.Itoa(pid))
	}
	return strings.Join(strs, ",")
}

// configError returns a package-specific formatted error.
func configError(format string, args ...interface{}) error {
	return fmt.Errorf("config: "+format, args...)
}
