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

package main

import (
	"flag"

	"github.com/intel/membw/pkg/config"
	logger "github.com/intel/membw/pkg/log"
)

const (
	optConfigFile     = "config"
	optPid            = "pid"
	optTime           = "time"
	optInterval       = "interval"
	optPMEM           = "pmem"
	optLogDir         = "log-dir"
	optPerf           = "perf"
	optMetricsAddress = "metrics-address"
	optOutput         = "output"
	// logger flags, registered by the logger itself
	optLogger      = "logger"
	optLoggerLevel = "logger-level"
	optLoggerDebug = "logger-debug"
)

// options captures our command line.
type options struct {
	configFile     string
	pids           config.PidList
	time           config.Duration
	interval       config.Duration
	pmem           bool
	logDir         string
	perf           string
	metricsAddress string
	output         string
}

var opt = options{
	time:     config.DefaultTime,
	interval: config.DefaultInterval,
}

// Register us for command line parsing.
func init() {
	flag.StringVar(&opt.configFile, optConfigFile, "",
		"YAML file to read configuration from, command line options take precedence.")
	flag.Var(&opt.pids, optPid,
		"comma-separated list of PIDs to monitor, may be repeated. -1 monitors all tasks, which is the default.")
	flag.Var(&opt.time, optTime,
		"total measurement time in seconds, 0 for unbounded.")
	flag.Var(&opt.interval, optInterval,
		"refresh interval in seconds.")
	flag.BoolVar(&opt.pmem, optPMEM, false,
		"monitor persistent memory bandwidth too.")
	flag.StringVar(&opt.logDir, optLogDir, config.DefaultLogDir,
		"directory for temporary counter dumps.")
	flag.StringVar(&opt.perf, optPerf, config.DefaultPerf,
		"perf binary to collect counters with.")
	flag.StringVar(&opt.metricsAddress, optMetricsAddress, "",
		"address to serve Prometheus metrics on, disabled if empty.")
	flag.StringVar(&opt.output, optOutput, config.OutputTable,
		"report format (table, prometheus, csv).")
}

// apply overrides o with the options given on the command line.
func (opt *options) apply(o *config.Options, given map[string]bool) {
	if given[optPid] {
		o.Targets = opt.pids
	}
	if given[optTime] {
		o.Time = opt.time
	}
	if given[optInterval] {
		o.Interval = opt.interval
	}
	if given[optPMEM] {
		o.PMEM = opt.pmem
	}
	if given[optLogDir] {
		o.LogDir = opt.logDir
	}
	if given[optPerf] {
		o.Perf = opt.perf
	}
	if given[optMetricsAddress] {
		o.MetricsAddress = opt.metricsAddress
	}
	if given[optOutput] {
		o.Output = opt.output
	}
}

// loadOptions returns the configuration file, if any, overridden by the
// command line.
func loadOptions() (*config.Options, error) {
	o := config.Default()
	if opt.configFile != "" {
		var err error
		if o, err = config.Load(opt.configFile); err != nil {
			return nil, err
		}
	}

	given := map[string]bool{}
	flag.Visit(func(f *flag.Flag) {
		given[f.Name] = true
	})
	opt.apply(o, given)

	return o, configureLogger(o.Logger, given)
}

// configureLogger applies logger settings from a configuration file unless
// overridden on the command line.
func configureLogger(lo config.LoggerOptions, given map[string]bool) error {
	if given[optLogger] {
		lo.Backend = ""
	}
	if given[optLoggerLevel] {
		lo.Level = ""
	}
	if given[optLoggerDebug] {
		lo.Debug = ""
	}
	return logger.Configure(lo.Backend, lo.Level, lo.Debug)
}
