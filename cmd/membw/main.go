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
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/oklog/run"
	"github.com/pkg/errors"

	"github.com/intel/membw/pkg/config"
	"github.com/intel/membw/pkg/instrumentation"
	logger "github.com/intel/membw/pkg/log"
	"github.com/intel/membw/pkg/membw"
	"github.com/intel/membw/pkg/membw/catalog"
	"github.com/intel/membw/pkg/membw/collector"
	"github.com/intel/membw/pkg/membw/report"
	"github.com/intel/membw/pkg/membw/scheduler"
	"github.com/intel/membw/pkg/metrics"
	"github.com/intel/membw/pkg/metrics/bandwidth"
	_ "github.com/intel/membw/pkg/metrics/register"
	"github.com/intel/membw/pkg/pidfile"
	"github.com/intel/membw/pkg/procstats"
	"github.com/intel/membw/pkg/sysfs"
	"github.com/intel/membw/pkg/version"
)

const (
	// exit status after an interrupt, as for a SIGINT-terminated shell command
	exitInterrupted = 130
	interruptedMsg  = "Monitoring interrupted by SIGINT or user CTRL-C. Logs cleared."
)

var log = logger.Default()

func main() {
	flag.Parse()

	if len(flag.Args()) != 0 {
		log.Error("unknown command-line arguments: %s", strings.Join(flag.Args(), ","))
		flag.Usage()
		os.Exit(1)
	}

	opts, err := loadOptions()
	if err != nil {
		log.Error("%v", err)
		logger.Flush()
		os.Exit(1)
	}

	logger.SetupDebugToggleSignal(syscall.SIGUSR1)

	os.Exit(monitor(opts))
}

// monitor runs a complete monitoring session and returns the exit status.
func monitor(opts *config.Options) int {
	defer logger.Flush()

	log.Info("membw version %s", version.String())

	host, err := procstats.NewHost(procstats.DefaultProcRoot)
	if err != nil {
		log.Error("%v", err)
		return 1
	}
	rc, err := probe(host, opts)
	if err != nil {
		log.Error("%v", err)
		return 1
	}

	pf := pidfile.New(filepath.Join(opts.LogDir, pidfile.DefaultName))
	if err := pf.Acquire(); err != nil {
		log.Error("%v", err)
		return 1
	}
	defer func() {
		if err := pf.Release(); err != nil {
			log.Warn("%v", err)
		}
	}()

	c, err := collector.New(*rc)
	if err != nil {
		log.Error("%v", err)
		return 1
	}

	w, err := newWriter(opts.Output, os.Stdout)
	if err != nil {
		log.Error("%v", err)
		return 1
	}

	sched, err := scheduler.New(
		scheduler.Options{
			Targets:  opts.Targets,
			Total:    opts.Time.Duration(),
			Interval: opts.Interval.Duration(),
			PMEM:     opts.PMEM,
		},
		c, rc.Store, host, w, bandwidth.Default())
	if err != nil {
		log.Error("%v", err)
		return 1
	}

	gatherer, err := metrics.NewMetricGatherer()
	if err != nil {
		log.Error("%v", err)
		return 1
	}
	service := instrumentation.NewService(opts.MetricsAddress, gatherer)

	if err := w.Start(report.Run{
		Tasks:    len(opts.Targets),
		AllTasks: opts.AllTasks(),
		Total:    opts.Time.Duration(),
		Interval: opts.Interval.Duration(),
		PMEM:     opts.PMEM,
	}); err != nil {
		log.Error("%v", err)
		return 1
	}

	err = runGroup(sched, service)
	switch {
	case errors.Is(err, membw.ErrInterrupted):
		fmt.Fprintf(os.Stderr, "\n%s\n", interruptedMsg)
		return exitInterrupted
	case err != nil:
		log.Error("monitoring failed: %v", err)
		return 1
	}

	if err := w.Finish(); err != nil {
		log.Error("%v", err)
		return 1
	}
	return 0
}

// probe checks the host and creates the run context for collection.
func probe(host *procstats.Host, opts *config.Options) (*collector.RunContext, error) {
	model, err := host.CPUModel()
	if err != nil {
		return nil, err
	}
	specs, err := catalog.SpecsFor(model)
	if err != nil {
		return nil, err
	}
	if err := collector.CheckTool(opts.Perf); err != nil {
		return nil, err
	}
	imc, err := sysfs.DiscoverIMC(sysfs.DevicesDir, sysfs.NewPathCache())
	if err != nil {
		return nil, err
	}
	log.Info("CPU model %s, memory controllers %s", model, imc)

	pidMax, err := host.PidMax()
	if err != nil {
		return nil, err
	}
	if err := opts.Validate(pidMax); err != nil {
		return nil, err
	}

	return &collector.RunContext{
		Perf:  opts.Perf,
		Specs: specs,
		PMEM:  opts.PMEM,
		IMC:   imc,
		Store: collector.NewLogStore(opts.LogDir),
	}, nil
}

// newWriter creates the report writer for the given output format.
func newWriter(output string, out io.Writer) (report.Writer, error) {
	switch output {
	case config.OutputTable:
		return report.NewTableWriter(out), nil
	case config.OutputPrometheus:
		return report.NewPrometheusWriter(out)
	case config.OutputCSV:
		return report.NewCSVWriter(out), nil
	}
	return nil, errors.Wrapf(membw.ErrInvalidArgument, "unknown output format %q", output)
}

// runGroup runs the sampling loop alongside the metrics endpoint until the
// loop finishes, fails, or we get interrupted.
func runGroup(sched *scheduler.Scheduler, service *instrumentation.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var g run.Group

	g.Add(
		func() error {
			return sched.Run(ctx)
		},
		func(error) {
			cancel()
		},
	)
	g.Add(
		func() error {
			return service.Run(ctx)
		},
		func(error) {
			cancel()
		},
	)
	g.Add(waitForInterrupt(ctx, os.Interrupt, syscall.SIGTERM))

	return g.Run()
}

// waitForInterrupt returns a run.Group actor which finishes with
// membw.ErrInterrupted once one of the given signals is received.
func waitForInterrupt(ctx context.Context, signals ...os.Signal) (func() error, func(error)) {
	ctx, cancel := context.WithCancel(ctx)
	return func() error {
			c := make(chan os.Signal, 1)
			signal.Notify(c, signals...)
			defer signal.Stop(c)
			select {
			case sig := <-c:
				log.Info("received %s, stopping...", sig)
				return errors.Wrapf(membw.ErrInterrupted, "%s", sig)
			case <-ctx.Done():
				return nil
			}
		}, func(error) {
			cancel()
		}
}
