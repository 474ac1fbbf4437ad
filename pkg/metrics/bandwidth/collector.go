// Copyright 2020 Intel Corporation. All Rights Reserved.
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

package bandwidth

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	logger "github.com/intel/membw/pkg/log"
	"github.com/intel/membw/pkg/membw/attribution"
	"github.com/intel/membw/pkg/metrics"
	"github.com/intel/membw/pkg/version"
)

// Prometheus Metric descriptor indices and descriptor table
const (
	imcBandwidthDesc = iota
	taskBandwidthDesc
	taskPercentDesc
	suppressedDesc
	roundsDesc
	buildInfoDesc
	numDescriptors
)

var descriptors = [numDescriptors]*prometheus.Desc{
	imcBandwidthDesc: prometheus.NewDesc(
		"membw_imc_bandwidth_mib_per_second",
		"Total memory controller bandwidth of the last round.",
		[]string{
			// read or write
			"direction",
			// dram or pmem
			"memory",
		}, nil,
	),
	taskBandwidthDesc: prometheus.NewDesc(
		"membw_task_bandwidth_mib_per_second",
		"Memory bandwidth attributed to a task in the last round. Write bandwidth is an estimate.",
		[]string{
			"pid",
			"name",
			"direction",
			"memory",
		}, nil,
	),
	taskPercentDesc: prometheus.NewDesc(
		"membw_task_bandwidth_percent",
		"Share of the memory controller bandwidth attributed to a task in the last round.",
		[]string{
			"pid",
			"name",
			"direction",
			"memory",
		}, nil,
	),
	suppressedDesc: prometheus.NewDesc(
		"membw_suppressed_tasks",
		"Number of tasks below the noise threshold in the last round.",
		nil, nil,
	),
	roundsDesc: prometheus.NewDesc(
		"membw_rounds_total",
		"Number of sampling rounds attributed.",
		nil, nil,
	),
	buildInfoDesc: prometheus.NewDesc(
		"membw_build_info",
		"Version information of the running binary.",
		nil, version.Labels(),
	),
}

const (
	read  = "read"
	write = "write"
	dram  = "dram"
	pmem  = "pmem"
)

var (
	// our logger instance
	log = logger.NewLogger("bandwidth")
	// collector fed by the sampling loop and exposed over HTTP
	defaultCollector = New()
)

// Collector exposes the last attributed round as Prometheus metrics.
type Collector struct {
	sync.RWMutex
	last   *attribution.Round
	rounds uint64
}

// New creates a new bandwidth collector.
func New() *Collector {
	return &Collector{}
}

// Default returns the collector registered for the metrics endpoint.
func Default() *Collector {
	return defaultCollector
}

// NewCollector returns the default collector for registration.
func NewCollector() (prometheus.Collector, error) {
	return defaultCollector, nil
}

// Report stores the given round for the next collection.
func (c *Collector) Report(r *attribution.Round) error {
	c.Lock()
	defer c.Unlock()
	c.last = r
	c.rounds++
	return nil
}

// Describe implements prometheus.Collector interface
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range descriptors {
		ch <- d
	}
}

// Collect implements prometheus.Collector interface
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.RLock()
	defer c.RUnlock()

	ch <- prometheus.MustNewConstMetric(descriptors[buildInfoDesc], prometheus.GaugeValue, 1)
	ch <- prometheus.MustNewConstMetric(descriptors[roundsDesc], prometheus.CounterValue, float64(c.rounds))

	r := c.last
	if r == nil {
		return
	}

	ch <- prometheus.MustNewConstMetric(descriptors[suppressedDesc], prometheus.GaugeValue, float64(r.Suppressed))
	updateIMCMetrics(ch, r)
	for _, tb := range r.Tasks {
		updateTaskMetrics(ch, r.PMEM, tb)
	}
}

func updateIMCMetrics(ch chan<- prometheus.Metric, r *attribution.Round) {
	imc := func(value float64, direction, memory string) {
		ch <- prometheus.MustNewConstMetric(descriptors[imcBandwidthDesc],
			prometheus.GaugeValue, value, direction, memory)
	}

	imc(r.Totals.ReadBW, read, dram)
	imc(r.Totals.WriteBW, write, dram)
	if r.PMEM {
		imc(r.Totals.PMEMReadBW, read, pmem)
		imc(r.Totals.PMEMWriteBW, write, pmem)
	}
}

func updateTaskMetrics(ch chan<- prometheus.Metric, withPMEM bool, tb attribution.TaskBandwidth) {
	pid := strconv.Itoa(tb.PID)
	task := func(bw, percent float64, direction, memory string) {
		ch <- prometheus.MustNewConstMetric(descriptors[taskBandwidthDesc],
			prometheus.GaugeValue, bw, pid, tb.Name, direction, memory)
		ch <- prometheus.MustNewConstMetric(descriptors[taskPercentDesc],
			prometheus.GaugeValue, percent, pid, tb.Name, direction, memory)
	}

	task(tb.ReadBW, tb.ReadPercent, read, dram)
	task(tb.WriteBW, tb.WritePercent, write, dram)
	if withPMEM {
		task(tb.PMEMReadBW, tb.PMEMReadPercent, read, pmem)
	}
}

func init() {
	err := metrics.RegisterCollector("bandwidth", NewCollector)
	if err != nil {
		log.Error("Failed to register bandwidth collector: %v", err)
	}
}
