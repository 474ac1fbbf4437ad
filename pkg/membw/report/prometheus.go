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
	"io"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/intel/membw/pkg/membw/attribution"
	"github.com/intel/membw/pkg/metrics/bandwidth"
)

// PrometheusWriter writes every round in the Prometheus text exposition format.
type PrometheusWriter struct {
	sync.Mutex
	out       io.Writer
	collector *bandwidth.Collector
	registry  *prometheus.Registry
}

var _ Writer = &PrometheusWriter{}

// NewPrometheusWriter creates a Prometheus text writer for the given output.
func NewPrometheusWriter(out io.Writer) (*PrometheusWriter, error) {
	p := &PrometheusWriter{
		out:       out,
		collector: bandwidth.New(),
		registry:  prometheus.NewPedanticRegistry(),
	}
	if err := p.registry.Register(p.collector); err != nil {
		return nil, reportError("failed to register bandwidth collector: %v", err)
	}
	return p, nil
}

// Start is a no-op, the exposition format has no preamble.
func (p *PrometheusWriter) Start(Run) error {
	return nil
}

// Report writes the metric families of the round.
func (p *PrometheusWriter) Report(r *attribution.Round) error {
	p.Lock()
	defer p.Unlock()

	if err := p.collector.Report(r); err != nil {
		return err
	}
	mfs, err := p.registry.Gather()
	if err != nil {
		return reportError("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(p.out, mf); err != nil {
			return reportError("failed to write metrics: %v", err)
		}
	}
	return nil
}

// Finish is a no-op.
func (p *PrometheusWriter) Finish() error {
	return nil
}
