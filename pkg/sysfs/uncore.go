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

package sysfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/pkg/errors"

	logger "github.com/intel/membw/pkg/log"
	"github.com/intel/membw/pkg/membw"
)

const (
	// DevicesDir is the default sysfs directory of PMU devices.
	DevicesDir = "/sys/devices"
	// MaxIMCInstances is the number of per-channel memory controller PMUs probed.
	MaxIMCInstances = 12

	imcAggregate = "uncore_imc"
	imcPrefix    = "uncore_imc_"
)

// Our logger instance.
var log = logger.NewLogger("sysfs")

// PathCache caches existence checks of filesystem paths. Sysfs PMU entries do
// not come and go during a run, so every path is checked at most once.
type PathCache struct {
	sync.Mutex
	exists map[string]bool
	stat   func(string) (os.FileInfo, error)
}

// NewPathCache creates an empty PathCache.
func NewPathCache() *PathCache {
	return &PathCache{
		exists: make(map[string]bool),
		stat:   os.Stat,
	}
}

// Exists returns true if path exists.
func (c *PathCache) Exists(path string) bool {
	c.Lock()
	defer c.Unlock()

	if found, ok := c.exists[path]; ok {
		return found
	}
	_, err := c.stat(path)
	found := err == nil
	c.exists[path] = found

	return found
}

// IMCLayout describes the memory controller PMUs exposed by the kernel.
type IMCLayout struct {
	// Aggregate is true if a single uncore_imc PMU covers all channels.
	Aggregate bool
	// Instances lists the uncore_imc_<N> PMUs found, in increasing order.
	Instances []int
}

// Count returns the number of memory controller PMUs in the layout.
func (l IMCLayout) Count() int {
	if l.Aggregate {
		return 1
	}
	return len(l.Instances)
}

// String returns a description of the layout.
func (l IMCLayout) String() string {
	if l.Aggregate {
		return imcAggregate
	}
	return fmt.Sprintf("%s%v", imcPrefix, l.Instances)
}

// DiscoverIMC probes dir for memory controller PMUs. A single aggregate PMU
// takes precedence over per-instance ones. Per-instance PMUs are probed up to
// MaxIMCInstances, with gaps allowed.
func DiscoverIMC(dir string, cache *PathCache) (IMCLayout, error) {
	if cache.Exists(filepath.Join(dir, imcAggregate)) {
		return IMCLayout{Aggregate: true}, nil
	}

	layout := IMCLayout{}
	for i := 0; i < MaxIMCInstances; i++ {
		if cache.Exists(filepath.Join(dir, imcPrefix+strconv.Itoa(i))) {
			layout.Instances = append(layout.Instances, i)
		}
	}

	if len(layout.Instances) == 0 {
		return IMCLayout{}, errors.Wrapf(membw.ErrUnsupportedHardware,
			"can't find uncore imc PMU in %s, missing kernel support?", dir)
	}

	if cache.Exists(filepath.Join(dir, imcPrefix+strconv.Itoa(MaxIMCInstances))) {
		log.Warn("more than %d memory controller PMUs found, bandwidth will be under-counted",
			MaxIMCInstances)
	}

	return layout, nil
}
