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

package catalog

import (
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/intel/membw/pkg/membw"
)

// Kind is the role a hardware event plays in bandwidth attribution.
type Kind int

const (
	// OffcoreRead counts per-core reads satisfied by DRAM.
	OffcoreRead Kind = iota
	// OffcorePMEMRead counts per-core reads satisfied by persistent memory.
	OffcorePMEMRead
	// OffcoreWrite counts per-core offcore writes.
	OffcoreWrite
	// AllLoads counts retired load instructions.
	AllLoads
	// AllStores counts retired store instructions.
	AllStores
	// UncoreRead counts memory controller read queue insertions.
	UncoreRead
	// UncoreWrite counts memory controller write queue insertions.
	UncoreWrite
	// UncorePMEMRead counts persistent memory read queue insertions.
	UncorePMEMRead
	// UncorePMEMWrite counts persistent memory write queue insertions.
	UncorePMEMWrite
	numKinds
)

// Symbolic event names, as they show up in counter dumps.
const (
	EventReadDRAM        = "OCR_READ_DRAM"
	EventReadPMEM        = "OCR_READ_PMEM"
	EventWrite           = "OCR_WRITE"
	EventAllLoads        = "MEM_INST_RETIRED.ALL_LOADS"
	EventAllStores       = "MEM_INST_RETIRED.ALL_STORES"
	EventUncoreRead      = "UNC_M_RPQ_INSERTS"
	EventUncoreWrite     = "UNC_M_WPQ_INSERTS"
	EventUncorePMEMRead  = "UNC_M_PMM_RPQ_INSERTS"
	EventUncorePMEMWrite = "UNC_M_PMM_WPQ_INSERTS"
)

const (
	// AggregateInstance selects the single aggregate memory controller PMU.
	AggregateInstance = -1
	// instance placeholder in uncore encodings
	placeholder = "INDEX"
	// instance tag in uncore event names
	instanceTag = "_IMC_"
)

// EventSpec describes a single hardware event for a platform.
type EventSpec struct {
	// Platform is the CPU model the encoding is valid for.
	Platform string
	// Kind is the role of the event.
	Kind Kind
	// Name is the symbolic name of the event.
	Name string
	// Encoding is the raw perf event encoding.
	Encoding string
}

// SpecSet is the complete set of events for a platform.
type SpecSet struct {
	platform string
	specs    [numKinds]EventSpec
}

// Per-platform event catalog, keyed by CPU model.
var platforms = map[string][]EventSpec{
	// Skylake-SP, Cascade Lake-SP
	"85": {
		{Kind: OffcoreRead, Name: EventReadDRAM,
			Encoding: "cpu/event=0xbb,umask=0x1,offcore_rsp=0x7bc0007f7,name=" + EventReadDRAM + "/"},
		{Kind: OffcorePMEMRead, Name: EventReadPMEM,
			Encoding: "cpu/event=0xb7,umask=0x1,offcore_rsp=0x7bc4007f7,name=" + EventReadPMEM + "/"},
		{Kind: OffcoreWrite, Name: EventWrite,
			Encoding: "cpu/event=0xb7,umask=0x1,offcore_rsp=0x7bc000002,name=" + EventWrite + "/"},
		{Kind: AllLoads, Name: EventAllLoads,
			Encoding: "cpu/event=0xd0,umask=0x81,name=" + EventAllLoads + "/"},
		{Kind: AllStores, Name: EventAllStores,
			Encoding: "cpu/event=0xd0,umask=0x82,name=" + EventAllStores + "/"},
		{Kind: UncoreRead, Name: EventUncoreRead,
			Encoding: "uncore_imc_INDEX/event=0x10,umask=0x0,name=" + EventUncoreRead + "_IMC_INDEX/"},
		{Kind: UncoreWrite, Name: EventUncoreWrite,
			Encoding: "uncore_imc_INDEX/event=0x20,umask=0x0,name=" + EventUncoreWrite + "_IMC_INDEX/"},
		{Kind: UncorePMEMRead, Name: EventUncorePMEMRead,
			Encoding: "uncore_imc_INDEX/event=0xe3,umask=0x0,name=" + EventUncorePMEMRead + "_IMC_INDEX/"},
		{Kind: UncorePMEMWrite, Name: EventUncorePMEMWrite,
			Encoding: "uncore_imc_INDEX/event=0xe7,umask=0x0,name=" + EventUncorePMEMWrite + "_IMC_INDEX/"},
	},
}

// SpecsFor returns the event set for the given CPU model.
func SpecsFor(platform string) (*SpecSet, error) {
	specs, ok := platforms[platform]
	if !ok {
		return nil, errors.Wrapf(membw.ErrUnsupportedHardware,
			"CPU model %q (supported: %s)", platform, strings.Join(Platforms(), ","))
	}
	return newSpecSet(platform, specs)
}

// Platforms returns the sorted list of supported CPU models.
func Platforms() []string {
	list := make([]string, 0, len(platforms))
	for p := range platforms {
		list = append(list, p)
	}
	sort.Strings(list)
	return list
}

// newSpecSet creates a SpecSet, checking that it is complete.
func newSpecSet(platform string, specs []EventSpec) (*SpecSet, error) {
	s := &SpecSet{platform: platform}
	for _, spec := range specs {
		if spec.Kind < 0 || spec.Kind >= numKinds {
			return nil, errors.Wrapf(membw.ErrUnsupportedHardware,
				"CPU model %q: invalid event kind %d", platform, spec.Kind)
		}
		spec.Platform = platform
		s.specs[spec.Kind] = spec
	}
	for kind, spec := range s.specs {
		if spec.Name == "" || spec.Encoding == "" {
			return nil, errors.Wrapf(membw.ErrUnsupportedHardware,
				"CPU model %q: incomplete catalog, no %s event", platform, Kind(kind))
		}
		if Kind(kind).IsUncore() && !strings.Contains(spec.Encoding, placeholder) {
			return nil, errors.Wrapf(membw.ErrUnsupportedHardware,
				"CPU model %q: uncore event %s without instance placeholder", platform, spec.Name)
		}
	}
	return s, nil
}

// Platform returns the CPU model of this set.
func (s *SpecSet) Platform() string {
	return s.platform
}

// Get returns the event of the given kind.
func (s *SpecSet) Get(kind Kind) EventSpec {
	return s.specs[kind]
}

// SystemEvents returns the encodings for the system-wide store stream.
func (s *SpecSet) SystemEvents() []string {
	return []string{s.specs[AllStores].Encoding}
}

// TaskEvents returns the encodings for a per-task stream.
func (s *SpecSet) TaskEvents(pmem bool) []string {
	events := []string{s.specs[OffcoreRead].Encoding}
	if pmem {
		events = append(events, s.specs[OffcorePMEMRead].Encoding)
	}
	return append(events, s.specs[AllStores].Encoding)
}

// UncoreEvents returns the encodings for one memory controller instance.
func (s *SpecSet) UncoreEvents(instance int, pmem bool) []string {
	events := []string{
		s.specs[UncoreRead].Expand(instance),
		s.specs[UncoreWrite].Expand(instance),
	}
	if pmem {
		events = append(events,
			s.specs[UncorePMEMRead].Expand(instance),
			s.specs[UncorePMEMWrite].Expand(instance),
		)
	}
	return events
}

// Expand substitutes the instance placeholder of an uncore encoding.
func (e EventSpec) Expand(instance int) string {
	if instance == AggregateInstance {
		enc := strings.ReplaceAll(e.Encoding, instanceTag+placeholder, "")
		return strings.ReplaceAll(enc, "_"+placeholder, "")
	}
	return strings.ReplaceAll(e.Encoding, placeholder, strconv.Itoa(instance))
}

// KindOf maps an event name found in a counter dump to its kind. Uncore names
// carry an instance suffix, so they are matched by substring with the more
// specific persistent memory queues checked first.
func KindOf(name string) (Kind, bool) {
	switch name {
	case EventReadDRAM:
		return OffcoreRead, true
	case EventReadPMEM:
		return OffcorePMEMRead, true
	case EventWrite:
		return OffcoreWrite, true
	case EventAllLoads:
		return AllLoads, true
	case EventAllStores:
		return AllStores, true
	}

	switch {
	case strings.Contains(name, "PMM_RPQ"):
		return UncorePMEMRead, true
	case strings.Contains(name, "PMM_WPQ"):
		return UncorePMEMWrite, true
	case strings.Contains(name, "RPQ"):
		return UncoreRead, true
	case strings.Contains(name, "WPQ"):
		return UncoreWrite, true
	}

	return 0, false
}

// InstanceOf returns the memory controller instance of an uncore event name,
// or AggregateInstance if the name carries no instance suffix.
func InstanceOf(name string) int {
	idx := strings.LastIndex(name, instanceTag)
	if idx < 0 {
		return AggregateInstance
	}
	instance, err := strconv.Atoi(name[idx+len(instanceTag):])
	if err != nil || instance < 0 {
		return AggregateInstance
	}
	return instance
}

// IsUncore returns true for memory controller events.
func (k Kind) IsUncore() bool {
	return k >= UncoreRead && k <= UncorePMEMWrite
}

// String returns a name for the kind.
func (k Kind) String() string {
	names := [numKinds]string{
		OffcoreRead:     "offcore-read",
		OffcorePMEMRead: "offcore-pmem-read",
		OffcoreWrite:    "offcore-write",
		AllLoads:        "all-loads",
		AllStores:       "all-stores",
		UncoreRead:      "uncore-read",
		UncoreWrite:     "uncore-write",
		UncorePMEMRead:  "uncore-pmem-read",
		UncorePMEMWrite: "uncore-pmem-write",
	}
	if k < 0 || k >= numKinds {
		return "unknown-kind-" + strconv.Itoa(int(k))
	}
	return names[k]
}
