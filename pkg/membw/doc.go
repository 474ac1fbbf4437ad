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

// Package membw estimates per-task memory bandwidth from hardware counters.
//
// The memory controllers only count aggregate read and write queue insertions.
// Per-task traffic is derived from proxy counters: offcore read responses
// satisfied by DRAM (or persistent memory) for reads, and retired store
// instructions for writes. All per-task figures are therefore estimates.
//
// The subpackages form a pipeline, driven round by round by the scheduler:
//
//   catalog     -> hardware event encodings per CPU model
//   collector   -> perf stat subprocesses producing raw counter dumps
//   parser      -> typed sample sets from raw dumps
//   attribution -> per-task bandwidth and share of the total
//   report      -> table and Prometheus text output
package membw
