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

package parser

import (
	"math"
	"strconv"
	"strings"

	"github.com/intel/membw/pkg/membw/catalog"
	"github.com/intel/membw/pkg/membw/collector"
)

// LineKind classifies a single dump line.
type LineKind int

const (
	// Unrecognized lines are skipped silently.
	Unrecognized LineKind = iota
	// Malformed lines look like counter lines but can't be parsed.
	Malformed
	// SystemLine is a system-wide counter.
	SystemLine
	// TaskLine is a per-task counter.
	TaskLine
	// UncoreLine is a memory controller counter.
	UncoreLine
	// DurationLine is the elapsed time of the collection.
	DurationLine
	// StartTimeLine is the wall-clock start of the collection.
	StartTimeLine
)

// SubjectKind is the kind of entity a counter was measured for.
type SubjectKind int

const (
	// SystemSubject is the whole system.
	SystemSubject SubjectKind = iota
	// TaskSubject is a single task.
	TaskSubject
	// UncoreSubject is a memory controller instance.
	UncoreSubject
)

// Subject is the entity a counter was measured for.
type Subject struct {
	Kind SubjectKind
	// PID and Name of a task subject. Name is only known in all-tasks dumps.
	PID  int
	Name string
	// Instance of a memory controller subject.
	Instance int
}

// CounterSample is one counter value.
type CounterSample struct {
	Subject Subject
	Event   string
	Kind    catalog.Kind
	Value   uint64
}

// Line is a classified dump line.
type Line struct {
	Kind LineKind
	// Sample of a counter line.
	Sample CounterSample
	// Elapsed seconds of a duration line.
	Elapsed float64
	// StartTime label of a start time line.
	StartTime string
	// Reason a line is malformed.
	Reason string
}

const (
	// CacheLineSize is the number of bytes transferred per counted event.
	CacheLineSize = 64
	// unit perf scales memory controller counts to
	mibUnit = "MiB"
)

// Bytes converts a cache line count to bytes.
func Bytes(count uint64) uint64 {
	return count * CacheLineSize
}

// ParseLine classifies a line of a dump of the given stream and target.
func ParseLine(text string, stream collector.StreamKind, target int) Line {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return Line{Kind: Unrecognized}
	}

	if fields[0] == "#" {
		// # started on Thu Oct 16 10:11:12 2026
		if len(fields) == 8 && fields[1] == "started" {
			return Line{Kind: StartTimeLine, StartTime: fields[6]}
		}
		return Line{Kind: Unrecognized}
	}

	fields = stripAnnotations(fields)

	if len(fields) > 1 && fields[1] == "seconds" {
		if len(fields) != 4 {
			// seconds user, seconds sys
			return Line{Kind: Unrecognized}
		}
		secs, err := strconv.ParseFloat(fields[0], 64)
		if err != nil || secs < 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
			return malformed("invalid elapsed time %q", fields[0])
		}
		return Line{Kind: DurationLine, Elapsed: secs}
	}

	if len(fields) < 2 {
		return Line{Kind: Unrecognized}
	}
	for _, f := range fields {
		if strings.HasPrefix(f, "<not") {
			// <not counted>, <not supported>
			return Line{Kind: Unrecognized}
		}
	}

	event := fields[len(fields)-1]
	kind, ok := catalog.KindOf(event)
	if !ok {
		return Line{Kind: Unrecognized}
	}

	switch stream {
	case collector.SystemStream:
		if kind != catalog.AllStores {
			return Line{Kind: Unrecognized}
		}
		if len(fields) != 2 {
			return malformed("expected 2 fields, got %d", len(fields))
		}
		value, err := parseCount(fields[0])
		if err != nil {
			return malformed("%v", err)
		}
		return counterLine(SystemLine, Subject{Kind: SystemSubject}, event, kind, value)

	case collector.TaskStream:
		if kind.IsUncore() {
			return Line{Kind: Unrecognized}
		}
		if target != collector.AllTasks {
			if len(fields) != 2 {
				return malformed("expected 2 fields, got %d", len(fields))
			}
			value, err := parseCount(fields[0])
			if err != nil {
				return malformed("%v", err)
			}
			return counterLine(TaskLine, Subject{Kind: TaskSubject, PID: target}, event, kind, value)
		}
		if len(fields) != 3 {
			return malformed("expected 3 fields, got %d", len(fields))
		}
		subject, err := parseTaskSubject(fields[0])
		if err != nil {
			return malformed("%v", err)
		}
		value, err := parseCount(fields[1])
		if err != nil {
			return malformed("%v", err)
		}
		return counterLine(TaskLine, subject, event, kind, value)

	case collector.UncoreStream:
		if !kind.IsUncore() {
			return Line{Kind: Unrecognized}
		}
		var (
			value uint64
			err   error
		)
		switch {
		case len(fields) == 2:
			value, err = parseCount(fields[0])
		case len(fields) == 3 && fields[1] == mibUnit:
			value, err = parseMiB(fields[0])
		default:
			return malformed("unexpected memory controller line layout")
		}
		if err != nil {
			return malformed("%v", err)
		}
		subject := Subject{Kind: UncoreSubject, Instance: catalog.InstanceOf(event)}
		return counterLine(UncoreLine, subject, event, kind, value)
	}

	return Line{Kind: Unrecognized}
}

func counterLine(kind LineKind, subject Subject, event string, ek catalog.Kind, value uint64) Line {
	return Line{
		Kind: kind,
		Sample: CounterSample{
			Subject: subject,
			Event:   event,
			Kind:    ek,
			Value:   value,
		},
	}
}

func malformed(format string, args ...interface{}) Line {
	return Line{Kind: Malformed, Reason: parserError(format, args...).Error()}
}

// stripAnnotations drops trailing comments and multiplexing percentages.
func stripAnnotations(fields []string) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if strings.HasPrefix(f, "#") {
			break
		}
		if strings.HasPrefix(f, "(") && strings.HasSuffix(f, "%)") {
			continue
		}
		out = append(out, f)
	}
	return out
}

// parseCount parses a counter value with optional grouping separators.
func parseCount(s string) (uint64, error) {
	v, err := strconv.ParseUint(strings.ReplaceAll(s, ",", ""), 10, 64)
	if err != nil {
		return 0, parserError("invalid counter value %q", s)
	}
	return v, nil
}

// parseMiB converts a value perf scaled to MiB back to a cache line count.
func parseMiB(s string) (uint64, error) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, parserError("invalid counter value %q", s)
	}
	return uint64(math.Round(v * (1 << 20) / CacheLineSize)), nil
}

// parseTaskSubject splits a name-pid subject on the last '-'.
func parseTaskSubject(s string) (Subject, error) {
	idx := strings.LastIndexByte(s, '-')
	if idx < 0 {
		return Subject{}, parserError("task subject %q without PID", s)
	}
	pid, err := strconv.Atoi(s[idx+1:])
	if err != nil || pid < 0 {
		return Subject{}, parserError("invalid PID in task subject %q", s)
	}
	return Subject{Kind: TaskSubject, PID: pid, Name: s[:idx]}, nil
}

// String returns a name for the line kind.
func (k LineKind) String() string {
	switch k {
	case Unrecognized:
		return "unrecognized"
	case Malformed:
		return "malformed"
	case SystemLine:
		return "system"
	case TaskLine:
		return "task"
	case UncoreLine:
		return "uncore"
	case DurationLine:
		return "duration"
	case StartTimeLine:
		return "start-time"
	}
	return "line-kind-" + strconv.Itoa(int(k))
}
