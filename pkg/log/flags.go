// Copyright 2019-2020 Intel Corporation. All Rights Reserved.
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

package log

import (
	"flag"
	"sort"
	"strings"
)

const (
	// DefaultLevel is the default logging severity level.
	DefaultLevel = LevelInfo
	// command-line argument prefix.
	optPrefix = "logger"
	// Flag for enabling/disabling normal non-debug logging for sources.
	optEnable = optPrefix + "-sources"
	// Flag for enabling/disabling debug logging for sources.
	optDebug = optPrefix + "-debug"
	// Flag for selecting logging level.
	optLevel = optPrefix + "-level"
	// Flag for selecting logging backend.
	optLogger = optPrefix
)

// srcmap tracks logging or debugging settings for sources.
type srcmap map[string]bool

// backendName is a name for a Backend.
type backendName string

// levelFlag is a Level settable from the command line.
type levelFlag Level

// command line values
var (
	flagLevel   = levelFlag(DefaultLevel)
	flagBackend = backendName(FmtBackendName)
	flagEnable  = make(srcmap)
	flagDebug   = make(srcmap)
)

// ParseLevel parses the given severity level name.
func ParseLevel(value string) (Level, error) {
	levels := map[string]Level{
		"debug":   LevelDebug,
		"info":    LevelInfo,
		"warn":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
	}
	level, ok := levels[strings.ToLower(value)]
	if !ok {
		return LevelInfo, loggerError("invalid logging level %s", value)
	}
	return level, nil
}

// String returns the name of the level.
func (l Level) String() string {
	names := map[Level]string{
		LevelDebug: "debug",
		LevelInfo:  "info",
		LevelWarn:  "warning",
		LevelError: "error",
	}
	if level, ok := names[l]; ok {
		return level
	}

	return names[LevelInfo]
}

// Set sets the logging level from the given name.
func (l *levelFlag) Set(value string) error {
	level, err := ParseLevel(value)
	if err != nil {
		return err
	}
	*l = levelFlag(level)
	SetLevel(level)
	return nil
}

// String returns the name of the logging level.
func (l *levelFlag) String() string {
	return Level(*l).String()
}

// Set sets the name of the active Backend.
func (n *backendName) Set(value string) error {
	if err := SetBackend(value); err != nil {
		return err
	}
	*n = backendName(value)
	return nil
}

// String returns the name of the active backend.
func (n *backendName) String() string {
	return string(*n)
}

// Set sets entries of srcmap by parsing the given value.
func (m *srcmap) Set(value string) error {
	sm, err := parseSrcmap(value)
	if err != nil {
		return err
	}

	log.Lock()
	defer log.Unlock()

	for src, state := range sm {
		(*m)[src] = state
	}

	switch m {
	case &flagEnable:
		log.update(copySrcmap(*m), nil)
	case &flagDebug:
		log.update(nil, copySrcmap(*m))
	}

	return nil
}

// String returns a string representation of the srcmap.
func (m *srcmap) String() string {
	if m == nil {
		return ""
	}

	on, off := []string{}, []string{}
	for src, state := range *m {
		if state {
			on = append(on, src)
		} else {
			off = append(off, src)
		}
	}
	sort.Strings(on)
	sort.Strings(off)

	switch {
	case len(on) == 0 && len(off) == 0:
		return ""
	case len(off) == 0:
		return "on:" + strings.Join(on, ",")
	case len(on) == 0:
		return "off:" + strings.Join(off, ",")
	}
	return "on:" + strings.Join(on, ",") + ",off:" + strings.Join(off, ",")
}

// enabled returns the state for source, falling back to '*' then to def.
func (m srcmap) enabled(source string, def bool) bool {
	if state, ok := m[source]; ok {
		return state
	}
	if state, ok := m["*"]; ok {
		return state
	}
	return def
}

// parseSrcmap parses a [state:]source[,[state:]source...] specification.
func parseSrcmap(value string) (srcmap, error) {
	sm := make(srcmap)
	prev := ""
	for _, entry := range strings.Split(value, ",") {
		if entry = strings.TrimSpace(entry); entry == "" {
			continue
		}

		state, src := "", ""
		statesrc := strings.Split(entry, ":")
		switch len(statesrc) {
		case 2:
			state, src = statesrc[0], statesrc[1]
		case 1:
			src = statesrc[0]
		default:
			return nil, loggerError("invalid state spec '%s' in source map", entry)
		}

		if state != "" {
			prev = state
		} else {
			state = prev
			if state == "" {
				state = "on"
			}
		}
		if src == "all" {
			src = "*"
		}

		enabled, err := parseEnabled(state)
		if err != nil {
			return nil, err
		}
		sm[src] = enabled
	}
	return sm, nil
}

// parseEnabled parses an on/off style boolean.
func parseEnabled(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "on", "true", "enable", "enabled", "1":
		return true, nil
	case "off", "false", "disable", "disabled", "0":
		return false, nil
	}
	return false, loggerError("invalid state '%s' in source map", value)
}

func copySrcmap(m srcmap) srcmap {
	c := make(srcmap, len(m))
	for src, state := range m {
		c[src] = state
	}
	return c
}

// Configure applies logger settings given outside of the command line.
// Empty values leave the corresponding setting untouched.
func Configure(backend, level, debug string) error {
	if backend != "" {
		if err := flagBackend.Set(backend); err != nil {
			return err
		}
	}
	if level != "" {
		if err := flagLevel.Set(level); err != nil {
			return err
		}
	}
	if debug != "" {
		if err := flagDebug.Set(debug); err != nil {
			return err
		}
	}
	return nil
}

// Register us for command line parsing.
func init() {
	flag.Var(&flagBackend, optLogger,
		"logger backend to use (fmt, klog).")
	flag.Var(&flagLevel, optLevel,
		"lowest severity level to pass through (info, warning, error)")
	flag.Var(&flagEnable, optEnable,
		"comma-separated list of source names to enable/disable.\n"+
			"Specify '*' or 'all' to enable all sources, which is also the default.\n"+
			"Prefix a source or list with 'off:' to disable.")
	flag.Var(&flagDebug, optDebug,
		"comma-separated list of source names to enable debug messages for.\n"+
			"Specify '*' or 'all' to enable all sources.\n"+
			"Prefix a source or list with 'off:' to disable, which is also the default state.")
}
