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
	"fmt"
	"strings"
	"sync"
)

// logging is the runtime state shared by all Loggers.
type logging struct {
	sync.RWMutex
	level   Level                // lowest unsuppressed severity
	active  Backend              // active backend
	backend map[string]BackendFn // registered backends
	configs map[logger]config    // per-logger configuration
	sources map[logger]string    // logger to source name mapping
	loggers map[string]logger    // source name to logger mapping
	enable  srcmap               // sources with logging explicitly toggled
	debug   srcmap               // sources with debugging explicitly toggled
	forced  bool                 // forced full debugging
	aligned int                  // longest source name seen
}

// our runtime logging state
var log = newLogging()

// newLogging creates the runtime state with the fmt backend active.
func newLogging() *logging {
	return &logging{
		level:   DefaultLevel,
		active:  createFmtBackend(),
		backend: map[string]BackendFn{FmtBackendName: createFmtBackend},
		configs: make(map[logger]config),
		sources: make(map[logger]string),
		loggers: make(map[string]logger),
		enable:  make(srcmap),
		debug:   make(srcmap),
	}
}

// NewLogger creates a Logger for the given source, or returns the existing one.
func NewLogger(source string) Logger {
	return log.get(source)
}

// SetLevel sets the lowest severity level of messages to pass through.
func SetLevel(level Level) {
	log.Lock()
	defer log.Unlock()
	log.setLevel(level)
}

// SetBackend activates the named Backend.
func SetBackend(name string) error {
	log.Lock()
	defer log.Unlock()
	return log.setBackend(name)
}

// Flush flushes any buffered messages and stops initial buffering.
func Flush() {
	log.RLock()
	active := log.active
	log.RUnlock()
	active.Flush()
}

// get returns the logger for source, creating it if necessary.
func (log *logging) get(source string) logger {
	source = strings.Trim(source, "[] ")

	log.Lock()
	defer log.Unlock()

	if l, ok := log.loggers[source]; ok {
		return l
	}

	if len(log.loggers) >= maxLoggers {
		panic(fmt.Sprintf("log: too many loggers (%d) when creating %q", maxLoggers, source))
	}

	l := logger(len(log.loggers))
	log.loggers[source] = l
	log.sources[l] = source
	log.configs[l] = mkConfig(l, log.enable.enabled(source, true), log.debug.enabled(source, false))
	log.realign(source)

	return l
}

// setLevel sets the severity filtering level.
func (log *logging) setLevel(level Level) {
	log.level = level
}

// setBackend activates the named backend, stopping the previously active one.
func (log *logging) setBackend(name string) error {
	fn, ok := log.backend[name]
	if !ok {
		return loggerError("unknown logger backend %q", name)
	}
	if log.active != nil && log.active.Name() == name {
		return nil
	}

	old := log.active
	log.active = fn()
	log.active.SetSourceAlignment(log.aligned)
	if old != nil {
		old.Stop()
	}

	return nil
}

// update reconfigures all loggers with the given enable and debug maps.
func (log *logging) update(enable, debug srcmap) {
	if enable != nil {
		log.enable = enable
	}
	if debug != nil {
		log.debug = debug
	}

	for source, l := range log.loggers {
		cfg := log.configs[l]
		cfg.setLogging(log.enable.enabled(source, true))
		cfg.setDebugging(log.debug.enabled(source, false))
		log.configs[l] = cfg
	}
}

// realign updates the source alignment of the active backend if necessary.
func (log *logging) realign(source string) {
	if len(source) <= log.aligned {
		return
	}
	log.aligned = len(source)
	if log.active != nil {
		log.active.SetSourceAlignment(log.aligned)
	}
}

// forceDebug turns forced full debugging on or off.
func (log *logging) forceDebug(state bool) bool {
	log.Lock()
	defer log.Unlock()
	old := log.forced
	log.forced = state
	return old
}

// debugForced returns the forced full debugging state.
func (log *logging) debugForced() bool {
	log.RLock()
	defer log.RUnlock()
	return log.forced
}

// loggerError returns a formatted package-specific error.
func loggerError(format string, args ...interface{}) error {
	return fmt.Errorf("logger: "+format, args...)
}
