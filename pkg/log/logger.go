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
	"math"
)

// Level describes the severity of log messages.
type Level int

const (
	// LevelDebug is the severity for debug messages.
	LevelDebug Level = iota
	// LevelInfo is the severity for informational messages.
	LevelInfo
	// LevelWarn is the severity for warnings.
	LevelWarn
	// LevelError is the severity for errors.
	LevelError
	// levelHighest is the highest externally visible level
	levelHighest
)

// Logger emits messages tagged with its source.
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	// Source returns the source name of this Logger.
	Source() string
}

// logger is an index into the shared logging state.
type logger uint

// Source returns the source for the given logger.
func (l logger) Source() string {
	log.RLock()
	defer log.RUnlock()
	return log.sources[l]
}

func (l logger) Debug(format string, args ...interface{}) {
	l.emit(LevelDebug, format, args...)
}

func (l logger) Info(format string, args ...interface{}) {
	l.emit(LevelInfo, format, args...)
}

func (l logger) Warn(format string, args ...interface{}) {
	l.emit(LevelWarn, format, args...)
}

func (l logger) Error(format string, args ...interface{}) {
	l.emit(LevelError, format, args...)
}

func (l logger) emit(level Level, format string, args ...interface{}) {
	if cfg, active, ok := l.config(level); ok {
		active.Log(level, cfg.source(), format, args...)
	}
}

// config returns the logger's configuration and if the level is logged.
func (l logger) config(level Level) (config, Backend, bool) {
	log.RLock()
	cfg := log.configs[l]
	active := log.active
	forced := log.forced
	threshold := log.level
	log.RUnlock()

	switch {
	case level == LevelDebug:
		return cfg, active, cfg.isDebugging() || forced
	case level < threshold:
		return cfg, active, false
	case level == LevelInfo:
		return cfg, active, cfg.isLogging()
	default:
		return cfg, active, true
	}
}

const (
	maxLoggers = math.MaxUint16
	loggingBit = (1 << iota)
	debuggingBit
)

// config is the runtime configuration of a single logger.
type config struct {
	id     uint16
	enable uint16
}

func mkConfig(logger logger, logging, debugging bool) config {
	cfg := config{id: uint16(logger)}
	cfg.setLogging(logging)
	cfg.setDebugging(debugging)
	return cfg
}

func (cfg *config) setLogging(enable bool) {
	cfg.set(loggingBit, enable)
}

func (cfg *config) isLogging() bool {
	return (cfg.enable & loggingBit) != 0
}

func (cfg *config) setDebugging(enable bool) {
	cfg.set(debuggingBit, enable)
}

func (cfg *config) isDebugging() bool {
	return (cfg.enable & debuggingBit) != 0
}

func (cfg *config) set(bit uint16, enable bool) {
	if enable {
		cfg.enable |= bit
	} else {
		cfg.enable &^= bit
	}
}

func (cfg config) source() string {
	return logger(cfg.id).Source()
}
