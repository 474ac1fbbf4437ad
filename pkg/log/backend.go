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
	"io"
	"os"
	"strings"
)

// BackendFn creates a Backend instance.
type BackendFn func() Backend

// Backend can format and emit log messages.
type Backend interface {
	// Name returns the name of this backend.
	Name() string
	// Log emits log messages with the given severity, source, and Printf-like arguments.
	Log(Level, string, string, ...interface{})
	// Flush flushes and stops initial buffering synchronously
	Flush()
	// Stop stops the backend instance.
	Stop()
	// SetSourceAlignment sets the maximum prefix length for optional alignment.
	SetSourceAlignment(int)
}

// RegisterBackend registers a logger backend.
func RegisterBackend(name string, fn BackendFn) {
	log.Lock()
	defer log.Unlock()
	log.backend[name] = fn
}

const (
	// FmtBackendName is the name of our simple fmt-based logging backend.
	FmtBackendName = "fmt"
	// fmtBackendQueueLen is the length of the internal fmt message queue.
	fmtBackendQueueLen = 1024
)

const (
	levelNop Level = iota + levelHighest
	levelStop
)

var fmtTags = map[Level]string{
	LevelDebug: "D: ",
	LevelInfo:  "I: ",
	LevelWarn:  "W: ",
	LevelError: "E: ",
}

// fmtBackend buffers messages until the first flush or error, then emits
// them to stderr. Stdout is reserved for reports.
type fmtBackend struct {
	q     chan *fmtReq
	align int
	out   io.Writer
}

type fmtReq struct {
	level  Level
	source string
	msg    string
	sync   chan struct{} // acked once the request is processed
	flush  bool          // flush and stop buffering
}

func createFmtBackend() Backend {
	f := &fmtBackend{
		q:   make(chan *fmtReq, fmtBackendQueueLen),
		out: os.Stderr,
	}
	go f.run()
	return f
}

func (*fmtBackend) Name() string {
	return FmtBackendName
}

func (f *fmtBackend) Log(level Level, source, format string, args ...interface{}) {
	f.q <- &fmtReq{
		level:  level,
		source: source,
		msg:    fmt.Sprintf(format, args...),
		flush:  level >= LevelError,
	}
}

func (f *fmtBackend) Flush() {
	f.request(levelNop)
}

func (f *fmtBackend) Stop() {
	f.request(levelStop)
}

func (f *fmtBackend) SetSourceAlignment(len int) {
	f.align = len
}

// request sends a control request and waits for it to be processed.
func (f *fmtBackend) request(level Level) {
	sync := make(chan struct{})
	f.q <- &fmtReq{
		level: level,
		flush: true,
		sync:  sync,
	}
	<-sync
}

func (f *fmtBackend) run() {
	buf := make([]*fmtReq, 0, fmtBackendQueueLen)

	for req := range f.q {
		switch {
		case buf == nil:
			f.emit(req)
		case req.flush || len(buf) == cap(buf):
			for _, r := range buf {
				f.emit(r)
			}
			f.emit(req)
			buf = nil
		default:
			buf = append(buf, req)
		}
		if req.sync != nil {
			close(req.sync)
		}
		if req.level == levelStop {
			return
		}
	}
}

func (f *fmtBackend) emit(req *fmtReq) {
	if req.level >= levelHighest {
		return
	}
	length := len(req.source)
	suflen := (f.align - length) / 2
	prelen := (f.align - (length + suflen))
	source := "[" + fmt.Sprintf("%*s", prelen, "") + req.source + fmt.Sprintf("%*s", suflen, "") + "]"

	for _, line := range strings.Split(req.msg, "\n") {
		fmt.Fprintln(f.out, fmtTags[req.level], source, line)
	}
}
