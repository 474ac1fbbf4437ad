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

package log

import (
	"flag"
	"fmt"
	"io/ioutil"

	"k8s.io/klog/v2"
)

const (
	// KlogBackendName is the name of the klog-based logging backend.
	KlogBackendName = "klog"
	// klogDepth is the call depth of our callers relative to klog.
	klogDepth = 3
)

// klogBackend emits messages using k8s.io/klog/v2.
type klogBackend struct {
	align int
}

// createKlogBackend sets up klog and creates a klog Backend.
func createKlogBackend() Backend {
	flags := flag.NewFlagSet("klog", flag.ContinueOnError)
	flags.SetOutput(ioutil.Discard)
	klog.InitFlags(flags)
	_ = flags.Set("logtostderr", "true")
	_ = flags.Set("skip_headers", "false")

	return &klogBackend{}
}

func (*klogBackend) Name() string {
	return KlogBackendName
}

func (k *klogBackend) Log(level Level, source, format string, args ...interface{}) {
	k.emit(level, k.source(source)+" "+fmt.Sprintf(format, args...))
}

func (*klogBackend) Flush() {
	klog.Flush()
}

func (*klogBackend) Stop() {
	klog.Flush()
}

func (k *klogBackend) SetSourceAlignment(align int) {
	k.align = align
}

func (k *klogBackend) source(source string) string {
	return fmt.Sprintf("[%-*s]", k.align, source)
}

func (*klogBackend) emit(level Level, msg string) {
	switch level {
	case LevelDebug:
		klog.InfoDepth(klogDepth, "D: "+msg)
	case LevelInfo:
		klog.InfoDepth(klogDepth, msg)
	case LevelWarn:
		klog.WarningDepth(klogDepth, msg)
	default:
		klog.ErrorDepth(klogDepth, msg)
	}
}

func init() {
	RegisterBackend(KlogBackendName, createKlogBackend)
}
