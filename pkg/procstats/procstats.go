// Copyright 2021 Intel Corporation. All Rights Reserved.
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

package procstats

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/prometheus/procfs"

	logger "github.com/intel/membw/pkg/log"
)

const (
	// DefaultProcRoot is the mount point for the proc filesystem.
	DefaultProcRoot = procfs.DefaultMountPoint
	// pidMaxEntry is the kernel limit on process IDs.
	pidMaxEntry = "sys/kernel/pid_max"
)

// our logger instance
var log = logger.NewLogger("procstats")

// Host provides the process and CPU information needed for monitoring.
type Host struct {
	root string
	fs   procfs.FS
}

// NewHost creates a Host for the proc filesystem mounted at root.
func NewHost(root string) (*Host, error) {
	fs, err := procfs.NewFS(root)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open proc filesystem at %s", root)
	}
	return &Host{root: root, fs: fs}, nil
}

// CPUModel returns the model number of the first CPU.
func (h *Host) CPUModel() (string, error) {
	cpus, err := h.fs.CPUInfo()
	if err != nil {
		return "", errors.Wrap(err, "failed to read CPU information")
	}
	if len(cpus) == 0 || cpus[0].Model == "" {
		return "", procstatsError("no CPU model in %s", filepath.Join(h.root, "cpuinfo"))
	}
	log.Debug("CPU model %s (%s)", cpus[0].Model, cpus[0].ModelName)
	return cpus[0].Model, nil
}

// PidMax returns the largest valid process ID.
func (h *Host) PidMax() (int, error) {
	path := filepath.Join(h.root, pidMaxEntry)
	buf, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.Wrap(err, "failed to read maximum PID")
	}
	max, err := strconv.Atoi(strings.TrimSpace(string(buf)))
	if err != nil {
		return 0, errors.Wrapf(err, "invalid maximum PID in %s", path)
	}
	return max, nil
}

// TaskName returns the command name of the given task.
func (h *Host) TaskName(pid int) (string, error) {
	proc, err := h.fs.Proc(pid)
	if err != nil {
		return "", errors.Wrapf(err, "task %d", pid)
	}
	comm, err := proc.Comm()
	if err != nil {
		return "", errors.Wrapf(err, "task %d", pid)
	}
	return comm, nil
}

// TaskExists returns true if the given task is still alive.
func (h *Host) TaskExists(pid int) bool {
	_, err := h.fs.Proc(pid)
	return err == nil
}

// procstatsError returns a package-specific formatted error.
func procstatsError(format string, args ...interface{}) error {
	return fmt.Errorf("procstats: "+format, args...)
}
