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

package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// DefaultName is the name of the PID file within the log directory.
const DefaultName = "membw.pid"

// PidFile guards a log directory against concurrent monitoring runs.
type PidFile struct {
	path string
	file *os.File
}

// New creates a PidFile for the given path.
func New(path string) *PidFile {
	return &PidFile{path: path}
}

// Path returns the PID file path.
func (p *PidFile) Path() string {
	return p.path
}

// Acquire writes os.Getpid() to the PID file. If the file exists and its owner
// is alive, Acquire fails. A stale file left behind by a dead owner is removed.
// On success the PID file is kept open until Release.
func (p *PidFile) Acquire() error {
	if p.file != nil {
		return nil
	}

	owner, err := p.OwnerPid()
	if err != nil {
		return err
	}
	if owner > 0 && owner != os.Getpid() {
		return errors.Errorf("PID file %s is owned by running process %d", p.path, owner)
	}
	if err := p.remove(); err != nil {
		return err
	}

	return p.write()
}

// write creates the PID file exclusively and writes our PID to it.
func (p *PidFile) write() error {
	err := os.MkdirAll(filepath.Dir(p.path), 0755)
	if err != nil {
		return errors.Wrap(err, "failed to create PID file")
	}

	p.file, err = os.OpenFile(p.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		p.file = nil
		return errors.Wrap(err, "failed to create PID file")
	}

	_, err = p.file.Write([]byte(fmt.Sprintf("%d\n", os.Getpid())))
	if err != nil {
		p.close()
		return errors.Wrap(err, "failed to write PID file")
	}

	return nil
}

// Read reads the content of the PID file. It returns 0 if the file does not
// exist, or -1 and an error if reading an integer process ID fails.
func (p *PidFile) Read() (int, error) {
	buf, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return -1, errors.Wrap(err, "failed to read PID file")
	}

	pid, err := strconv.Atoi(strings.TrimRight(string(buf), "\n"))
	if err != nil {
		return -1, errors.Wrapf(err, "invalid PID (%q) in PID file", string(buf))
	}

	return pid, nil
}

// OwnerPid returns the ID of the live process owning the PID file, or 0 if
// there is none.
func (p *PidFile) OwnerPid() (int, error) {
	pid, err := p.Read()
	if err != nil {
		// an empty or garbled file can't have a live owner
		if pid == -1 && !os.IsPermission(errors.Cause(err)) {
			return 0, nil
		}
		return -1, err
	}
	if pid == 0 {
		return 0, nil
	}

	switch err := unix.Kill(pid, 0); err {
	case nil, unix.EPERM:
		return pid, nil
	case unix.ESRCH:
		return 0, nil
	default:
		return -1, errors.Wrapf(err, "failed to check process %d", pid)
	}
}

// Release closes and removes the PID file, and the directory holding it if
// that is left empty.
func (p *PidFile) Release() error {
	if p.file == nil {
		return nil
	}
	p.close()
	if err := p.remove(); err != nil {
		return err
	}
	return p.removeDir()
}

// close closes the PID file and truncates it to zero length.
func (p *PidFile) close() {
	if p.file != nil {
		p.file.Truncate(0)
		p.file.Close()
		p.file = nil
	}
}

// remove removes the PID file, ignoring it if it does not exist.
func (p *PidFile) remove() error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to remove PID file")
	}
	return nil
}

// removeDir removes the directory of the PID file unless something else is
// still in it.
func (p *PidFile) removeDir() error {
	dir := filepath.Dir(p.path)
	err := os.Remove(dir)
	switch {
	case err == nil, os.IsNotExist(err):
		return nil
	case errors.Is(err, unix.ENOTEMPTY), errors.Is(err, unix.EEXIST):
		return nil
	}
	return errors.Wrapf(err, "failed to remove PID file directory %s", dir)
}
