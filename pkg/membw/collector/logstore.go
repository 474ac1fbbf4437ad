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

package collector

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/intel/membw/pkg/membw"
)

const (
	systemLog = "system.log"
	uncoreLog = "unc.log"
	taskLog   = "task.log"
)

// LogStore is the directory of ephemeral counter dumps.
//
// Layout:
//   <dir>/system.log      system-wide stores
//   <dir>/unc.log         memory controller queue insertions
//   <dir>/task.log        all tasks
//   <dir>/<pid>/task.log  one task
type LogStore struct {
	dir string
}

// NewLogStore creates a log store rooted at dir.
func NewLogStore(dir string) *LogStore {
	return &LogStore{dir: dir}
}

// Dir returns the root directory of the store.
func (s *LogStore) Dir() string {
	return s.dir
}

// Path returns the dump file of the given stream and target.
func (s *LogStore) Path(stream StreamKind, target int) string {
	switch stream {
	case SystemStream:
		return filepath.Join(s.dir, systemLog)
	case UncoreStream:
		return filepath.Join(s.dir, uncoreLog)
	}
	if target == AllTasks {
		return filepath.Join(s.dir, taskLog)
	}
	return filepath.Join(s.dir, strconv.Itoa(target), taskLog)
}

// Prepare creates the directory of a dump and clears any stale dump.
func (s *LogStore) Prepare(stream StreamKind, target int) (string, error) {
	path := s.Path(stream, target)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", errors.Wrapf(err, "failed to create log directory for %s", path)
	}
	if err := removeFile(path); err != nil {
		return "", err
	}
	return path, nil
}

// ReadDump reads the dump of the given stream and target.
func (s *LogStore) ReadDump(stream StreamKind, target int) (*RawDump, error) {
	path := s.Path(stream, target)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(membw.ErrMissingDump, "%s", path)
		}
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	return &RawDump{
		Stream: stream,
		Target: target,
		Path:   path,
		Lines:  strings.Split(strings.TrimRight(string(data), "\n"), "\n"),
	}, nil
}

// Clear removes the dumps of a task target.
func (s *LogStore) Clear(target int) error {
	if target == AllTasks {
		return removeFile(s.Path(TaskStream, AllTasks))
	}
	dir := filepath.Join(s.dir, strconv.Itoa(target))
	if err := os.RemoveAll(dir); err != nil {
		return errors.Wrapf(err, "failed to remove %s", dir)
	}
	return nil
}

// ClearRound removes the shared system and memory controller dumps.
func (s *LogStore) ClearRound() error {
	var result *multierror.Error
	for _, stream := range []StreamKind{SystemStream, UncoreStream} {
		if err := removeFile(s.Path(stream, AllTasks)); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// RemoveAll removes every dump in the store, and the store directory itself
// if nothing else is left in it.
func (s *LogStore) RemoveAll() error {
	var result *multierror.Error
	if err := s.ClearRound(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := s.Clear(AllTasks); err != nil {
		result = multierror.Append(result, err)
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return result.ErrorOrNil()
		}
		return multierror.Append(result, errors.Wrapf(err, "failed to list %s", s.dir))
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if pid, err := strconv.Atoi(e.Name()); err == nil && pid > 0 {
			if err := s.Clear(pid); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}

	if err := os.Remove(s.dir); err != nil && !os.IsNotExist(err) && !isNotEmpty(err) {
		result = multierror.Append(result, errors.Wrapf(err, "failed to remove %s", s.dir))
	}
	return result.ErrorOrNil()
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove %s", path)
	}
	return nil
}

func isNotEmpty(err error) bool {
	return errors.Is(err, unix.ENOTEMPTY) || errors.Is(err, unix.EEXIST)
}
