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
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/intel/membw/pkg/membw"
)

func populate(t *testing.T, s *LogStore, targets ...int) {
	for _, stream := range []StreamKind{SystemStream, UncoreStream} {
		path, err := s.Prepare(stream, AllTasks)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(path, []byte("x\n"), 0644))
	}
	for _, target := range targets {
		path, err := s.Prepare(TaskStream, target)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(path, []byte("x\n"), 0644))
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestLogStorePaths(t *testing.T) {
	s := NewLogStore("/tmp/logs")

	tcases := []struct {
		stream   StreamKind
		target   int
		expected string
	}{
		{SystemStream, AllTasks, "/tmp/logs/system.log"},
		{SystemStream, 4242, "/tmp/logs/system.log"},
		{UncoreStream, AllTasks, "/tmp/logs/unc.log"},
		{TaskStream, AllTasks, "/tmp/logs/task.log"},
		{TaskStream, 4242, "/tmp/logs/4242/task.log"},
	}
	for _, tc := range tcases {
		require.Equal(t, tc.expected, s.Path(tc.stream, tc.target))
	}
}

func TestReadDump(t *testing.T) {
	s := NewLogStore(t.TempDir())

	_, err := s.ReadDump(TaskStream, 1)
	require.True(t, errors.Is(err, membw.ErrMissingDump), "unexpected error %v", err)

	path, err := s.Prepare(TaskStream, 1)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("a\nb\n\n"), 0644))

	dump, err := s.ReadDump(TaskStream, 1)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, dump.Lines)
	require.Equal(t, path, dump.Path)
	require.Equal(t, 1, dump.Target)
}

func TestClear(t *testing.T) {
	s := NewLogStore(t.TempDir())
	populate(t, s, 1, 2, AllTasks)

	require.NoError(t, s.Clear(1))
	require.False(t, exists(filepath.Join(s.Dir(), "1")))
	require.True(t, exists(s.Path(TaskStream, 2)))

	require.NoError(t, s.Clear(AllTasks))
	require.False(t, exists(s.Path(TaskStream, AllTasks)))

	require.NoError(t, s.ClearRound())
	require.False(t, exists(s.Path(SystemStream, AllTasks)))
	require.False(t, exists(s.Path(UncoreStream, AllTasks)))
	require.True(t, exists(s.Path(TaskStream, 2)))

	// clearing twice is fine
	require.NoError(t, s.Clear(1))
	require.NoError(t, s.ClearRound())
}

func TestRemoveAll(t *testing.T) {
	t.Run("empty afterwards", func(t *testing.T) {
		s := NewLogStore(filepath.Join(t.TempDir(), "logs"))
		populate(t, s, 1, 2, AllTasks)

		require.NoError(t, s.RemoveAll())
		require.False(t, exists(s.Dir()))
		require.NoError(t, s.RemoveAll())
	})

	t.Run("foreign files are kept", func(t *testing.T) {
		s := NewLogStore(filepath.Join(t.TempDir(), "logs"))
		populate(t, s, 1)
		foreign := filepath.Join(s.Dir(), "membw.pid")
		require.NoError(t, os.WriteFile(foreign, []byte("1\n"), 0644))

		require.NoError(t, s.RemoveAll())
		require.True(t, exists(foreign))
		require.False(t, exists(filepath.Join(s.Dir(), "1")))
		require.False(t, exists(s.Path(SystemStream, AllTasks)))
	})
}
