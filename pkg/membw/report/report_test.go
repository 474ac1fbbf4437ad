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

package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/stretchr/testify/require"

	"github.com/intel/membw/pkg/membw/attribution"
)

func testRound(pmem bool, pids ...int) *attribution.Round {
	r := &attribution.Round{
		StartTime: "10:11:12",
		Elapsed:   5.0,
		PMEM:      pmem,
		Totals: attribution.Totals{
			ReadBW:      100,
			WriteBW:     200,
			PMEMReadBW:  20,
			PMEMWriteBW: 10,
		},
	}
	for _, pid := range pids {
		r.Tasks = append(r.Tasks, attribution.TaskBandwidth{
			PID:             pid,
			Name:            "stream",
			StartTime:       "10:11:12",
			ReadBW:          30,
			ReadPercent:     30,
			WriteBW:         140,
			WritePercent:    70,
			PMEMReadBW:      5,
			PMEMReadPercent: 25,
		})
	}
	return r
}

func TestBanner(t *testing.T) {
	tcases := []struct {
		name     string
		run      Run
		expected []string
		absent   []string
	}{
		{
			name: "tasks",
			run:  Run{Tasks: 2, Total: 1000 * time.Second, Interval: 5 * time.Second},
			expected: []string{
				"Monitoring 2 task(s) for 1000 seconds, refreshing in every 5 seconds.",
			},
			absent: []string{"pmem specified", "NOTE"},
		},
		{
			name: "all tasks with pmem",
			run:  Run{AllTasks: true, Total: 10 * time.Second, Interval: time.Second, PMEM: true},
			expected: []string{
				"Monitoring all tasks for 10 seconds, refreshing in every 1 seconds.",
				"pmem specified. Persistent memory related bandwidth monitoring added.",
				"!!! NOTE: Tasks with 0.0 Task/iMC read & write BW Ratio are not listed.",
			},
		},
		{
			name: "unbounded",
			run:  Run{Tasks: 1, Interval: 5 * time.Second},
			expected: []string{
				"Monitoring 1 task(s) until interrupted, refreshing in every 5 seconds.",
			},
		},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			require.NoError(t, Banner(buf, tc.run))
			for _, s := range tc.expected {
				require.Contains(t, buf.String(), s)
			}
			for _, s := range tc.absent {
				require.NotContains(t, buf.String(), s)
			}
		})
	}
}

func TestTableWriter(t *testing.T) {
	t.Run("DRAM only", func(t *testing.T) {
		buf := &bytes.Buffer{}
		w := NewTableWriter(buf)
		require.NoError(t, w.Start(Run{Tasks: 1, Total: 10 * time.Second, Interval: 5 * time.Second}))
		require.NoError(t, w.Report(testRound(false, 4242)))
		require.NoError(t, w.Finish())

		lines := strings.Split(buf.String(), "\n")
		header := "    Time       iMCReadBW      iMCWriteBW     PID             TaskName" +
			"      TaskReadBW ReadBW%    *TaskWriteBW *WriteBW%"
		row := "10:11:12     100.0 MiB/s     200.0 MiB/s    4242               stream" +
			"      30.0 MiB/s   30.0%     140.0 MiB/s     70.0%"
		require.Contains(t, lines, header)
		require.Contains(t, lines, row)
		require.Equal(t, len(header), len(row), "columns should line up")
		require.Equal(t, "Done!", lines[len(lines)-2])
	})

	t.Run("with PMEM", func(t *testing.T) {
		buf := &bytes.Buffer{}
		w := NewTableWriter(buf)
		require.NoError(t, w.Start(Run{Tasks: 1, Total: 10 * time.Second, Interval: 5 * time.Second, PMEM: true}))
		require.NoError(t, w.Report(testRound(true, 4242)))

		lines := strings.Split(buf.String(), "\n")
		header := "    Time       iMCReadBW      iMCWriteBW      PmemReadBW     PmemWriteBW" +
			"     PID             TaskName      TaskReadBW ReadBW%    *TaskWriteBW *WriteBW%" +
			"  TaskPmemReadBW PmemReadBW%"
		row := "10:11:12     100.0 MiB/s     200.0 MiB/s      20.0 MiB/s      10.0 MiB/s" +
			"    4242               stream      30.0 MiB/s   30.0%     140.0 MiB/s     70.0%" +
			"       5.0 MiB/s       25.0%"
		require.Contains(t, lines, header)
		require.Contains(t, lines, row)
		require.Equal(t, len(header), len(row), "columns should line up")
	})

	t.Run("empty round", func(t *testing.T) {
		buf := &bytes.Buffer{}
		w := NewTableWriter(buf)
		require.NoError(t, w.Report(testRound(false)))
		require.Empty(t, buf.String())
	})
}

func TestHeaderRepeat(t *testing.T) {
	tcases := []struct {
		name    string
		height  int
		rows    int
		headers int
	}{
		{name: "not a terminal", height: 0, rows: 20, headers: 1},
		{name: "tall terminal", height: 50, rows: 20, headers: 1},
		{name: "short terminal", height: 7, rows: 20, headers: 4},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			w := NewTableWriter(buf)
			w.height = func() int { return tc.height }
			require.NoError(t, w.Start(Run{Tasks: 1, Interval: time.Second}))
			for i := 0; i < tc.rows; i++ {
				require.NoError(t, w.Report(testRound(false, i+1)))
			}
			require.Equal(t, tc.headers, strings.Count(buf.String(), "iMCReadBW"))
		})
	}
}

func TestPrometheusWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	w, err := NewPrometheusWriter(buf)
	require.NoError(t, err)
	require.NoError(t, w.Start(Run{}))
	require.NoError(t, w.Report(testRound(false, 4242)))
	require.NoError(t, w.Finish())

	out := buf.String()
	require.Contains(t, out, "# TYPE membw_imc_bandwidth_mib_per_second gauge")
	require.Contains(t, out, `membw_imc_bandwidth_mib_per_second{direction="read",memory="dram"} 100`)
	require.Contains(t, out, `membw_task_bandwidth_mib_per_second{direction="write",memory="dram",name="stream",pid="4242"} 140`)
	require.Contains(t, out, "membw_rounds_total 1")
	require.NotContains(t, out, `memory="pmem"`)

	buf.Reset()
	require.NoError(t, w.Report(testRound(false)))
	require.Contains(t, buf.String(), "membw_rounds_total 2")
	require.NotContains(t, buf.String(), "membw_task_bandwidth")
}

func TestCSVWriter(t *testing.T) {
	tcases := []struct {
		name    string
		pmem    bool
		idle    bool
		percent *float64
		suffix  string
	}{
		{name: "DRAM only", suffix: ",,"},
		{name: "with PMEM", pmem: true, percent: float64p(25), suffix: ",5,25"},
		{name: "with idle PMEM", pmem: true, idle: true, percent: float64p(0), suffix: ",0,0"},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			r := testRound(tc.pmem, 1, 2)
			if tc.idle {
				r.Totals.PMEMReadBW = 0
				r.Totals.PMEMWriteBW = 0
				for i := range r.Tasks {
					r.Tasks[i].PMEMReadBW = 0
					r.Tasks[i].PMEMReadPercent = 0
				}
			}

			buf := &bytes.Buffer{}
			w := NewCSVWriter(buf)
			require.NoError(t, w.Start(Run{}))
			require.NoError(t, w.Report(r))
			require.NoError(t, w.Finish())

			lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
			require.Len(t, lines, 3)
			require.True(t, strings.HasPrefix(lines[0], "time,imc_read_mib_s,imc_write_mib_s,"))
			require.True(t, strings.HasSuffix(lines[1], tc.suffix), "unexpected record %q", lines[1])

			var records []csvRecord
			require.NoError(t, csvutil.Unmarshal(buf.Bytes(), &records))
			require.Len(t, records, 2)
			require.Equal(t, 1, records[0].PID)
			require.Equal(t, 2, records[1].PID)
			require.Equal(t, 140.0, records[0].TaskWriteBW)
			require.Equal(t, tc.percent, records[0].PMEMReadPercent)
		})
	}
}

func float64p(v float64) *float64 {
	return &v
}
