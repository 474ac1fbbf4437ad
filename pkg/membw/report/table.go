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
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/intel/membw/pkg/membw/attribution"
)

// column of the table report
type column struct {
	title string
	width int
	pmem  bool
}

var columns = []column{
	{title: "Time", width: 8},
	{title: "iMCReadBW", width: 16},
	{title: "iMCWriteBW", width: 16},
	{title: "PmemReadBW", width: 16, pmem: true},
	{title: "PmemWriteBW", width: 16, pmem: true},
	{title: "PID", width: 8},
	{title: "TaskName", width: 21},
	{title: "TaskReadBW", width: 16},
	{title: "ReadBW%", width: 8},
	{title: "*TaskWriteBW", width: 16},
	{title: "*WriteBW%", width: 10},
	{title: "TaskPmemReadBW", width: 16, pmem: true},
	{title: "PmemReadBW%", width: 12, pmem: true},
}

// lines taken by a header
const headerLines = 2

// TableWriter writes rounds as a fixed-width table. On a terminal the header
// is repeated whenever a screenful of rows has scrolled by.
type TableWriter struct {
	sync.Mutex
	out    io.Writer
	pmem   bool
	rows   int
	height func() int
}

var _ Writer = &TableWriter{}

// NewTableWriter creates a table writer for the given output.
func NewTableWriter(out io.Writer) *TableWriter {
	return &TableWriter{
		out:    out,
		height: terminalHeight(out),
	}
}

// Start writes the run banner and the first header.
func (t *TableWriter) Start(run Run) error {
	t.Lock()
	defer t.Unlock()

	t.pmem = run.PMEM
	if err := Banner(t.out, run); err != nil {
		return reportError("failed to write banner: %v", err)
	}
	return t.header()
}

// Report writes a row per task of the round.
func (t *TableWriter) Report(r *attribution.Round) error {
	t.Lock()
	defer t.Unlock()

	for _, tb := range r.Tasks {
		if h := t.height(); h > headerLines && t.rows >= h-headerLines {
			if err := t.header(); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(t.out, t.row(r, tb)); err != nil {
			return reportError("failed to write row: %v", err)
		}
		t.rows++
	}
	return nil
}

// Finish writes the closing line.
func (t *TableWriter) Finish() error {
	t.Lock()
	defer t.Unlock()

	if _, err := io.WriteString(t.out, "Done!\n"); err != nil {
		return reportError("failed to write report: %v", err)
	}
	return nil
}

func (t *TableWriter) header() error {
	b := &strings.Builder{}
	b.WriteString("\n")
	for _, c := range columns {
		if c.pmem && !t.pmem {
			continue
		}
		fmt.Fprintf(b, "%*s", c.width, c.title)
	}
	b.WriteString("\n")

	t.rows = 0
	if _, err := io.WriteString(t.out, b.String()); err != nil {
		return reportError("failed to write header: %v", err)
	}
	return nil
}

func (t *TableWriter) row(r *attribution.Round, tb attribution.TaskBandwidth) string {
	b := &strings.Builder{}
	fmt.Fprintf(b, "%8s", tb.StartTime)
	fmt.Fprintf(b, "%10.1f MiB/s", r.Totals.ReadBW)
	fmt.Fprintf(b, "%10.1f MiB/s", r.Totals.WriteBW)
	if t.pmem {
		fmt.Fprintf(b, "%10.1f MiB/s", r.Totals.PMEMReadBW)
		fmt.Fprintf(b, "%10.1f MiB/s", r.Totals.PMEMWriteBW)
	}
	fmt.Fprintf(b, "%8d", tb.PID)
	fmt.Fprintf(b, "%21s", tb.Name)
	fmt.Fprintf(b, "%10.1f MiB/s", tb.ReadBW)
	fmt.Fprintf(b, "%7.1f%%", tb.ReadPercent)
	fmt.Fprintf(b, "%10.1f MiB/s", tb.WriteBW)
	fmt.Fprintf(b, "%9.1f%%", tb.WritePercent)
	if t.pmem {
		fmt.Fprintf(b, "%10.1f MiB/s", tb.PMEMReadBW)
		fmt.Fprintf(b, "%11.1f%%", tb.PMEMReadPercent)
	}
	b.WriteString("\n")
	return b.String()
}

// terminalHeight returns a function reporting the current height of out if
// it is a terminal, or 0 otherwise.
func terminalHeight(out io.Writer) func() int {
	f, ok := out.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return func() int { return 0 }
	}
	return func() int {
		_, h, err := term.GetSize(int(f.Fd()))
		if err != nil {
			return 0
		}
		return h
	}
}

// reportError returns a package-specific formatted error.
func reportError(format string, args ...interface{}) error {
	return fmt.Errorf("report: "+format, args...)
}
