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
	"encoding/csv"
	"io"
	"sync"

	"github.com/jszwec/csvutil"

	"github.com/intel/membw/pkg/membw/attribution"
)

// csvRecord is a single task of a round in the CSV report.
type csvRecord struct {
	Time            string   `csv:"time"`
	IMCReadBW       float64  `csv:"imc_read_mib_s"`
	IMCWriteBW      float64  `csv:"imc_write_mib_s"`
	PMEMReadBW      *float64 `csv:"pmem_read_mib_s"`
	PMEMWriteBW     *float64 `csv:"pmem_write_mib_s"`
	PID             int      `csv:"pid"`
	Name            string   `csv:"name"`
	TaskReadBW      float64  `csv:"task_read_mib_s"`
	ReadPercent     float64  `csv:"read_percent"`
	TaskWriteBW     float64  `csv:"task_write_mib_s_estimated"`
	WritePercent    float64  `csv:"write_percent_estimated"`
	TaskPMEMReadBW  *float64 `csv:"task_pmem_read_mib_s"`
	PMEMReadPercent *float64 `csv:"pmem_read_percent"`
}

// CSVWriter writes a CSV record per task and round. Persistent memory
// columns are left empty unless enabled.
type CSVWriter struct {
	sync.Mutex
	w   *csv.Writer
	enc *csvutil.Encoder
}

var _ Writer = &CSVWriter{}

// NewCSVWriter creates a CSV writer for the given output.
func NewCSVWriter(out io.Writer) *CSVWriter {
	w := csv.NewWriter(out)
	return &CSVWriter{
		w:   w,
		enc: csvutil.NewEncoder(w),
	}
}

// Start writes the CSV header.
func (c *CSVWriter) Start(Run) error {
	c.Lock()
	defer c.Unlock()

	if err := c.enc.EncodeHeader(csvRecord{}); err != nil {
		return reportError("failed to write CSV header: %v", err)
	}
	return c.flush()
}

// Report writes a record per task of the round.
func (c *CSVWriter) Report(r *attribution.Round) error {
	c.Lock()
	defer c.Unlock()

	for _, tb := range r.Tasks {
		rec := csvRecord{
			Time:         tb.StartTime,
			IMCReadBW:    r.Totals.ReadBW,
			IMCWriteBW:   r.Totals.WriteBW,
			PID:          tb.PID,
			Name:         tb.Name,
			TaskReadBW:   tb.ReadBW,
			ReadPercent:  tb.ReadPercent,
			TaskWriteBW:  tb.WriteBW,
			WritePercent: tb.WritePercent,
		}
		if r.PMEM {
			// nil pointers are encoded as empty fields
			rec.PMEMReadBW = &r.Totals.PMEMReadBW
			rec.PMEMWriteBW = &r.Totals.PMEMWriteBW
			rec.TaskPMEMReadBW = &tb.PMEMReadBW
			rec.PMEMReadPercent = &tb.PMEMReadPercent
		}
		if err := c.enc.Encode(rec); err != nil {
			return reportError("failed to encode task %d: %v", tb.PID, err)
		}
	}
	return c.flush()
}

// Finish flushes any buffered records.
func (c *CSVWriter) Finish() error {
	c.Lock()
	defer c.Unlock()
	return c.flush()
}

func (c *CSVWriter) flush() error {
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return reportError("failed to write CSV: %v", err)
	}
	return nil
}
