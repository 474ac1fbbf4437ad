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
	"bytes"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Process is a handle to one running collection subprocess.
type Process interface {
	// Start starts the process.
	Start() error
	// Wait waits for the process to exit. If it does not exit within the
	// timeout it is terminated and an error is returned.
	Wait(timeout time.Duration) error
	// Terminate asks the process to exit.
	Terminate() error
	// Pid returns the process ID, or 0 if the process is not running.
	Pid() int
}

// Launcher creates collection processes.
type Launcher interface {
	Launch(argv []string) (Process, error)
}

// ExecLauncher launches processes with os/exec.
type ExecLauncher struct{}

type execProcess struct {
	cmd    *exec.Cmd
	stderr bytes.Buffer
	done   chan struct{}
	err    error
}

// Launch implements Launcher.
func (ExecLauncher) Launch(argv []string) (Process, error) {
	if len(argv) == 0 {
		return nil, collectorError("empty command line")
	}
	p := &execProcess{
		cmd:  exec.Command(argv[0], argv[1:]...),
		done: make(chan struct{}),
	}
	p.cmd.Stderr = &p.stderr
	// keep terminal signals away from collections, they are stopped by Terminate
	p.cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return p, nil
}

func (p *execProcess) Start() error {
	if err := p.cmd.Start(); err != nil {
		return errors.Wrapf(err, "failed to start %s", p.cmd.Path)
	}
	go func() {
		p.err = p.cmd.Wait()
		close(p.done)
	}()
	return nil
}

func (p *execProcess) Wait(timeout time.Duration) error {
	select {
	case <-p.done:
	case <-time.After(timeout):
		p.Terminate()
		<-p.done
		return collectorError("%s (pid %d) timed out after %s", p.cmd.Path, p.Pid(), timeout)
	}

	if p.err != nil {
		if msg := strings.TrimSpace(p.stderr.String()); msg != "" {
			return errors.Wrapf(p.err, "%s", lastLine(msg))
		}
		return p.err
	}
	return nil
}

func (p *execProcess) Terminate() error {
	pid := p.Pid()
	if pid == 0 {
		return nil
	}
	if err := unix.Kill(pid, unix.SIGTERM); err != nil && err != unix.ESRCH {
		return errors.Wrapf(err, "failed to terminate process %d", pid)
	}
	return nil
}

func (p *execProcess) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func lastLine(s string) string {
	if idx := strings.LastIndexByte(s, '\n'); idx >= 0 {
		return s[idx+1:]
	}
	return s
}
