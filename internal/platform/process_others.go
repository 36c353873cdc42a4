// Copyright 2024 github.com/ucirello
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build !windows

package platform

import (
	"context"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"cirello.io/servy/internal/servyerr"
)

// posixProcessGroup emulates the job-object kill-the-tree semantics with a
// process-group id (setpgid) the way internal/runner/cmd_others.go does for
// the teacher's own child processes. It exists so the host runtime builds
// and its lifecycle tests run on non-Windows development machines; it is
// not the production adapter (that is process_windows.go).
type posixProcessGroup struct {
	mu   sync.Mutex
	pgid int
	set  bool
}

// PosixProcessSpawner is the portable stand-in ProcessSpawner.
type PosixProcessSpawner struct{}

// NewProcessSpawner returns the portable stand-in ProcessSpawner.
func NewProcessSpawner() PosixProcessSpawner { return PosixProcessSpawner{} }

func (PosixProcessSpawner) NewProcessGroup() (ProcessGroup, error) {
	return &posixProcessGroup{}, nil
}

func (g *posixProcessGroup) Spawn(ctx context.Context, spec ProcessSpec) (Process, error) {
	const op = "platform.Spawn"
	cmd := exec.CommandContext(ctx, spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, servyerr.New(servyerr.OsFailure, op, err)
	}
	g.mu.Lock()
	if !g.set {
		g.pgid = cmd.Process.Pid
		g.set = true
	}
	g.mu.Unlock()
	return &posixProcess{cmd: cmd}, nil
}

func (g *posixProcessGroup) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.set {
		return nil
	}
	// Best-effort: terminate any surviving descendants in the group.
	_ = syscall.Kill(-g.pgid, syscall.SIGKILL)
	return nil
}

type posixProcess struct {
	cmd *exec.Cmd
}

func (p *posixProcess) Pid() int { return p.cmd.Process.Pid }

func (p *posixProcess) Wait(ctx context.Context) (int, error) {
	done := make(chan error, 1)
	go func() { done <- p.cmd.Wait() }()
	select {
	case err := <-done:
		if err == nil {
			return 0, nil
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), nil
		}
		return -1, servyerr.New(servyerr.OsFailure, "platform.Wait", err)
	case <-ctx.Done():
		return -1, servyerr.New(servyerr.Cancelled, "platform.Wait", ctx.Err())
	}
}

func (p *posixProcess) Kill(ctx context.Context, graceful bool, gracePeriod time.Duration) error {
	const op = "platform.Kill"
	pgid := p.cmd.Process.Pid
	if graceful {
		_ = syscall.Kill(-pgid, syscall.SIGTERM)
		select {
		case <-time.After(gracePeriod):
		case <-ctx.Done():
		}
	}
	if err := syscall.Kill(-pgid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		return servyerr.New(servyerr.OsFailure, op, err)
	}
	return nil
}
