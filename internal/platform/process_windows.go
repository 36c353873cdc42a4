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

//go:build windows

package platform

import (
	"context"
	"os/exec"
	"syscall"
	"time"
	"unsafe"

	"cirello.io/servy/internal/servyerr"
	"golang.org/x/sys/windows"
)

// jobProcessGroup wraps a Windows job object configured with
// JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE so every process assigned to it dies
// when the job handle is closed — the kill-the-tree semantics of §4.A/§4.F.5.
type jobProcessGroup struct {
	handle windows.Handle
}

// WindowsProcessSpawner implements ProcessSpawner.
type WindowsProcessSpawner struct{}

// NewProcessSpawner returns the Windows job-object-backed ProcessSpawner.
func NewProcessSpawner() WindowsProcessSpawner { return WindowsProcessSpawner{} }

func (WindowsProcessSpawner) NewProcessGroup() (ProcessGroup, error) {
	const op = "platform.NewProcessGroup"
	h, err := windows.CreateJobObject(nil, nil)
	if err != nil {
		return nil, servyerr.New(servyerr.OsFailure, op, err)
	}
	info := windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION{
		BasicLimitInformation: windows.JOBOBJECT_BASIC_LIMIT_INFORMATION{
			LimitFlags: windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE,
		},
	}
	if _, err := windows.SetInformationJobObject(
		h,
		windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(&info)),
		uint32(unsafe.Sizeof(info)),
	); err != nil {
		windows.CloseHandle(h)
		return nil, servyerr.New(servyerr.OsFailure, op, err)
	}
	return &jobProcessGroup{handle: h}, nil
}

func priorityClass(p string) uint32 {
	switch p {
	case "Idle":
		return windows.IDLE_PRIORITY_CLASS
	case "BelowNormal":
		return windows.BELOW_NORMAL_PRIORITY_CLASS
	case "AboveNormal":
		return windows.ABOVE_NORMAL_PRIORITY_CLASS
	case "High":
		return windows.HIGH_PRIORITY_CLASS
	case "RealTime":
		return windows.REALTIME_PRIORITY_CLASS
	default:
		return windows.NORMAL_PRIORITY_CLASS
	}
}

func (g *jobProcessGroup) Spawn(ctx context.Context, spec ProcessSpec) (Process, error) {
	const op = "platform.Spawn"
	cmd := exec.CommandContext(ctx, spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: windows.CREATE_SUSPENDED | priorityClass(spec.Priority),
	}
	if err := cmd.Start(); err != nil {
		return nil, servyerr.New(servyerr.OsFailure, op, err)
	}
	procHandle := windows.Handle(cmd.Process.Pid) // resolved via OpenProcess below
	h, err := windows.OpenProcess(windows.PROCESS_ALL_ACCESS, false, uint32(cmd.Process.Pid))
	if err == nil {
		procHandle = h
	}
	if err := windows.AssignProcessToJobObject(g.handle, procHandle); err != nil {
		// Resume anyway: job assignment failing is not fatal to the
		// child itself, only to the kill-the-tree guarantee.
		_ = err
	}
	resumeThread(cmd.Process.Pid)
	return &windowsProcess{cmd: cmd}, nil
}

// resumeThread resumes the main thread of a CREATE_SUSPENDED process.
func resumeThread(pid int) {
	h, err := windows.OpenThread(windows.THREAD_SUSPEND_RESUME, false, uint32(pid))
	if err != nil {
		return
	}
	defer windows.CloseHandle(h)
	windows.ResumeThread(h)
}

func (g *jobProcessGroup) Close() error {
	if g.handle == 0 {
		return nil
	}
	err := windows.CloseHandle(g.handle)
	g.handle = 0
	if err != nil {
		return servyerr.New(servyerr.OsFailure, "platform.Close", err)
	}
	return nil
}

type windowsProcess struct {
	cmd *exec.Cmd
}

func (p *windowsProcess) Pid() int { return p.cmd.Process.Pid }

func (p *windowsProcess) Wait(ctx context.Context) (int, error) {
	done := make(chan error, 1)
	go func() { done <- p.cmd.Wait() }()
	select {
	case err := <-done:
		if err == nil {
			return 0, nil
		}
		var exitErr *exec.ExitError
		if ok := asExitError(err, &exitErr); ok {
			return exitErr.ExitCode(), nil
		}
		return -1, servyerr.New(servyerr.OsFailure, "platform.Wait", err)
	case <-ctx.Done():
		return -1, servyerr.New(servyerr.Cancelled, "platform.Wait", ctx.Err())
	}
}

func asExitError(err error, target **exec.ExitError) bool {
	e, ok := err.(*exec.ExitError)
	if ok {
		*target = e
	}
	return ok
}

func (p *windowsProcess) Kill(ctx context.Context, graceful bool, gracePeriod time.Duration) error {
	const op = "platform.Kill"
	if graceful {
		// Best-effort graceful stop: attempt CTRL_CLOSE_EVENT on the
		// process group's console, falling back to TerminateProcess on
		// timeout. Errors here are swallowed by the caller (§4.F.6).
		windows.GenerateConsoleCtrlEvent(windows.CTRL_CLOSE_EVENT, uint32(p.cmd.Process.Pid))
		select {
		case <-time.After(gracePeriod):
		case <-ctx.Done():
		}
	}
	if err := p.cmd.Process.Kill(); err != nil {
		return servyerr.New(servyerr.OsFailure, op, err)
	}
	return nil
}
