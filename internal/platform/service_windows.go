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
	"errors"
	"fmt"
	"time"

	"cirello.io/servy/internal/servyerr"
	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/mgr"
)

// WindowsServiceControl is the ServiceControl implementation backed by
// golang.org/x/sys/windows/svc/mgr, the canonical Go SCM binding (the same
// package family the juju windows service manager and DataDog's
// servicemain package build on).
type WindowsServiceControl struct{}

// NewServiceControl returns the Windows SCM-backed ServiceControl.
func NewServiceControl() *WindowsServiceControl { return &WindowsServiceControl{} }

func connect(op string) (*mgr.Mgr, error) {
	m, err := mgr.Connect()
	if err != nil {
		return nil, servyerr.New(servyerr.OsFailure, op, err)
	}
	return m, nil
}

func startTypeOf(s string) uint32 {
	switch s {
	case "Manual":
		return mgr.StartManual
	case "Disabled":
		return mgr.StartDisabled
	default:
		return mgr.StartAutomatic
	}
}

// CreateService implements ServiceControl.
func (WindowsServiceControl) CreateService(ctx context.Context, cfg ServiceConfig) error {
	const op = "platform.CreateService"
	m, err := connect(op)
	if err != nil {
		return err
	}
	defer m.Disconnect()

	mc := mgr.Config{
		DisplayName:      cfg.DisplayName,
		Description:      cfg.Description,
		StartType:        startTypeOf(cfg.StartType),
		Dependencies:     cfg.Dependencies,
		ServiceStartName: "LocalSystem",
	}
	if !cfg.RunAsLocalSystem {
		mc.ServiceStartName = cfg.UserAccount
		mc.Password = cfg.Password
	}
	s, err := m.CreateService(cfg.Name, cfg.BinaryPathName, mc)
	if err != nil {
		if errors.Is(err, mgr.ErrServiceExists) {
			return servyerr.New(servyerr.AlreadyExists, op, err)
		}
		return servyerr.New(servyerr.OsFailure, op, err)
	}
	defer s.Close()
	return nil
}

// UpdateService implements ServiceControl.
func (WindowsServiceControl) UpdateService(ctx context.Context, cfg ServiceConfig) error {
	const op = "platform.UpdateService"
	m, err := connect(op)
	if err != nil {
		return err
	}
	defer m.Disconnect()

	s, err := m.OpenService(cfg.Name)
	if err != nil {
		return servyerr.New(servyerr.NotFound, op, err)
	}
	defer s.Close()

	mc, err := s.Config()
	if err != nil {
		return servyerr.New(servyerr.OsFailure, op, err)
	}
	mc.DisplayName = cfg.DisplayName
	mc.Description = cfg.Description
	mc.StartType = startTypeOf(cfg.StartType)
	mc.Dependencies = cfg.Dependencies
	mc.BinaryPathName = cfg.BinaryPathName
	if cfg.RunAsLocalSystem {
		mc.ServiceStartName = "LocalSystem"
		mc.Password = ""
	} else {
		mc.ServiceStartName = cfg.UserAccount
		mc.Password = cfg.Password
	}
	if err := s.UpdateConfig(mc); err != nil {
		return servyerr.New(servyerr.OsFailure, op, err)
	}
	return nil
}

// DeleteService implements ServiceControl.
func (WindowsServiceControl) DeleteService(ctx context.Context, name string) error {
	const op = "platform.DeleteService"
	m, err := connect(op)
	if err != nil {
		return err
	}
	defer m.Disconnect()

	s, err := m.OpenService(name)
	if err != nil {
		return servyerr.New(servyerr.NotFound, op, err)
	}
	defer s.Close()
	if err := s.Delete(); err != nil {
		return servyerr.New(servyerr.OsFailure, op, err)
	}
	return nil
}

// SetRecoveryPolicy implements ServiceControl.
//
// Servy's own recovery policy (§4.F.4) is enacted entirely by the host
// runtime process, not by SCM's native failure actions; this sets a minimal
// SCM-level restart-delay so an unexpected host crash (as opposed to a
// clean exit) still gets one SCM-driven restart as a last-resort safety net.
func (WindowsServiceControl) SetRecoveryPolicy(ctx context.Context, name string, restartDelay time.Duration) error {
	const op = "platform.SetRecoveryPolicy"
	m, err := connect(op)
	if err != nil {
		return err
	}
	defer m.Disconnect()
	s, err := m.OpenService(name)
	if err != nil {
		return servyerr.New(servyerr.NotFound, op, err)
	}
	defer s.Close()
	actions := []mgr.RecoveryAction{
		{Type: mgr.ServiceRestart, Delay: restartDelay},
	}
	if err := s.SetRecoveryActions(actions, uint32(24*time.Hour/time.Second)); err != nil {
		return servyerr.New(servyerr.OsFailure, op, err)
	}
	return nil
}

// Query implements ServiceControl.
func (WindowsServiceControl) Query(ctx context.Context, name string) (ServiceStatus, error) {
	const op = "platform.Query"
	m, err := connect(op)
	if err != nil {
		return "", err
	}
	defer m.Disconnect()
	s, err := m.OpenService(name)
	if err != nil {
		return "", servyerr.New(servyerr.NotFound, op, err)
	}
	defer s.Close()
	st, err := s.Query()
	if err != nil {
		return "", servyerr.New(servyerr.OsFailure, op, err)
	}
	return fromSvcState(st.State), nil
}

func fromSvcState(s svc.State) ServiceStatus {
	switch s {
	case svc.StartPending:
		return StatusStartPending
	case svc.StopPending:
		return StatusStopPending
	case svc.Running:
		return StatusRunning
	case svc.ContinuePending:
		return StatusContinuePending
	case svc.PausePending:
		return StatusPausePending
	case svc.Paused:
		return StatusPaused
	default:
		return StatusStopped
	}
}

// Start implements ServiceControl.
func (WindowsServiceControl) Start(ctx context.Context, name string) error {
	const op = "platform.Start"
	m, err := connect(op)
	if err != nil {
		return err
	}
	defer m.Disconnect()
	s, err := m.OpenService(name)
	if err != nil {
		return servyerr.New(servyerr.NotFound, op, err)
	}
	defer s.Close()
	if err := s.Start(); err != nil {
		return servyerr.New(servyerr.OsFailure, op, err)
	}
	return nil
}

// Stop implements ServiceControl.
func (WindowsServiceControl) Stop(ctx context.Context, name string) error {
	const op = "platform.Stop"
	m, err := connect(op)
	if err != nil {
		return err
	}
	defer m.Disconnect()
	s, err := m.OpenService(name)
	if err != nil {
		return servyerr.New(servyerr.NotFound, op, err)
	}
	defer s.Close()
	if _, err := s.Control(svc.Stop); err != nil {
		return servyerr.New(servyerr.OsFailure, op, err)
	}
	return nil
}

// WaitForStatus implements ServiceControl.
func (w WindowsServiceControl) WaitForStatus(ctx context.Context, name string, want ServiceStatus, timeout time.Duration) error {
	const op = "platform.WaitForStatus"
	deadline := time.After(timeout)
	for {
		got, err := w.Query(ctx, name)
		if err != nil {
			return err
		}
		if got == want {
			return nil
		}
		select {
		case <-ctx.Done():
			return servyerr.New(servyerr.Cancelled, op, ctx.Err())
		case <-deadline:
			return servyerr.New(servyerr.Timeout, op, fmt.Errorf("service %q did not reach %s within %s", name, want, timeout))
		case <-time.After(250 * time.Millisecond):
		}
	}
}

// StartupType implements ServiceControl.
func (WindowsServiceControl) StartupType(ctx context.Context, name string) (string, error) {
	const op = "platform.StartupType"
	m, err := connect(op)
	if err != nil {
		return "", err
	}
	defer m.Disconnect()
	s, err := m.OpenService(name)
	if err != nil {
		return "", servyerr.New(servyerr.NotFound, op, err)
	}
	defer s.Close()
	mc, err := s.Config()
	if err != nil {
		return "", servyerr.New(servyerr.OsFailure, op, err)
	}
	switch mc.StartType {
	case mgr.StartManual:
		return "Manual", nil
	case mgr.StartDisabled:
		return "Disabled", nil
	default:
		return "Automatic", nil
	}
}
