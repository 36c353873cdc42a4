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
	"fmt"
	"sync"
	"time"

	"cirello.io/servy/internal/servyerr"
)

// FakeServiceControl is the portable stand-in for the Windows SCM, used so
// the rest of the module (and its test suite) builds and runs on non-Windows
// hosts. It keeps an in-memory registry; it never talks to a real service
// manager, matching the spec's statement that cross-platform portability of
// the OS contract is a non-goal — only the Go code above it needs to build
// everywhere.
type FakeServiceControl struct {
	mu       sync.Mutex
	services map[string]*fakeService
}

type fakeService struct {
	cfg    ServiceConfig
	status ServiceStatus
}

// NewServiceControl returns the portable stand-in ServiceControl.
func NewServiceControl() *FakeServiceControl {
	return &FakeServiceControl{services: make(map[string]*fakeService)}
}

// CreateService implements ServiceControl.
func (f *FakeServiceControl) CreateService(ctx context.Context, cfg ServiceConfig) error {
	const op = "platform.CreateService"
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.services[cfg.Name]; ok {
		return servyerr.New(servyerr.AlreadyExists, op, fmt.Errorf("service %q already exists", cfg.Name))
	}
	f.services[cfg.Name] = &fakeService{cfg: cfg, status: StatusStopped}
	return nil
}

// UpdateService implements ServiceControl.
func (f *FakeServiceControl) UpdateService(ctx context.Context, cfg ServiceConfig) error {
	const op = "platform.UpdateService"
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.services[cfg.Name]
	if !ok {
		return servyerr.New(servyerr.NotFound, op, fmt.Errorf("service %q not found", cfg.Name))
	}
	s.cfg = cfg
	return nil
}

// DeleteService implements ServiceControl.
func (f *FakeServiceControl) DeleteService(ctx context.Context, name string) error {
	const op = "platform.DeleteService"
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.services[name]; !ok {
		return servyerr.New(servyerr.NotFound, op, fmt.Errorf("service %q not found", name))
	}
	delete(f.services, name)
	return nil
}

// SetRecoveryPolicy implements ServiceControl.
func (f *FakeServiceControl) SetRecoveryPolicy(ctx context.Context, name string, restartDelay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.services[name]; !ok {
		return servyerr.New(servyerr.NotFound, "platform.SetRecoveryPolicy", fmt.Errorf("service %q not found", name))
	}
	return nil
}

// Query implements ServiceControl.
func (f *FakeServiceControl) Query(ctx context.Context, name string) (ServiceStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.services[name]
	if !ok {
		return "", servyerr.New(servyerr.NotFound, "platform.Query", fmt.Errorf("service %q not found", name))
	}
	return s.status, nil
}

// Start implements ServiceControl.
func (f *FakeServiceControl) Start(ctx context.Context, name string) error {
	const op = "platform.Start"
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.services[name]
	if !ok {
		return servyerr.New(servyerr.NotFound, op, fmt.Errorf("service %q not found", name))
	}
	if s.cfg.StartType == "Disabled" {
		return servyerr.New(servyerr.ConfigInvalid, op, fmt.Errorf("service %q is disabled", name))
	}
	s.status = StatusRunning
	return nil
}

// Stop implements ServiceControl.
func (f *FakeServiceControl) Stop(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.services[name]
	if !ok {
		return servyerr.New(servyerr.NotFound, "platform.Stop", fmt.Errorf("service %q not found", name))
	}
	s.status = StatusStopped
	return nil
}

// WaitForStatus implements ServiceControl.
func (f *FakeServiceControl) WaitForStatus(ctx context.Context, name string, want ServiceStatus, timeout time.Duration) error {
	const op = "platform.WaitForStatus"
	deadline := time.After(timeout)
	for {
		got, err := f.Query(ctx, name)
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
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// StartupType implements ServiceControl.
func (f *FakeServiceControl) StartupType(ctx context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.services[name]
	if !ok {
		return "", servyerr.New(servyerr.NotFound, "platform.StartupType", fmt.Errorf("service %q not found", name))
	}
	if s.cfg.StartType == "" {
		return "Automatic", nil
	}
	return s.cfg.StartType, nil
}
