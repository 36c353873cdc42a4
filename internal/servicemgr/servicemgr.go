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

// Package servicemgr implements the service-control façade: install,
// uninstall, start, stop, restart, status, and startup-type lookups that
// tie the SCM (internal/platform.ServiceControl) to the configuration
// store (internal/store), per §4.E.
package servicemgr

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"cirello.io/servy/internal/envparse"
	"cirello.io/servy/internal/platform"
	"cirello.io/servy/internal/servydef"
	"cirello.io/servy/internal/servyerr"
	"cirello.io/servy/internal/store"
)

// defaultPhaseTimeout bounds each stop/start phase of a restart.
const defaultPhaseTimeout = 30 * time.Second

// Manager is the façade. HostExecutable is this module's own runtime
// binary: the SCM image path always points at it, with the service's own
// identity encoded into the verbatim argument vector of §6.
type Manager struct {
	Control        platform.ServiceControl
	Credentials    platform.CredentialValidator
	Store          *store.Store
	HostExecutable string
	PhaseTimeout   time.Duration
}

func (m *Manager) phaseTimeout() time.Duration {
	if m.PhaseTimeout > 0 {
		return m.PhaseTimeout
	}
	return defaultPhaseTimeout
}

// Install validates def, expands %VAR% references, verifies the
// executable exists, validates credentials when not running as local
// system, registers it with the SCM, and only then persists it to the
// store. The SCM registration is rolled back on any later failure.
func (m *Manager) Install(ctx context.Context, def servydef.Definition) (*servydef.Definition, error) {
	const op = "servicemgr.Install"
	def.ApplyDefaults()
	if err := def.Validate(); err != nil {
		return nil, err
	}

	env := envparse.Layer(nil, def.EnvironmentVariables)
	exePath := envparse.Expand(def.ExecutablePath, env)
	if _, err := os.Stat(exePath); err != nil {
		return nil, servyerr.New(servyerr.ConfigInvalid, op, fmt.Errorf("executable_path %q does not exist: %w", exePath, err))
	}

	if !def.RunAsLocalSystem {
		if m.Credentials == nil {
			return nil, servyerr.New(servyerr.ConfigInvalid, op, fmt.Errorf("credential validation unavailable"))
		}
		user, password := def.UserAccount, def.Password
		if err := m.Credentials.Validate(ctx, user, password); err != nil {
			return nil, servyerr.New(servyerr.CredentialInvalid, op, err)
		}
	}

	cfg := platform.ServiceConfig{
		Name:             def.Name,
		DisplayName:      def.Name,
		Description:      def.Description,
		BinaryPathName:   m.imagePath(def),
		StartType:        string(def.StartupType),
		Dependencies:     def.ServiceDependencies,
		RunAsLocalSystem: def.RunAsLocalSystem,
		UserAccount:      def.UserAccount,
		Password:         def.Password,
	}
	if err := m.Control.CreateService(ctx, cfg); err != nil {
		return nil, err
	}

	id, err := m.Store.Add(ctx, def)
	if err != nil {
		// Roll back the SCM registration: the store is the source of
		// truth for editable fields, but SCM is the source of truth for
		// "is this installed" — a half-installed service is worse than
		// no service.
		_ = m.Control.DeleteService(ctx, def.Name)
		return nil, err
	}
	def.ID = id
	return &def, nil
}

// imagePath builds the SCM binary path: the host runtime executable
// followed by the verbatim argument vector of §6, encoding every
// runtime-needed field of def.
func (m *Manager) imagePath(def servydef.Definition) string {
	args := []string{m.HostExecutable, "--name", def.Name}
	if def.ExecutablePath != "" {
		args = append(args, "--exe", def.ExecutablePath)
	}
	if def.Parameters != "" {
		args = append(args, "--args", def.Parameters)
	}
	if def.StartupDirectory != "" {
		args = append(args, "--cwd", def.StartupDirectory)
	}
	if def.Priority != "" {
		args = append(args, "--priority", string(def.Priority))
	}
	if def.StdoutPath != "" {
		args = append(args, "--stdout", def.StdoutPath)
	}
	if def.StderrPath != "" {
		args = append(args, "--stderr", def.StderrPath)
	}
	if def.EnableRotation {
		args = append(args, "--rotate", fmt.Sprintf("%d", def.RotationSizeBytes))
	}
	if len(def.EnvironmentVariables) > 0 {
		args = append(args, "--env", strings.Join(def.EnvironmentVariables, ";"))
	}
	if def.EnableHealthMonitoring {
		args = append(args,
			"--heartbeat", fmt.Sprintf("%d", def.HeartbeatIntervalSeconds),
			"--max-failed", fmt.Sprintf("%d", def.MaxFailedChecks),
			"--max-restarts", fmt.Sprintf("%d", def.MaxRestartAttemptsOrZero()),
			"--recovery", string(def.RecoveryActionValue),
		)
	}
	if def.PreLaunchExecutablePath != "" {
		args = append(args, "--pre-exe", def.PreLaunchExecutablePath)
		if def.PreLaunchParameters != "" {
			args = append(args, "--pre-args", def.PreLaunchParameters)
		}
		if def.PreLaunchStartupDirectory != "" {
			args = append(args, "--pre-cwd", def.PreLaunchStartupDirectory)
		}
		if len(def.PreLaunchEnvironmentVars) > 0 {
			args = append(args, "--pre-env", strings.Join(def.PreLaunchEnvironmentVars, ";"))
		}
		if def.PreLaunchStdoutPath != "" {
			args = append(args, "--pre-stdout", def.PreLaunchStdoutPath)
		}
		if def.PreLaunchStderrPath != "" {
			args = append(args, "--pre-stderr", def.PreLaunchStderrPath)
		}
		args = append(args, "--pre-timeout", fmt.Sprintf("%d", def.PreLaunchTimeoutSeconds))
		args = append(args, "--pre-retries", fmt.Sprintf("%d", def.PreLaunchRetryAttempts))
		if def.PreLaunchIgnoreFailure {
			args = append(args, "--pre-ignore-failure")
		}
	}
	return joinArgv(args)
}

func joinArgv(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		if strings.ContainsAny(a, " \t\"") {
			quoted[i] = `"` + strings.ReplaceAll(a, `"`, `\"`) + `"`
		} else {
			quoted[i] = a
		}
	}
	return strings.Join(quoted, " ")
}

// Uninstall stops the service if running (bounded wait), then deletes it
// from both the SCM and the store.
func (m *Manager) Uninstall(ctx context.Context, name string) error {
	const op = "servicemgr.Uninstall"
	status, err := m.Control.Query(ctx, name)
	if err != nil && servyerr.KindOf(err) != servyerr.NotFound {
		return servyerr.New(servyerr.OsFailure, op, err)
	}
	if err == nil && status == platform.StatusRunning {
		if err := m.stopAndWait(ctx, name); err != nil {
			return err
		}
	}
	if err := m.Control.DeleteService(ctx, name); err != nil && servyerr.KindOf(err) != servyerr.NotFound {
		return err
	}
	if err := m.Store.DeleteByName(ctx, name); err != nil {
		return err
	}
	return nil
}

// Start starts the named service, refusing if its startup type is Disabled.
func (m *Manager) Start(ctx context.Context, name string) error {
	const op = "servicemgr.Start"
	startType, err := m.Control.StartupType(ctx, name)
	if err != nil {
		return err
	}
	if startType == string(servydef.StartupDisabled) {
		return servyerr.New(servyerr.ConfigInvalid, op, fmt.Errorf("service %q is disabled", name))
	}
	return m.Control.Start(ctx, name)
}

// Stop stops the named service.
func (m *Manager) Stop(ctx context.Context, name string) error {
	return m.Control.Stop(ctx, name)
}

func (m *Manager) stopAndWait(ctx context.Context, name string) error {
	if err := m.Control.Stop(ctx, name); err != nil {
		return err
	}
	return m.Control.WaitForStatus(ctx, name, platform.StatusStopped, m.phaseTimeout())
}

// Restart stops (bounded wait), then starts (bounded wait), each phase
// timed independently.
func (m *Manager) Restart(ctx context.Context, name string) error {
	if err := m.stopAndWait(ctx, name); err != nil {
		return err
	}
	if err := m.Start(ctx, name); err != nil {
		return err
	}
	return m.Control.WaitForStatus(ctx, name, platform.StatusRunning, m.phaseTimeout())
}

// Status returns the service's SCM status.
func (m *Manager) Status(ctx context.Context, name string) (platform.ServiceStatus, error) {
	return m.Control.Query(ctx, name)
}

// GetStartupType returns the service's SCM startup type.
func (m *Manager) GetStartupType(ctx context.Context, name string) (string, error) {
	return m.Control.StartupType(ctx, name)
}
