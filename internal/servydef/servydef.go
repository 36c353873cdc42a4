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

// Package servydef holds the ServiceDefinition data model: the single
// persisted entity shared by the configuration store, the service-control
// façade, and the host runtime's command line.
package servydef

import (
	"encoding/xml"
	"fmt"
	"strings"

	"cirello.io/servy/internal/envparse"
	"cirello.io/servy/internal/servyerr"
)

// Priority is the OS scheduling priority class applied to the child process.
type Priority string

// Priority classes.
const (
	PriorityIdle        Priority = "Idle"
	PriorityBelowNormal  Priority = "BelowNormal"
	PriorityNormal       Priority = "Normal"
	PriorityAboveNormal  Priority = "AboveNormal"
	PriorityHigh         Priority = "High"
	PriorityRealTime     Priority = "RealTime"
)

// StartupType mirrors the SCM start type.
type StartupType string

// Startup types.
const (
	StartupAutomatic StartupType = "Automatic"
	StartupManual    StartupType = "Manual"
	StartupDisabled  StartupType = "Disabled"
)

// RecoveryAction is the policy applied when max_failed_checks is reached.
type RecoveryAction string

// Recovery actions.
const (
	RecoveryNone            RecoveryAction = "None"
	RecoveryRestartProcess  RecoveryAction = "RestartProcess"
	RecoveryRestartService  RecoveryAction = "RestartService"
	RecoveryRestartComputer RecoveryAction = "RestartComputer"
)

// MinRotationSize is the documented minimum of rotation_size_bytes when
// rotation is enabled.
const MinRotationSize = 1 << 20 // 1 MiB

// Documented defaults for absent optional fields, applied on import.
const (
	DefaultHeartbeatIntervalSeconds = 30
	DefaultMaxFailedChecks          = 3
	DefaultMaxRestartAttempts       = 5
	DefaultPreLaunchTimeoutSeconds  = 30
	MinHeartbeatIntervalSeconds     = 5
	MinPreLaunchTimeoutSeconds      = 5
)

// Definition is the single persisted entity of the configuration store.
type Definition struct {
	XMLName xml.Name `xml:"ServiceDefinition" json:"-"`

	// Identity
	ID          int64  `xml:"id" json:"id"`
	Name        string `xml:"name" json:"name"`
	Description string `xml:"description" json:"description"`

	// Process
	ExecutablePath    string   `xml:"executable_path" json:"executable_path"`
	StartupDirectory  string   `xml:"startup_directory" json:"startup_directory"`
	Parameters        string   `xml:"parameters" json:"parameters"`
	Priority          Priority `xml:"priority" json:"priority"`

	// SCM settings
	StartupType          StartupType `xml:"startup_type" json:"startup_type"`
	ServiceDependencies  []string    `xml:"service_dependencies>name" json:"service_dependencies"`

	// Identity (credentials)
	RunAsLocalSystem bool   `xml:"run_as_local_system" json:"run_as_local_system"`
	UserAccount      string `xml:"user_account" json:"user_account"`
	Password         string `xml:"password" json:"password"` // ciphertext at rest, see internal/secureconfig

	// Logging
	StdoutPath        string `xml:"stdout_path" json:"stdout_path"`
	StderrPath        string `xml:"stderr_path" json:"stderr_path"`
	EnableRotation    bool   `xml:"enable_rotation" json:"enable_rotation"`
	RotationSizeBytes int64  `xml:"rotation_size_bytes" json:"rotation_size_bytes"`

	// Environment
	EnvironmentVariables []string `xml:"environment_variables>entry" json:"environment_variables"`

	// Health
	EnableHealthMonitoring  bool           `xml:"enable_health_monitoring" json:"enable_health_monitoring"`
	HeartbeatIntervalSeconds int           `xml:"heartbeat_interval_seconds" json:"heartbeat_interval_seconds"`
	MaxFailedChecks         int            `xml:"max_failed_checks" json:"max_failed_checks"`
	RecoveryActionValue     RecoveryAction `xml:"recovery_action" json:"recovery_action"`

	// MaxRestartAttempts is a pointer so ApplyDefaults and the store's
	// import defaulting can tell "field absent from the document" (nil)
	// from the spec-legal, meaningfully different value 0 ("stop on the
	// first failure" under RestartProcess recovery, per §8).
	MaxRestartAttempts *int `xml:"max_restart_attempts" json:"max_restart_attempts"`

	// Pre-launch hook
	PreLaunchExecutablePath    string   `xml:"pre_launch_executable_path" json:"pre_launch_executable_path"`
	PreLaunchStartupDirectory  string   `xml:"pre_launch_startup_directory" json:"pre_launch_startup_directory"`
	PreLaunchParameters        string   `xml:"pre_launch_parameters" json:"pre_launch_parameters"`
	PreLaunchEnvironmentVars   []string `xml:"pre_launch_environment_variables>entry" json:"pre_launch_environment_variables"`
	PreLaunchStdoutPath        string   `xml:"pre_launch_stdout_path" json:"pre_launch_stdout_path"`
	PreLaunchStderrPath        string   `xml:"pre_launch_stderr_path" json:"pre_launch_stderr_path"`
	PreLaunchTimeoutSeconds    int      `xml:"pre_launch_timeout_seconds" json:"pre_launch_timeout_seconds"`
	PreLaunchRetryAttempts     int      `xml:"pre_launch_retry_attempts" json:"pre_launch_retry_attempts"`
	PreLaunchIgnoreFailure     bool     `xml:"pre_launch_ignore_failure" json:"pre_launch_ignore_failure"`

	// PasswordVersion is read-only diagnostic metadata, not part of the
	// wire format invariant: it records which secure-data format produced
	// Password, "v1" or "v2".
	PasswordVersion string `xml:"-" json:"-"`
}

// ApplyDefaults fills the documented defaults (§3) for absent optional
// fields. Used by the store importer before validation.
func (d *Definition) ApplyDefaults() {
	if d.Priority == "" {
		d.Priority = PriorityNormal
	}
	if d.StartupType == "" {
		d.StartupType = StartupAutomatic
	}
	if d.EnableHealthMonitoring {
		if d.HeartbeatIntervalSeconds == 0 {
			d.HeartbeatIntervalSeconds = DefaultHeartbeatIntervalSeconds
		}
		if d.MaxFailedChecks == 0 {
			d.MaxFailedChecks = DefaultMaxFailedChecks
		}
		if d.RecoveryActionValue == "" {
			d.RecoveryActionValue = RecoveryNone
		}
		if d.MaxRestartAttempts == nil && d.RecoveryActionValue == RecoveryRestartProcess {
			n := DefaultMaxRestartAttempts
			d.MaxRestartAttempts = &n
		}
	}
	if d.PreLaunchExecutablePath != "" && d.PreLaunchTimeoutSeconds == 0 {
		d.PreLaunchTimeoutSeconds = DefaultPreLaunchTimeoutSeconds
	}
}

// Validate checks the invariants of §3. It does not touch the filesystem or
// the OS principal store; callers (the façade) perform those checks
// separately since they require side effects the data model must stay free
// of.
func (d *Definition) Validate() error {
	const op = "servydef.Validate"
	if strings.TrimSpace(d.Name) == "" {
		return servyerr.New(servyerr.ConfigInvalid, op, fmt.Errorf("name must not be empty"))
	}
	if strings.TrimSpace(d.ExecutablePath) == "" {
		return servyerr.New(servyerr.ConfigInvalid, op, fmt.Errorf("executable_path must not be empty"))
	}
	switch d.Priority {
	case PriorityIdle, PriorityBelowNormal, PriorityNormal, PriorityAboveNormal, PriorityHigh, PriorityRealTime:
	default:
		return servyerr.New(servyerr.ConfigInvalid, op, fmt.Errorf("invalid priority %q", d.Priority))
	}
	switch d.StartupType {
	case StartupAutomatic, StartupManual, StartupDisabled:
	default:
		return servyerr.New(servyerr.ConfigInvalid, op, fmt.Errorf("invalid startup_type %q", d.StartupType))
	}
	if !d.RunAsLocalSystem && strings.TrimSpace(d.UserAccount) == "" {
		return servyerr.New(servyerr.ConfigInvalid, op, fmt.Errorf("user_account required when run_as_local_system is false"))
	}
	if d.EnableRotation && d.RotationSizeBytes != 0 && d.RotationSizeBytes < MinRotationSize {
		return servyerr.New(servyerr.ConfigInvalid, op, fmt.Errorf("rotation_size_bytes must be >= %d when enabled", MinRotationSize))
	}
	if d.EnableHealthMonitoring {
		if d.HeartbeatIntervalSeconds < MinHeartbeatIntervalSeconds {
			return servyerr.New(servyerr.ConfigInvalid, op, fmt.Errorf("heartbeat_interval_seconds must be >= %d", MinHeartbeatIntervalSeconds))
		}
		if d.MaxFailedChecks < 1 {
			return servyerr.New(servyerr.ConfigInvalid, op, fmt.Errorf("max_failed_checks must be >= 1"))
		}
		if d.MaxRestartAttempts != nil && *d.MaxRestartAttempts < 0 {
			return servyerr.New(servyerr.ConfigInvalid, op, fmt.Errorf("max_restart_attempts must be >= 0"))
		}
		switch d.RecoveryActionValue {
		case RecoveryNone, RecoveryRestartProcess, RecoveryRestartService, RecoveryRestartComputer:
		default:
			return servyerr.New(servyerr.ConfigInvalid, op, fmt.Errorf("invalid recovery_action %q", d.RecoveryActionValue))
		}
	}
	if d.PreLaunchExecutablePath != "" {
		if d.PreLaunchTimeoutSeconds < MinPreLaunchTimeoutSeconds {
			return servyerr.New(servyerr.ConfigInvalid, op, fmt.Errorf("pre_launch_timeout_seconds must be >= %d", MinPreLaunchTimeoutSeconds))
		}
		if d.PreLaunchRetryAttempts < 0 {
			return servyerr.New(servyerr.ConfigInvalid, op, fmt.Errorf("pre_launch_retry_attempts must be >= 0"))
		}
	}
	for _, kv := range d.EnvironmentVariables {
		if _, _, ok := strings.Cut(kv, "="); !ok {
			return servyerr.New(servyerr.ConfigInvalid, op, fmt.Errorf("environment_variables entry %q missing '='", kv))
		}
	}
	return nil
}

// ParseEnvironmentList parses a semicolon-or-newline separated K=V list
// (as accepted from the --env command-line flag or an imported document's
// free-form field) into the ordered EnvironmentVariables representation.
func ParseEnvironmentList(s string) ([]string, error) {
	entries, err := envparse.Parse(s)
	if err != nil {
		return nil, servyerr.New(servyerr.ConfigInvalid, "servydef.ParseEnvironmentList", err)
	}
	return entries, nil
}

// NameKey returns the case-insensitive uniqueness key for Name.
func (d *Definition) NameKey() string { return strings.ToLower(d.Name) }

// MaxRestartAttemptsOrZero returns the configured restart ceiling, or 0
// (stop on first failure) when the field was never set.
func (d *Definition) MaxRestartAttemptsOrZero() int {
	if d.MaxRestartAttempts == nil {
		return 0
	}
	return *d.MaxRestartAttempts
}
