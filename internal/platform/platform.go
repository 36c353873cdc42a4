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

// Package platform defines the capability interfaces the rest of servy
// depends on instead of constructing OS objects directly: service control,
// process supervision, credential validation, secret sealing, and the event
// sink. Each has a windows implementation backed by golang.org/x/sys/windows
// and a portable stand-in so the rest of the module builds and tests
// everywhere.
package platform

import (
	"context"
	"io"
	"time"
)

// ServiceStatus mirrors the SCM service status enum.
type ServiceStatus string

// Service statuses.
const (
	StatusStopped         ServiceStatus = "Stopped"
	StatusStartPending    ServiceStatus = "StartPending"
	StatusStopPending     ServiceStatus = "StopPending"
	StatusRunning         ServiceStatus = "Running"
	StatusContinuePending ServiceStatus = "ContinuePending"
	StatusPausePending    ServiceStatus = "PausePending"
	StatusPaused          ServiceStatus = "Paused"
)

// ServiceConfig is the SCM registration shape built by the façade's install
// operation.
type ServiceConfig struct {
	Name             string
	DisplayName      string
	Description      string
	BinaryPathName   string // the host runtime executable + its argument vector
	StartType        string // maps servydef.StartupType
	Dependencies     []string
	RunAsLocalSystem bool
	UserAccount      string
	Password         string // cleartext, transient, zeroed by the caller after use
}

// ServiceControl wraps the OS service control manager.
type ServiceControl interface {
	CreateService(ctx context.Context, cfg ServiceConfig) error
	UpdateService(ctx context.Context, cfg ServiceConfig) error
	DeleteService(ctx context.Context, name string) error
	SetRecoveryPolicy(ctx context.Context, name string, restartDelay time.Duration) error
	Query(ctx context.Context, name string) (ServiceStatus, error)
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	WaitForStatus(ctx context.Context, name string, want ServiceStatus, timeout time.Duration) error
	StartupType(ctx context.Context, name string) (string, error)
}

// ProcessSpec describes a process to spawn inside a process group.
type ProcessSpec struct {
	Path       string
	Args       []string
	Dir        string
	Env        []string
	Priority   string // servydef.Priority
	Stdout     io.Writer
	Stderr     io.Writer
}

// Process is a live child process owned exclusively by its creator.
type Process interface {
	Pid() int
	// Wait blocks until the process exits or ctx is cancelled, returning
	// the exit code (or -1 if unknown/cancelled).
	Wait(ctx context.Context) (exitCode int, err error)
	// Kill attempts a graceful stop first (graceful=true) falling back to
	// a forced terminate after the grace period; graceful=false terminates
	// immediately.
	Kill(ctx context.Context, graceful bool, gracePeriod time.Duration) error
}

// ProcessGroup links a set of spawned processes so they can be terminated
// together (the "process-group"/job-object of §4.A); closing it terminates
// any surviving descendants.
type ProcessGroup interface {
	Spawn(ctx context.Context, spec ProcessSpec) (Process, error)
	Close() error
}

// ProcessSpawner creates process groups with kill-on-host-exit semantics
// enabled.
type ProcessSpawner interface {
	NewProcessGroup() (ProcessGroup, error)
}

// CredentialValidator verifies (user, password) against the local or
// domain authority.
type CredentialValidator interface {
	Validate(ctx context.Context, user, password string) error
}

// SecretSealer seals/unseals a byte array bound to the local machine; used
// to persist the master keying material of the secure-data engine.
type SecretSealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Unseal(sealed []byte) ([]byte, error)
}

// EventLevel is the severity of an event sink entry.
type EventLevel int

// Event levels.
const (
	LevelInfo EventLevel = iota
	LevelWarning
	LevelError
)

// EventSink writes structured entries to the OS event log under a fixed
// source, registering the source if absent.
type EventSink interface {
	EnsureSource() error
	Write(level EventLevel, serviceName, message string) error
}

// Clock abstracts wall-clock access so the health timer and the rotated-log
// timestamps can be driven deterministically in tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// SystemClock is the production Clock backed by the time package.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }

// After implements Clock.
func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
