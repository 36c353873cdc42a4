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

package servydef

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"cirello.io/servy/internal/servyerr"
)

func validDefinition() Definition {
	return Definition{
		Name:             "worker",
		ExecutablePath:   `C:\svc\worker.exe`,
		Priority:         PriorityNormal,
		StartupType:      StartupAutomatic,
		RunAsLocalSystem: true,
	}
}

func TestApplyDefaults_FillsDocumentedDefaults(t *testing.T) {
	d := Definition{Name: "worker", ExecutablePath: `C:\svc\worker.exe`, EnableHealthMonitoring: true}
	d.ApplyDefaults()

	want := Definition{
		Name:                     "worker",
		ExecutablePath:           `C:\svc\worker.exe`,
		Priority:                 PriorityNormal,
		StartupType:              StartupAutomatic,
		EnableHealthMonitoring:   true,
		HeartbeatIntervalSeconds: DefaultHeartbeatIntervalSeconds,
		MaxFailedChecks:          DefaultMaxFailedChecks,
		RecoveryActionValue:      RecoveryNone,
	}
	if diff := cmp.Diff(want, d); diff != "" {
		t.Errorf("ApplyDefaults result mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyDefaults_RestartProcessGetsMaxRestartAttempts(t *testing.T) {
	d := Definition{
		Name: "worker", ExecutablePath: "x",
		EnableHealthMonitoring: true,
		RecoveryActionValue:    RecoveryRestartProcess,
	}
	d.ApplyDefaults()
	if d.MaxRestartAttempts == nil || *d.MaxRestartAttempts != DefaultMaxRestartAttempts {
		t.Errorf("MaxRestartAttempts = %v, want %d", d.MaxRestartAttempts, DefaultMaxRestartAttempts)
	}
}

func TestApplyDefaults_RestartProcessWithExplicitZeroStaysZero(t *testing.T) {
	zero := 0
	d := Definition{
		Name: "worker", ExecutablePath: "x",
		EnableHealthMonitoring: true,
		RecoveryActionValue:    RecoveryRestartProcess,
		MaxRestartAttempts:     &zero,
	}
	d.ApplyDefaults()
	if d.MaxRestartAttempts == nil || *d.MaxRestartAttempts != 0 {
		t.Errorf("MaxRestartAttempts = %v, want a pointer to 0 (explicit value must survive defaulting)", d.MaxRestartAttempts)
	}
}

func TestValidate_AcceptsWellFormedDefinition(t *testing.T) {
	d := validDefinition()
	if err := d.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidate_RejectsMissingFields(t *testing.T) {
	cases := []struct {
		name string
		mod  func(*Definition)
	}{
		{"empty name", func(d *Definition) { d.Name = "" }},
		{"empty executable path", func(d *Definition) { d.ExecutablePath = "" }},
		{"invalid priority", func(d *Definition) { d.Priority = "Turbo" }},
		{"invalid startup type", func(d *Definition) { d.StartupType = "Sometimes" }},
		{"missing user account", func(d *Definition) { d.RunAsLocalSystem = false; d.UserAccount = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := validDefinition()
			tc.mod(&d)
			err := d.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want an error")
			}
			var se *servyerr.Error
			if !errors.As(err, &se) || se.Kind != servyerr.ConfigInvalid {
				t.Errorf("Validate() kind = %v, want ConfigInvalid", se)
			}
		})
	}
}

func TestValidate_RotationSizeBelowMinimumRejected(t *testing.T) {
	d := validDefinition()
	d.EnableRotation = true
	d.RotationSizeBytes = MinRotationSize - 1
	if err := d.Validate(); err == nil {
		t.Fatal("Validate() = nil, want an error for undersized rotation_size_bytes")
	}
}

func TestValidate_HealthMonitoringRequiresSaneThresholds(t *testing.T) {
	d := validDefinition()
	d.EnableHealthMonitoring = true
	d.HeartbeatIntervalSeconds = MinHeartbeatIntervalSeconds - 1
	d.MaxFailedChecks = 1
	d.RecoveryActionValue = RecoveryNone
	if err := d.Validate(); err == nil {
		t.Fatal("Validate() = nil, want an error for too-short heartbeat interval")
	}
}

func TestValidate_EnvironmentEntryMissingEqualsRejected(t *testing.T) {
	d := validDefinition()
	d.EnvironmentVariables = []string{"NOTAPAIR"}
	if err := d.Validate(); err == nil {
		t.Fatal("Validate() = nil, want an error for a malformed environment entry")
	}
}

func TestNameKey_IsCaseInsensitive(t *testing.T) {
	d := Definition{Name: "MyService"}
	if got, want := d.NameKey(), "myservice"; got != want {
		t.Errorf("NameKey() = %q, want %q", got, want)
	}
}

func TestParseEnvironmentList_ParsesAndWrapsErrorsAsConfigInvalid(t *testing.T) {
	got, err := ParseEnvironmentList("A=1;B=2")
	if err != nil {
		t.Fatalf("ParseEnvironmentList: %v", err)
	}
	if diff := cmp.Diff([]string{"A=1", "B=2"}, got); diff != "" {
		t.Errorf("ParseEnvironmentList result mismatch (-want +got):\n%s", diff)
	}

	_, err = ParseEnvironmentList("NOPE")
	var se *servyerr.Error
	if !errors.As(err, &se) || se.Kind != servyerr.ConfigInvalid {
		t.Errorf("ParseEnvironmentList error kind = %v, want ConfigInvalid", se)
	}
}
