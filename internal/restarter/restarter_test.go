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

package restarter

import (
	"context"
	"testing"
	"time"

	"cirello.io/servy/internal/platform"
)

func TestRun_StopsThenStarts(t *testing.T) {
	control := platform.NewServiceControl()
	if err := control.CreateService(context.Background(), platform.ServiceConfig{Name: "S1"}); err != nil {
		t.Fatal(err)
	}
	if err := control.Start(context.Background(), "S1"); err != nil {
		t.Fatal(err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		control.Stop(context.Background(), "S1")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := Run(ctx, control, "S1"); err != nil {
		t.Fatalf("Run() = %v", err)
	}

	status, err := control.Query(context.Background(), "S1")
	if err != nil {
		t.Fatal(err)
	}
	if status != platform.StatusRunning {
		t.Fatalf("status = %s, want Running", status)
	}
}

func TestRun_UnknownServiceFails(t *testing.T) {
	control := platform.NewServiceControl()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := Run(ctx, control, "ghost"); err == nil {
		t.Fatal("expected error for unknown service")
	}
}

func TestRun_EmptyNameRejected(t *testing.T) {
	control := platform.NewServiceControl()
	if err := Run(context.Background(), control, ""); err == nil {
		t.Fatal("expected error for empty service name")
	}
}
