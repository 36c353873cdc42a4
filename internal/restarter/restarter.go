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

// Package restarter implements the out-of-process restart helper of §4.G:
// a service cannot restart itself through SCM, since stopping it would
// cancel the very goroutine issuing the Start call. A standalone process
// waits for the service to reach Stopped, then issues Start.
package restarter

import (
	"context"
	"fmt"
	"time"

	"cirello.io/servy/internal/platform"
	"cirello.io/servy/internal/servyerr"
)

// StopWait and StartWait bound how long the restarter waits for each status
// transition, per §4.G.
const (
	StopWait  = 60 * time.Second
	StartWait = 60 * time.Second
)

// Run opens name via control, waits for it to reach Stopped, issues Start,
// then waits for it to reach Running. It is meant to be invoked from a
// freshly spawned process, not from inside the very service being
// restarted.
func Run(ctx context.Context, control platform.ServiceControl, name string) error {
	const op = "restarter.Run"
	if name == "" {
		return servyerr.New(servyerr.ConfigInvalid, op, fmt.Errorf("service name is required"))
	}

	if _, err := control.Query(ctx, name); err != nil {
		return servyerr.New(servyerr.NotFound, op, fmt.Errorf("open service %q: %w", name, err))
	}

	if err := control.WaitForStatus(ctx, name, platform.StatusStopped, StopWait); err != nil {
		return servyerr.New(servyerr.Timeout, op, fmt.Errorf("waiting for %q to stop: %w", name, err))
	}

	if err := control.Start(ctx, name); err != nil {
		return servyerr.New(servyerr.OsFailure, op, fmt.Errorf("starting %q: %w", name, err))
	}

	if err := control.WaitForStatus(ctx, name, platform.StatusRunning, StartWait); err != nil {
		return servyerr.New(servyerr.Timeout, op, fmt.Errorf("waiting for %q to run: %w", name, err))
	}

	return nil
}
