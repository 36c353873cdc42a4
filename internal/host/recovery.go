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

package host

import (
	"context"

	"cirello.io/servy/internal/servydef"
)

// tick runs one heartbeat evaluation, per the §4.F.4 pseudocode: the
// `recovering` latch is a non-blocking re-entrance guard, and
// failedChecks/restartAttempts are protected by the same mutex so the
// health ticker and the child-exit handler can never race.
func (r *Runtime) tick(ctx context.Context) {
	r.mu.Lock()
	if r.recovering {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	r.mu.Lock()
	healthy := r.child != nil && !r.childHasExited
	r.mu.Unlock()
	if !healthy {
		r.recordFailedCheck(ctx, "health check failed")
		return
	}

	r.mu.Lock()
	hadFailures := r.failedChecks > 0
	r.failedChecks = 0
	r.mu.Unlock()
	if hadFailures {
		r.logInfo("child process is healthy")
	}
}

// recordFailedCheck increments failedChecks and, once the threshold is
// reached, drives execute_recovery under the recovering latch.
func (r *Runtime) recordFailedCheck(ctx context.Context, reason string) {
	r.mu.Lock()
	if r.recovering {
		r.mu.Unlock()
		return
	}
	r.failedChecks++
	failed := r.failedChecks
	maxFailed := r.Options.MaxFailed
	if maxFailed <= 0 {
		maxFailed = servydef.DefaultMaxFailedChecks
	}
	r.logWarn("%s (%d/%d)", reason, failed, maxFailed)
	if failed < maxFailed {
		r.mu.Unlock()
		return
	}
	r.recovering = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.recovering = false
		r.mu.Unlock()
	}()
	r.executeRecovery(ctx)
}

// executeRecovery implements the four recovery actions of §4.F.4.
func (r *Runtime) executeRecovery(ctx context.Context) {
	switch r.Options.Recovery {
	case servydef.RecoveryNone, "":
		r.mu.Lock()
		r.failedChecks = 0
		r.mu.Unlock()

	case servydef.RecoveryRestartProcess:
		r.mu.Lock()
		attempts := r.restartAttempts
		maxRestarts := r.Options.MaxRestarts
		r.mu.Unlock()
		if attempts >= maxRestarts {
			r.logError("recovery exhausted after %d restart attempts, no further restarts", attempts)
			return
		}
		r.killChild()
		r.mu.Lock()
		r.failedChecks = 0
		r.mu.Unlock()
		if err := r.spawnChild(ctx); err != nil {
			r.logError("recovery respawn failed: %v", err)
			return
		}
		r.mu.Lock()
		r.restartAttempts++
		r.mu.Unlock()

	case servydef.RecoveryRestartService:
		if r.Restart == nil {
			r.logError("restart_service requested but no restarter is configured")
			return
		}
		if err := r.Restart(ctx, r.Options.Name); err != nil {
			r.logError("launching restarter failed: %v", err)
		}

	case servydef.RecoveryRestartComputer:
		if r.Reboot == nil {
			r.logError("restart_computer requested but no reboot hook is configured")
			return
		}
		if err := r.Reboot(ctx); err != nil {
			r.logError("OS reboot request failed: %v", err)
		}

	default:
		r.logError("unknown recovery action %q", r.Options.Recovery)
	}
}
