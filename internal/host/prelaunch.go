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
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"cirello.io/servy/internal/envparse"
	"cirello.io/servy/internal/logwriter"
	"cirello.io/servy/internal/platform"
	"cirello.io/servy/internal/servyerr"
)

// runPreLaunch implements §4.F.2: spawn the pre-launch process (if
// configured), bounded by its own timeout, retried up to
// pre_launch_retry_attempts times, with ignore-failure as an escape hatch.
func (r *Runtime) runPreLaunch(ctx context.Context) error {
	const op = "host.runPreLaunch"
	if r.Options.PreExe == "" {
		return nil
	}

	timeout := time.Duration(r.Options.PreTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var lastErr error
	attempts := r.Options.PreRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return servyerr.New(servyerr.Cancelled, op, err)
		}
		if lastErr != nil {
			r.logWarn("pre-launch attempt %d failed: %v, retrying", attempt, lastErr)
		}
		lastErr = r.runPreLaunchOnce(ctx, timeout)
		if lastErr == nil {
			return nil
		}
	}

	if r.Options.PreIgnoreFailure {
		r.logWarn("pre-launch failed after %d attempts, continuing because pre_launch_ignore_failure is set: %v", attempts, lastErr)
		return nil
	}
	r.logError("pre-launch failed after %d attempts: %v", attempts, lastErr)
	return servyerr.New(servyerr.OsFailure, op, lastErr)
}

func (r *Runtime) runPreLaunchOnce(ctx context.Context, timeout time.Duration) error {
	env := envparse.Layer(processEnv(), r.Options.PreEnv)

	var stdout, stderr *logwriter.Writer
	if r.Options.PreStdoutPath != "" {
		stdout = logwriter.New(r.Options.PreStdoutPath, 0)
		stdout.EventSink = r.EventSink
		stdout.ServiceName = r.Options.Name
	}
	if r.Options.PreStderrPath != "" {
		stderr = logwriter.New(r.Options.PreStderrPath, 0)
		stderr.EventSink = r.EventSink
		stderr.ServiceName = r.Options.Name
	}

	outR, outW := newLinePipe()
	errR, errW := newLinePipe()

	spec := platform.ProcessSpec{
		Path: r.Options.PreExe,
		Args: splitArgs(r.Options.PreArgs),
		Dir:  r.Options.PreCwd,
		Env:  envparse.ToSlice(env),
		Stdout: outW,
		Stderr: errW,
	}

	proc, err := r.group.Spawn(ctx, spec)
	if err != nil {
		outW.Close()
		errW.Close()
		return fmt.Errorf("spawn pre-launch process: %w", err)
	}

	var pumps errgroup.Group
	pumps.Go(func() error {
		pumpLines(outR, stdout, r.EventSink, r.Options.Name, platform.LevelInfo)
		return nil
	})
	pumps.Go(func() error {
		pumpLines(errR, stderr, r.EventSink, r.Options.Name, platform.LevelWarning)
		return nil
	})
	defer func() { go pumps.Wait() }()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	code, err := proc.Wait(waitCtx)
	outW.Close()
	errW.Close()
	if stdout != nil {
		stdout.Close()
	}
	if stderr != nil {
		stderr.Close()
	}

	if waitCtx.Err() != nil {
		proc.Kill(context.Background(), false, killGrace)
		return fmt.Errorf("pre-launch process timed out after %s", timeout)
	}
	if err != nil {
		return fmt.Errorf("pre-launch process wait: %w", err)
	}
	if code != 0 {
		return fmt.Errorf("pre-launch process exited with code %d", code)
	}
	return nil
}
