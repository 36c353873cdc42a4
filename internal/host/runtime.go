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
	"os"
	"path/filepath"
	"sync"
	"time"

	oversight "cirello.io/oversight/easy"
	"golang.org/x/sync/errgroup"

	"cirello.io/servy/internal/envparse"
	"cirello.io/servy/internal/logwriter"
	"cirello.io/servy/internal/platform"
	"cirello.io/servy/internal/servyerr"
)

// killGrace is the wait before a graceful kill escalates to a forced
// terminate, per §4.F.6.
const killGrace = 5 * time.Second

// Reboot requests an immediate OS restart; the Windows implementation calls
// InitiateSystemShutdownEx, the portable stand-in is a no-op.
type Reboot func(ctx context.Context) error

// Restart launches the out-of-process restarter helper (§4.G) for the
// named service and returns once it has been spawned (it does not wait for
// it to finish; the restarter waits for the service to reach Stopped before
// starting it again).
type Restart func(ctx context.Context, serviceName string) error

// Runtime supervises a single wrapped executable across the five lifecycle
// phases of §4.F. It is constructed once per service-host process.
type Runtime struct {
	Options   *StartOptions
	Spawner   platform.ProcessSpawner
	EventSink platform.EventSink
	Clock     platform.Clock
	Reboot    Reboot
	Restart   Restart

	// StopTimeout is not read by the runtime: shutdown kills the child
	// (bounded by killGrace plus one second), closes the log writers and
	// the process group, and returns without any further configurable wait.
	StopTimeout time.Duration

	mu              sync.Mutex
	failedChecks    int
	restartAttempts int
	recovering      bool
	childHasExited  bool

	group     platform.ProcessGroup
	child     platform.Process
	stdout    *logwriter.Writer
	stderr    *logwriter.Writer
	childDone chan childExit

	stopping bool
}

type childExit struct {
	code int
	err  error
}

// Run executes the full lifecycle until ctx is cancelled (a Stop/Shutdown
// request) or the child exits cleanly without outstanding recovery. It
// returns a non-nil error only for configuration/OS failures that should
// translate into the process exit codes of §6.
func (r *Runtime) Run(ctx context.Context) error {
	const op = "host.Run"
	if r.Clock == nil {
		r.Clock = platform.SystemClock{}
	}
	if err := r.Options.Validate(); err != nil {
		r.logError(err.Error())
		return err
	}

	workDir := r.resolveWorkDir()
	r.Options.Cwd = workDir

	group, err := r.Spawner.NewProcessGroup()
	if err != nil {
		r.logError("cannot create process group: %v", err)
		return servyerr.New(servyerr.OsFailure, op, err)
	}
	r.group = group
	defer r.shutdown(ctx)

	if err := r.runPreLaunch(ctx); err != nil {
		return err
	}

	r.childDone = make(chan childExit, 1)
	if err := r.spawnChild(ctx); err != nil {
		r.logError("child failed to start: %v", err)
		return servyerr.New(servyerr.OsFailure, op, err)
	}

	var healthCtx context.Context
	var healthCancel context.CancelFunc
	if r.Options.EnableHealthMonitoring {
		healthCtx, healthCancel = context.WithCancel(context.Background())
		defer healthCancel()
		r.startHealthTicker(healthCtx)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case exit := <-r.childDone:
			r.mu.Lock()
			alreadyRecovering := r.recovering
			r.mu.Unlock()
			if exit.code == 0 && exit.err == nil && !alreadyRecovering {
				return nil
			}
			// Non-clean exit: treated as a failed health check even
			// without health monitoring enabled, so a crash loop is
			// still visible via the event log.
			r.recordFailedCheck(ctx, fmt.Sprintf("child exited (code=%d err=%v)", exit.code, exit.err))
			if !r.Options.EnableHealthMonitoring {
				return servyerr.New(servyerr.OsFailure, op, fmt.Errorf("child exited non-zero and health monitoring is disabled"))
			}
		}
	}
}

// resolveWorkDir implements §4.F.1.2: fall back to the executable's
// directory, then the OS system directory, when the configured directory
// is missing or invalid.
func (r *Runtime) resolveWorkDir() string {
	cwd := r.Options.Cwd
	if cwd != "" {
		if info, err := os.Stat(cwd); err == nil && info.IsDir() {
			return cwd
		}
	}
	if dir := filepath.Dir(r.Options.Exe); dir != "" && dir != "." {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	return systemDirectory()
}

// spawnChild starts the main child process with layered environment
// (process env + defined vars + %VAR% expansion applied left-to-right) and
// attaches its stdio pumps, per §4.F.3.
func (r *Runtime) spawnChild(ctx context.Context) error {
	env := envparse.Layer(processEnv(), r.Options.Env)
	envSlice := envparse.ToSlice(env)

	if r.Options.StdoutPath != "" {
		r.stdout = logwriter.New(r.Options.StdoutPath, r.Options.Rotate)
		r.stdout.EventSink = r.EventSink
		r.stdout.ServiceName = r.Options.Name
		r.stdout.Clock = r.Clock
	}
	if r.Options.StderrPath != "" {
		r.stderr = logwriter.New(r.Options.StderrPath, r.Options.Rotate)
		r.stderr.EventSink = r.EventSink
		r.stderr.ServiceName = r.Options.Name
		r.stderr.Clock = r.Clock
	}

	stdoutR, stdoutW := newLinePipe()
	stderrR, stderrW := newLinePipe()

	spec := platform.ProcessSpec{
		Path:     r.Options.Exe,
		Args:     splitArgs(r.Options.Args),
		Dir:      r.Options.Cwd,
		Env:      envSlice,
		Priority: string(r.Options.Priority),
		Stdout:   stdoutW,
		Stderr:   stderrW,
	}

	proc, err := r.group.Spawn(ctx, spec)
	if err != nil {
		stdoutW.Close()
		stderrW.Close()
		return err
	}
	r.child = proc

	var pumps errgroup.Group
	pumps.Go(func() error {
		pumpLines(stdoutR, r.stdout, r.EventSink, r.Options.Name, platform.LevelInfo)
		return nil
	})
	pumps.Go(func() error {
		pumpLines(stderrR, r.stderr, r.EventSink, r.Options.Name, platform.LevelWarning)
		return nil
	})
	go pumps.Wait()

	r.mu.Lock()
	r.childHasExited = false
	r.mu.Unlock()
	go func() {
		code, err := proc.Wait(context.Background())
		stdoutW.Close()
		stderrW.Close()
		r.mu.Lock()
		r.childHasExited = true
		r.mu.Unlock()
		r.childDone <- childExit{code: code, err: err}
	}()

	return nil
}

// killChild implements §4.F.6: graceful close, 5 s grace, then forced
// terminate. Errors are swallowed with a warning; they never propagate.
func (r *Runtime) killChild() {
	if r.child == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), killGrace+time.Second)
	defer cancel()
	if err := r.child.Kill(ctx, true, killGrace); err != nil {
		r.logWarn("kill child: %v", err)
	}
}

func (r *Runtime) shutdown(ctx context.Context) {
	r.mu.Lock()
	r.stopping = true
	r.mu.Unlock()

	r.killChild()
	if r.stdout != nil {
		if err := r.stdout.Close(); err != nil {
			r.logWarn("close stdout log: %v", err)
		}
	}
	if r.stderr != nil {
		if err := r.stderr.Close(); err != nil {
			r.logWarn("close stderr log: %v", err)
		}
	}
	if r.group != nil {
		if err := r.group.Close(); err != nil {
			r.logWarn("close process group: %v", err)
		}
	}
}

func (r *Runtime) logWarn(format string, args ...any) {
	if r.EventSink == nil {
		return
	}
	r.EventSink.Write(platform.LevelWarning, r.Options.Name, fmt.Sprintf(format, args...))
}

func (r *Runtime) logInfo(format string, args ...any) {
	if r.EventSink == nil {
		return
	}
	r.EventSink.Write(platform.LevelInfo, r.Options.Name, fmt.Sprintf(format, args...))
}

func (r *Runtime) logError(format string, args ...any) {
	if r.EventSink == nil {
		return
	}
	r.EventSink.Write(platform.LevelError, r.Options.Name, fmt.Sprintf(format, args...))
}

// startHealthTicker runs the heartbeat loop under an oversight-supervised
// goroutine, so a panic in a single tick restarts the ticker rather than
// silently stopping all health monitoring.
func (r *Runtime) startHealthTicker(ctx context.Context) {
	supCtx := oversight.WithContext(ctx)
	interval := time.Duration(r.Options.HeartbeatSeconds) * time.Second
	oversight.Add(supCtx, func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-r.Clock.After(interval):
				r.tick(ctx)
			}
		}
	}, oversight.RestartWith(oversight.Permanent()))
}
