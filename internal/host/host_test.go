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
	"sync"
	"testing"
	"time"

	"cirello.io/servy/internal/platform"
	"cirello.io/servy/internal/servydef"
)

// fakeProcess is a deterministic, in-memory stand-in for platform.Process,
// letting host lifecycle tests run without spawning real OS processes.
type fakeProcess struct {
	mu       sync.Mutex
	exitCode int
	exitErr  error
	done     chan struct{}
	killed   bool
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{done: make(chan struct{})}
}

func (p *fakeProcess) finish(code int, err error) {
	p.mu.Lock()
	p.exitCode, p.exitErr = code, err
	p.mu.Unlock()
	close(p.done)
}

func (p *fakeProcess) Pid() int { return 4242 }

func (p *fakeProcess) Wait(ctx context.Context) (int, error) {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.exitCode, p.exitErr
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

func (p *fakeProcess) Kill(ctx context.Context, graceful bool, gracePeriod time.Duration) error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	select {
	case <-p.done:
	default:
		p.finish(-1, nil)
	}
	return nil
}

// fakeGroup is a deterministic stand-in for platform.ProcessGroup.
type fakeGroup struct {
	mu      sync.Mutex
	spawned []*fakeProcess
	spawnFn func(spec platform.ProcessSpec) *fakeProcess
	closed  bool
}

func (g *fakeGroup) Spawn(ctx context.Context, spec platform.ProcessSpec) (platform.Process, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var p *fakeProcess
	if g.spawnFn != nil {
		p = g.spawnFn(spec)
	} else {
		p = newFakeProcess()
	}
	g.spawned = append(g.spawned, p)
	// stdio pipes are left open; spawnChild/runPreLaunchOnce close their
	// write ends once proc.Wait returns, which is what unblocks the
	// pumpLines goroutines reading the other end.
	return p, nil
}

func (g *fakeGroup) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

type fakeSpawner struct {
	group *fakeGroup
}

func (s *fakeSpawner) NewProcessGroup() (platform.ProcessGroup, error) {
	return s.group, nil
}

func baseOptions() *StartOptions {
	return &StartOptions{
		Name:     "worker",
		Exe:      "/bin/worker",
		Priority: servydef.PriorityNormal,
	}
}

func TestParseArgs_Basic(t *testing.T) {
	opts, err := ParseArgs([]string{
		"--name", " worker ",
		"--exe", `"C:\svc\app.exe"`,
		"--args", "--flag value",
		"--rotate", "1048576",
		"--env", "A=1;B=2",
		"--heartbeat", "30",
		"--max-failed", "3",
		"--recovery", "RestartProcess",
	})
	if err != nil {
		t.Fatal(err)
	}
	if opts.Name != "worker" {
		t.Fatalf("name = %q", opts.Name)
	}
	if opts.Exe != `C:\svc\app.exe` {
		t.Fatalf("exe = %q", opts.Exe)
	}
	if !opts.EnableHealthMonitoring {
		t.Fatal("expected health monitoring enabled from --heartbeat")
	}
	if opts.Recovery != servydef.RecoveryRestartProcess {
		t.Fatalf("recovery = %q", opts.Recovery)
	}
	if len(opts.Env) != 2 {
		t.Fatalf("env = %v", opts.Env)
	}
}

func TestParseArgs_RequiresNameAndExe(t *testing.T) {
	opts, err := ParseArgs([]string{"--args", "whatever"})
	if err != nil {
		t.Fatal(err)
	}
	if err := opts.Validate(); err == nil {
		t.Fatal("expected validation error for missing --name/--exe")
	}
}

func TestRun_CleanExitStopsService(t *testing.T) {
	group := &fakeGroup{spawnFn: func(spec platform.ProcessSpec) *fakeProcess {
		p := newFakeProcess()
		p.finish(0, nil)
		return p
	}}
	rt := &Runtime{Options: baseOptions(), Spawner: &fakeSpawner{group: group}}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rt.Run(ctx); err != nil {
		t.Fatalf("expected clean stop, got error: %v", err)
	}
}

func TestRun_NonCleanExitWithoutHealthMonitoringFails(t *testing.T) {
	group := &fakeGroup{spawnFn: func(spec platform.ProcessSpec) *fakeProcess {
		p := newFakeProcess()
		p.finish(1, nil)
		return p
	}}
	rt := &Runtime{Options: baseOptions(), Spawner: &fakeSpawner{group: group}}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rt.Run(ctx); err == nil {
		t.Fatal("expected error for non-clean exit with health monitoring disabled")
	}
}

func TestRecovery_RestartProcessRespawnsChild(t *testing.T) {
	group := &fakeGroup{}
	var spawnCount int
	group.spawnFn = func(spec platform.ProcessSpec) *fakeProcess {
		spawnCount++
		return newFakeProcess() // stays alive until explicitly finished/killed
	}

	opts := baseOptions()
	opts.EnableHealthMonitoring = true
	opts.MaxFailed = 2
	opts.MaxRestarts = 3
	opts.Recovery = servydef.RecoveryRestartProcess

	rt := &Runtime{
		Options: opts,
		Spawner: &fakeSpawner{group: group},
		Clock:   platform.SystemClock{},
	}
	rt.group = group
	rt.childDone = make(chan childExit, 1)
	if err := rt.spawnChild(context.Background()); err != nil {
		t.Fatal(err)
	}
	if spawnCount != 1 {
		t.Fatalf("spawnCount = %d", spawnCount)
	}

	ctx := context.Background()
	rt.recordFailedCheck(ctx, "synthetic failure")
	rt.recordFailedCheck(ctx, "synthetic failure")

	if spawnCount != 2 {
		t.Fatalf("expected respawn after reaching max_failed_checks, spawnCount = %d", spawnCount)
	}
	rt.mu.Lock()
	attempts := rt.restartAttempts
	failed := rt.failedChecks
	rt.mu.Unlock()
	if attempts != 1 {
		t.Fatalf("restartAttempts = %d, want 1", attempts)
	}
	if failed != 0 {
		t.Fatalf("failedChecks = %d, want 0 after respawn", failed)
	}
}

func TestRecovery_ExhaustedRestartsStopsTrying(t *testing.T) {
	group := &fakeGroup{}
	var spawnCount int
	group.spawnFn = func(spec platform.ProcessSpec) *fakeProcess {
		spawnCount++
		return newFakeProcess()
	}

	opts := baseOptions()
	opts.EnableHealthMonitoring = true
	opts.MaxFailed = 1
	opts.MaxRestarts = 1
	opts.Recovery = servydef.RecoveryRestartProcess

	rt := &Runtime{Options: opts, Spawner: &fakeSpawner{group: group}, Clock: platform.SystemClock{}}
	rt.group = group
	rt.childDone = make(chan childExit, 1)
	if err := rt.spawnChild(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	rt.recordFailedCheck(ctx, "fail") // triggers restart #1 (attempts 0 -> 1)
	if spawnCount != 2 {
		t.Fatalf("spawnCount after first recovery = %d, want 2", spawnCount)
	}
	rt.recordFailedCheck(ctx, "fail") // attempts(1) >= maxRestarts(1): no further respawn
	if spawnCount != 2 {
		t.Fatalf("spawnCount after exhausted recovery = %d, want still 2", spawnCount)
	}
}

func TestRecovery_NoneClearsFailedChecks(t *testing.T) {
	group := &fakeGroup{spawnFn: func(spec platform.ProcessSpec) *fakeProcess { return newFakeProcess() }}
	opts := baseOptions()
	opts.EnableHealthMonitoring = true
	opts.MaxFailed = 1
	opts.Recovery = servydef.RecoveryNone

	rt := &Runtime{Options: opts, Spawner: &fakeSpawner{group: group}, Clock: platform.SystemClock{}}
	rt.group = group
	rt.childDone = make(chan childExit, 1)
	if err := rt.spawnChild(context.Background()); err != nil {
		t.Fatal(err)
	}

	rt.recordFailedCheck(context.Background(), "fail")
	rt.mu.Lock()
	failed := rt.failedChecks
	rt.mu.Unlock()
	if failed != 0 {
		t.Fatalf("failedChecks = %d, want 0 after RecoveryNone", failed)
	}
}

func TestTick_HealthyClearsFailedChecks(t *testing.T) {
	group := &fakeGroup{spawnFn: func(spec platform.ProcessSpec) *fakeProcess { return newFakeProcess() }}
	opts := baseOptions()
	opts.EnableHealthMonitoring = true
	opts.MaxFailed = 5

	rt := &Runtime{Options: opts, Spawner: &fakeSpawner{group: group}, Clock: platform.SystemClock{}}
	rt.group = group
	rt.childDone = make(chan childExit, 1)
	if err := rt.spawnChild(context.Background()); err != nil {
		t.Fatal(err)
	}
	rt.mu.Lock()
	rt.failedChecks = 2
	rt.mu.Unlock()

	rt.tick(context.Background())

	rt.mu.Lock()
	failed := rt.failedChecks
	rt.mu.Unlock()
	if failed != 0 {
		t.Fatalf("failedChecks = %d, want 0 after healthy tick", failed)
	}
}

func TestSplitArgs_HonorsQuotes(t *testing.T) {
	got := splitArgs(`--config "C:\Program Files\app.conf" --verbose`)
	want := []string{"--config", `C:\Program Files\app.conf`, "--verbose"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
