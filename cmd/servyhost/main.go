/*
Command servyhost is the service host runtime of §4.F: it is the binary
SCM actually launches for every installed service, with the service's own
identity and configuration encoded entirely in its command line (built by
internal/servicemgr's façade at install time, per §6).

servyctl install wires it as the target of every service it registers;
an operator runs it directly only for -version or the -debug
troubleshooting mode.
*/
package main // import "cirello.io/servy/cmd/servyhost"

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"cirello.io/servy/internal/host"
	"cirello.io/servy/internal/platform"
	"cirello.io/servy/internal/servyerr"
)

// version is set via -ldflags "-X main.version=..." at release build time.
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	opts, err := host.ParseArgs(argv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "servyhost: %v\n", err)
		return 1
	}
	if opts.Version {
		fmt.Println("servyhost", version)
		return 0
	}
	if err := opts.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "servyhost: %v\n", err)
		return 1
	}

	sink := platform.NewEventSink("Servy")
	if err := sink.EnsureSource(); err != nil {
		fmt.Fprintf(os.Stderr, "servyhost: event source: %v\n", err)
	}

	rt := &host.Runtime{
		Options:   opts,
		Spawner:   platform.NewProcessSpawner(),
		EventSink: sink,
		Clock:     platform.SystemClock{},
		Reboot:    platform.Reboot,
		Restart:   restarterLauncher(opts.RestarterPath),
	}

	var runErr error
	if opts.Debug || !host.IsWindowsService() {
		runErr = host.RunDebug(rt)
	} else {
		runErr = host.RunAsService(opts.Name, rt)
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "servyhost: %v\n", runErr)
		return exitCodeFor(runErr)
	}
	return 0
}

// restarterLauncher builds a host.Runtime.Restart hook that spawns the
// standalone servyrestart helper (§4.G) and returns as soon as it is
// running; it does not wait for it to finish, since the restarter waits
// for this very service to reach Stopped before starting it again.
//
// searchDir, when non-empty, is the --restarter-path override; otherwise
// the helper is looked up next to this binary, per §5.F/§9's resolved
// search-path decision (never by self-extraction).
func restarterLauncher(searchDir string) func(ctx context.Context, serviceName string) error {
	return func(ctx context.Context, serviceName string) error {
		self, err := os.Executable()
		if err != nil {
			return err
		}
		dir := searchDir
		if dir == "" {
			dir = filepath.Dir(self)
		}
		helper := filepath.Join(dir, "servyrestart"+filepath.Ext(self))
		cmd := exec.Command(helper, serviceName)
		return cmd.Start()
	}
}

func exitCodeFor(err error) int {
	var se *servyerr.Error
	if errors.As(err, &se) {
		switch se.Kind {
		case servyerr.ConfigInvalid:
			return 1
		case servyerr.OsFailure:
			return 2
		}
	}
	return 3
}
