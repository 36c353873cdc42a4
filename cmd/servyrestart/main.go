/*
Command servyrestart is the out-of-process restart helper described in
§4.G of the service host design: a running service cannot restart itself
through SCM, because stopping it would cancel the very goroutine issuing
the Start call afterward. servyrestart is spawned as a detached process,
waits for the named service to reach Stopped, then starts it again and
waits for it to reach Running.

Usage:

	servyrestart <service-name>

Exit codes follow §6: 0 normal, 1 configuration invalid, 4 OS call failed.
*/
package main // import "cirello.io/servy/cmd/servyrestart"

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"cirello.io/servy/internal/platform"
	"cirello.io/servy/internal/restarter"
	"cirello.io/servy/internal/servyerr"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	if len(argv) != 1 || argv[0] == "" {
		fmt.Fprintln(os.Stderr, "servyrestart: usage: servyrestart <service-name>")
		return 1
	}
	name := argv[0]

	ctx, cancel := context.WithTimeout(context.Background(), restarter.StopWait+restarter.StartWait+10*time.Second)
	defer cancel()

	control := platform.NewServiceControl()
	if err := restarter.Run(ctx, control, name); err != nil {
		fmt.Fprintf(os.Stderr, "servyrestart: %v\n", err)
		return exitCodeFor(err)
	}
	return 0
}

func exitCodeFor(err error) int {
	var se *servyerr.Error
	if errors.As(err, &se) {
		switch se.Kind {
		case servyerr.ConfigInvalid, servyerr.NotFound:
			return 1
		}
	}
	return 4
}
