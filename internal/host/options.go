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

// Package host implements the service host runtime: the five-phase
// lifecycle (startup, pre-launch, running, recovery, shutdown) that SCM
// launches to supervise a wrapped executable, per §4.F.
package host

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"cirello.io/servy/internal/envparse"
	"cirello.io/servy/internal/servydef"
	"cirello.io/servy/internal/servyerr"
)

// StartOptions is the parsed command line the host runtime was launched
// with, per §6.
type StartOptions struct {
	Name     string
	Exe      string
	Args     string
	Cwd      string
	Priority servydef.Priority

	StdoutPath string
	StderrPath string
	Rotate     int64

	Env []string

	EnableHealthMonitoring bool
	HeartbeatSeconds       int
	MaxFailed              int
	MaxRestarts            int
	Recovery               servydef.RecoveryAction

	PreExe           string
	PreArgs          string
	PreCwd           string
	PreEnv           []string
	PreStdoutPath    string
	PreStderrPath    string
	PreTimeout       int
	PreRetries       int
	PreIgnoreFailure bool

	// RestarterPath overrides where cmd/servyhost's restarterLauncher looks for the
	// servyrestart helper binary. Empty means "the directory of the host
	// binary itself", per §5.F/§9's resolved restarter-search-path design
	// decision: never by self-extraction.
	RestarterPath string

	Debug   bool
	Version bool
}

// sanitizeToken trims surrounding whitespace and, if present, a single
// layer of matching double quotes, per §4.F.1's command-line sanitization
// rule.
func sanitizeToken(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	return strings.TrimSpace(s)
}

// ParseArgs parses argv (excluding the program name) into a StartOptions.
func ParseArgs(argv []string) (*StartOptions, error) {
	const op = "host.ParseArgs"
	opts := &StartOptions{}

	app := &cli.App{
		Name:           "servyhost",
		HideHelp:       true,
		HideVersion:    true,
		ExitErrHandler: func(*cli.Context, error) {},
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name"},
			&cli.StringFlag{Name: "exe"},
			&cli.StringFlag{Name: "args"},
			&cli.StringFlag{Name: "cwd"},
			&cli.StringFlag{Name: "priority", Value: string(servydef.PriorityNormal)},
			&cli.StringFlag{Name: "stdout"},
			&cli.StringFlag{Name: "stderr"},
			&cli.Int64Flag{Name: "rotate"},
			&cli.StringFlag{Name: "env"},
			&cli.IntFlag{Name: "heartbeat"},
			&cli.IntFlag{Name: "max-failed"},
			&cli.IntFlag{Name: "max-restarts"},
			&cli.StringFlag{Name: "recovery", Value: string(servydef.RecoveryNone)},
			&cli.StringFlag{Name: "pre-exe"},
			&cli.StringFlag{Name: "pre-args"},
			&cli.StringFlag{Name: "pre-cwd"},
			&cli.StringFlag{Name: "pre-env"},
			&cli.StringFlag{Name: "pre-stdout"},
			&cli.StringFlag{Name: "pre-stderr"},
			&cli.IntFlag{Name: "pre-timeout"},
			&cli.IntFlag{Name: "pre-retries"},
			&cli.BoolFlag{Name: "pre-ignore-failure"},
			&cli.StringFlag{Name: "restarter-path"},
			&cli.BoolFlag{Name: "debug"},
			&cli.BoolFlag{Name: "version"},
		},
		Action: func(c *cli.Context) error {
			opts.Name = sanitizeToken(c.String("name"))
			opts.Exe = sanitizeToken(c.String("exe"))
			opts.Args = sanitizeToken(c.String("args"))
			opts.Cwd = sanitizeToken(c.String("cwd"))
			opts.Priority = servydef.Priority(sanitizeToken(c.String("priority")))
			opts.StdoutPath = sanitizeToken(c.String("stdout"))
			opts.StderrPath = sanitizeToken(c.String("stderr"))
			opts.Rotate = c.Int64("rotate")
			opts.Debug = c.Bool("debug")
			opts.Version = c.Bool("version")

			env, err := envparse.Parse(c.String("env"))
			if err != nil {
				return servyerr.New(servyerr.ConfigInvalid, op, fmt.Errorf("--env: %w", err))
			}
			opts.Env = env

			opts.HeartbeatSeconds = c.Int("heartbeat")
			opts.MaxFailed = c.Int("max-failed")
			opts.MaxRestarts = c.Int("max-restarts")
			opts.Recovery = servydef.RecoveryAction(sanitizeToken(c.String("recovery")))
			opts.EnableHealthMonitoring = opts.HeartbeatSeconds > 0

			opts.PreExe = sanitizeToken(c.String("pre-exe"))
			opts.PreArgs = sanitizeToken(c.String("pre-args"))
			opts.PreCwd = sanitizeToken(c.String("pre-cwd"))
			preEnv, err := envparse.Parse(c.String("pre-env"))
			if err != nil {
				return servyerr.New(servyerr.ConfigInvalid, op, fmt.Errorf("--pre-env: %w", err))
			}
			opts.PreEnv = preEnv
			opts.PreStdoutPath = sanitizeToken(c.String("pre-stdout"))
			opts.PreStderrPath = sanitizeToken(c.String("pre-stderr"))
			opts.PreTimeout = c.Int("pre-timeout")
			opts.PreRetries = c.Int("pre-retries")
			opts.PreIgnoreFailure = c.Bool("pre-ignore-failure")
			opts.RestarterPath = sanitizeToken(c.String("restarter-path"))
			return nil
		},
	}

	fullArgs := append([]string{"servyhost"}, argv...)
	if err := app.Run(fullArgs); err != nil {
		return nil, servyerr.New(servyerr.ConfigInvalid, op, err)
	}
	return opts, nil
}

// Validate checks the minimal startup invariants of §4.F.1: service_name
// and executable_path must be non-empty.
func (o *StartOptions) Validate() error {
	const op = "host.Validate"
	if strings.TrimSpace(o.Name) == "" {
		return servyerr.New(servyerr.ConfigInvalid, op, fmt.Errorf("--name is required"))
	}
	if strings.TrimSpace(o.Exe) == "" {
		return servyerr.New(servyerr.ConfigInvalid, op, fmt.Errorf("--exe is required"))
	}
	return nil
}

// rotateString renders Rotate for diagnostics.
func (o *StartOptions) rotateString() string { return strconv.FormatInt(o.Rotate, 10) }
