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
	"os"
	"os/signal"
	"syscall"
)

// RunDebug runs rt's lifecycle outside the SCM for interactive
// troubleshooting (`servyhost -debug --name ... --exe ...`), reporting
// lifecycle transitions through whatever rt.EventSink the caller set
// (cmd/servyhost passes the same event sink it uses as a service). It exits on
// Ctrl+C/SIGTERM, same as the real service would on a Stop request.
//
// (expansion) grounded on the debug-mode console branch found in
// original_source/ alongside the standard RunningAsWindowsService-style
// detection used to choose between SCM and console entry points.
func RunDebug(rt *Runtime) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		rt.logInfo("stop requested, shutting down")
		cancel()
	}()

	rt.logInfo("running in debug mode, service=%s exe=%s", rt.Options.Name, rt.Options.Exe)
	err := rt.Run(ctx)
	if err != nil {
		rt.logError("debug run exited with error: %v", err)
	}
	return err
}
