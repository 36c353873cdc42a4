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

//go:build windows

package host

import (
	"context"

	"golang.org/x/sys/windows/svc"
)

// scmHandler adapts Runtime to svc.Handler, registering callbacks for Stop
// and Shutdown per §4.F.1.4.
type scmHandler struct {
	runtime *Runtime
}

// RunAsService blocks, running rt under the real SCM until it requests
// Stop or Shutdown.
func RunAsService(name string, rt *Runtime) error {
	return svc.Run(name, &scmHandler{runtime: rt})
}

func (h *scmHandler) Execute(args []string, requests <-chan svc.ChangeRequest, status chan<- svc.Status) (bool, uint32) {
	const accepted = svc.AcceptStop | svc.AcceptShutdown
	status <- svc.Status{State: svc.StartPending}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- h.runtime.Run(ctx) }()

	status <- svc.Status{State: svc.Running, Accepts: accepted}

	for {
		select {
		case err := <-runDone:
			status <- svc.Status{State: svc.StopPending}
			if err != nil {
				return false, 1
			}
			status <- svc.Status{State: svc.Stopped}
			return false, 0
		case req := <-requests:
			switch req.Cmd {
			case svc.Interrogate:
				status <- req.CurrentStatus
			case svc.Stop, svc.Shutdown:
				status <- svc.Status{State: svc.StopPending}
				cancel()
				<-runDone
				status <- svc.Status{State: svc.Stopped}
				return false, 0
			}
		}
	}
}
