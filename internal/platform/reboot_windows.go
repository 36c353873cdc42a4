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

package platform

import (
	"context"

	"golang.org/x/sys/windows"

	"cirello.io/servy/internal/servyerr"
)

// Reboot requests an immediate OS restart via InitiateSystemShutdownEx, the
// RecoveryRestartComputer action of §4.F.4.
func Reboot(ctx context.Context) error {
	const op = "platform.Reboot"
	err := windows.InitiateSystemShutdownEx(
		nil, nil, 0, true, true,
		windows.SHTDN_REASON_MAJOR_SOFTWARE|windows.SHTDN_REASON_MINOR_RECONFIG|windows.SHTDN_REASON_FLAG_PLANNED,
	)
	if err != nil {
		return servyerr.New(servyerr.OsFailure, op, err)
	}
	return nil
}
