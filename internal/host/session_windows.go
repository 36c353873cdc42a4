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

import "golang.org/x/sys/windows/svc"

// IsWindowsService reports whether the current process was launched by the
// SCM, used to choose between RunAsService and RunDebug.
func IsWindowsService() bool {
	is, err := svc.IsWindowsService()
	return err == nil && is
}
