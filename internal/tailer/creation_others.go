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

//go:build !windows

package tailer

import (
	"os"
	"time"
)

// creationTime falls back to ModTime: os.FileInfo does not portably expose
// a birth time across Unix variants, and servy's target platform is
// Windows. A freshly rotated file's ModTime still differs from the
// previous file's, which is all the rotation/truncation check in Tail
// needs on this build.
func creationTime(info os.FileInfo) time.Time {
	return info.ModTime()
}
