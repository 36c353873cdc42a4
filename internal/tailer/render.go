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

package tailer

import terminal "github.com/buildkite/terminal-to-html/v3"

// Render converts a batch of captured lines into the HTML fragment a
// manager-side log viewer can embed directly, translating ANSI color and
// cursor-movement sequences the wrapped child process wrote to its stdio.
func Render(lines []Line) string {
	var buf []byte
	for i, l := range lines {
		if i > 0 {
			buf = append(buf, '\n')
		}
		buf = append(buf, l.Text...)
	}
	return string(terminal.Render(buf))
}
