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

package envparse

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/tools/txtar"
)

// TestParse_Fixtures walks _testdata for txtar archives holding an "input"
// file and the "expected" rendering of Parse's result, mirroring the
// fixture-driven style the teacher's own env parser test used.
func TestParse_Fixtures(t *testing.T) {
	err := filepath.Walk("_testdata", func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || filepath.Ext(path) != ".txtar" {
			return nil
		}
		archive, err := txtar.ParseFile(path)
		if err != nil {
			return err
		}
		var input, expected string
		for _, f := range archive.Files {
			switch f.Name {
			case "input":
				input = string(f.Data)
			case "expected":
				expected = string(f.Data)
			}
		}
		t.Run(path, func(t *testing.T) {
			got, err := Parse(input)
			if err != nil {
				t.Fatalf("Parse(%q): %v", path, err)
			}
			if gotStr := fmt.Sprint(got); strings.TrimSpace(gotStr) != strings.TrimSpace(expected) {
				t.Errorf("Parse(%q) = %s, want %s", path, gotStr, expected)
			}
		})
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}
