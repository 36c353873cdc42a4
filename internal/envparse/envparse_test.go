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
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParse_BasicPairs(t *testing.T) {
	got, err := Parse("FOO=bar;BAZ=qux")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []string{"FOO=bar", "BAZ=qux"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Parse result mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_NewlineSeparated(t *testing.T) {
	got, err := Parse("FOO=bar\nBAZ=qux\n")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []string{"FOO=bar", "BAZ=qux"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Parse result mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_EscapedSemicolonStaysInValue(t *testing.T) {
	got, err := Parse(`PATH=C:\a\;b;NEXT=ok`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []string{`PATH=C:\a;b`, "NEXT=ok"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Parse result mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_QuotedValueStripsBareQuotes(t *testing.T) {
	got, err := Parse(`MSG="hello \"world\""`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []string{`MSG=hello "world"`}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Parse result mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_MissingEqualsIsError(t *testing.T) {
	if _, err := Parse("NOTAPAIR"); err == nil {
		t.Fatal("expected an error for an entry without '='")
	}
}

func TestParse_BlankEntriesSkipped(t *testing.T) {
	got, err := Parse(";;FOO=bar;; ;")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []string{"FOO=bar"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Parse result mismatch (-want +got):\n%s", diff)
	}
}

func TestExpand_ResolvesKnownVariable(t *testing.T) {
	layer := map[string]string{"HOME": `C:\Users\svc`}
	got := Expand(`%HOME%\data`, layer)
	want := `C:\Users\svc\data`
	if got != want {
		t.Errorf("Expand() = %q, want %q", got, want)
	}
}

func TestExpand_UnknownVariableLeftLiteral(t *testing.T) {
	got := Expand("%MISSING%/x", map[string]string{})
	want := "%MISSING%/x"
	if got != want {
		t.Errorf("Expand() = %q, want %q", got, want)
	}
}

func TestLayer_LaterEntryWinsAndExpandsAgainstRunningLayer(t *testing.T) {
	base := map[string]string{"BASE": "root"}
	entries := []string{"DIR=%BASE%/sub", "BASE=override"}
	got := Layer(base, entries)
	want := map[string]string{"BASE": "override", "DIR": "root/sub"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Layer result mismatch (-want +got):\n%s", diff)
	}
}

func TestToSlice_RoundTripsThroughLayer(t *testing.T) {
	layer := Layer(nil, []string{"A=1", "B=2"})
	got := ToSlice(layer)
	seen := make(map[string]bool, len(got))
	for _, kv := range got {
		seen[kv] = true
	}
	for _, want := range []string{"A=1", "B=2"} {
		if !seen[want] {
			t.Errorf("ToSlice() missing entry %q, got %v", want, got)
		}
	}
}
