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

package servyerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_MessageIncludesOpKindAndWrappedError(t *testing.T) {
	err := New(NotFound, "store.Get", fmt.Errorf("no such key"))
	want := "store.Get: NotFound: no such key"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestError_MessageWithoutWrappedError(t *testing.T) {
	err := New(Cancelled, "host.Run", nil)
	want := "host.Run: Cancelled"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestError_UnwrapExposesUnderlyingError(t *testing.T) {
	inner := fmt.Errorf("disk full")
	err := New(IoFailure, "logwriter.Write", inner)
	if got := errors.Unwrap(err); got != inner {
		t.Errorf("Unwrap() = %v, want %v", got, inner)
	}
	if !errors.Is(err, inner) {
		t.Error("errors.Is(err, inner) = false, want true")
	}
}

func TestKindOf_ExtractsKindThroughWrapping(t *testing.T) {
	base := New(CredentialInvalid, "platform.Validate", fmt.Errorf("bad password"))
	wrapped := fmt.Errorf("install: %w", base)
	if got := KindOf(wrapped); got != CredentialInvalid {
		t.Errorf("KindOf() = %v, want %v", got, CredentialInvalid)
	}
}

func TestKindOf_DefaultsToOsFailureForPlainErrors(t *testing.T) {
	if got := KindOf(fmt.Errorf("some plain error")); got != OsFailure {
		t.Errorf("KindOf() = %v, want %v", got, OsFailure)
	}
}

func TestErrorsAs_MatchesConcreteType(t *testing.T) {
	err := New(AlreadyExists, "servicemgr.Install", nil)
	var target *Error
	if !errors.As(error(err), &target) {
		t.Fatal("errors.As failed to match *Error")
	}
	if target.Kind != AlreadyExists {
		t.Errorf("target.Kind = %v, want %v", target.Kind, AlreadyExists)
	}
}
