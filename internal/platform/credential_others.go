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

package platform

import (
	"context"
	"fmt"

	"cirello.io/servy/internal/servyerr"
)

// FakeCredentialValidator is the portable stand-in: it accepts any
// non-empty (user, password) pair so façade tests can exercise the
// non-local-system install path without a real domain controller.
type FakeCredentialValidator struct {
	// Deny, if set, makes Validate always fail; useful for exercising the
	// CredentialInvalid propagation path in tests.
	Deny bool
}

// NewCredentialValidator returns the portable stand-in validator.
func NewCredentialValidator() *FakeCredentialValidator { return &FakeCredentialValidator{} }

func (f *FakeCredentialValidator) Validate(ctx context.Context, user, password string) error {
	const op = "platform.Validate"
	if f.Deny || user == "" || password == "" {
		return servyerr.New(servyerr.CredentialInvalid, op, fmt.Errorf("invalid credentials for %q", user))
	}
	return nil
}
