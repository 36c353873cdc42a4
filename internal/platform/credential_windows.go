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

	"cirello.io/servy/internal/servyerr"
	"golang.org/x/sys/windows"
)

// logon32 constants, mirroring the ones the juju windows service manager
// binds against advapi32.dll's LogonUserW.
const (
	logon32LogonNetwork        = 3
	logon32ProviderDefault     = 0
)

// WindowsCredentialValidator validates (user, password) pairs against the
// local or domain authority via LogonUserW, surfacing a domain-independent
// failure reason.
type WindowsCredentialValidator struct{}

// NewCredentialValidator returns the Windows LogonUserW-backed validator.
func NewCredentialValidator() WindowsCredentialValidator { return WindowsCredentialValidator{} }

func (WindowsCredentialValidator) Validate(ctx context.Context, user, password string) error {
	const op = "platform.Validate"
	domain := "."
	account := user
	if idx := indexOfBackslash(user); idx >= 0 {
		domain = user[:idx]
		account = user[idx+1:]
	}
	userPtr, err := windows.UTF16PtrFromString(account)
	if err != nil {
		return servyerr.New(servyerr.CredentialInvalid, op, err)
	}
	domainPtr, err := windows.UTF16PtrFromString(domain)
	if err != nil {
		return servyerr.New(servyerr.CredentialInvalid, op, err)
	}
	passPtr, err := windows.UTF16PtrFromString(password)
	if err != nil {
		return servyerr.New(servyerr.CredentialInvalid, op, err)
	}
	var token windows.Token
	err = windows.LogonUser(userPtr, domainPtr, passPtr, logon32LogonNetwork, logon32ProviderDefault, &token)
	if err != nil {
		return servyerr.New(servyerr.CredentialInvalid, op, err)
	}
	defer token.Close()
	return nil
}

func indexOfBackslash(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' {
			return i
		}
	}
	return -1
}
