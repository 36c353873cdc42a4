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

// Package servyerr holds the error kind taxonomy shared by every layer of
// servy, from the platform adapter up to the service-control façade.
package servyerr

import "fmt"

// Kind classifies an error so that callers across process and language
// boundaries (CLI, GUI, notifier script) can react without parsing strings.
type Kind string

// Error kinds surfaced by the core.
const (
	ConfigInvalid     Kind = "ConfigInvalid"
	NotFound          Kind = "NotFound"
	AlreadyExists     Kind = "AlreadyExists"
	AccessDenied      Kind = "AccessDenied"
	CredentialInvalid Kind = "CredentialInvalid"
	IoFailure         Kind = "IoFailure"
	CryptoFailure     Kind = "CryptoFailure"
	Timeout           Kind = "Timeout"
	OsFailure         Kind = "OsFailure"
	Cancelled         Kind = "Cancelled"
)

// Error wraps an underlying error with a Kind and the operation that
// produced it. Most core operations surface an *Error; a few paths (for
// example the store's bbolt transaction bodies) return the underlying error
// as-is, and KindOf reports those as OsFailure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind of err, defaulting to OsFailure when err does not
// wrap a servy *Error.
func KindOf(err error) Kind {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind
	}
	return OsFailure
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
