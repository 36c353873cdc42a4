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
	"fmt"

	"cirello.io/servy/internal/servyerr"
	"golang.org/x/sys/windows/svc/eventlog"
)

// WindowsEventSink writes structured entries to the Windows Application log
// under a single fixed provider name, so external notifier scripts (out of
// scope for this repo) can filter by source.
type WindowsEventSink struct {
	source string
}

// NewEventSink returns the Windows event-log-backed sink for the given
// fixed source/provider name.
func NewEventSink(source string) *WindowsEventSink {
	return &WindowsEventSink{source: source}
}

// EnsureSource registers the event source if it is not already installed.
func (s *WindowsEventSink) EnsureSource() error {
	const op = "platform.EnsureSource"
	if err := eventlog.InstallAsEventCreate(s.source, eventlog.Info|eventlog.Warning|eventlog.Error); err != nil {
		// Idempotent: already-registered is not an error for our
		// purposes.
		if !isAlreadyExists(err) {
			return servyerr.New(servyerr.OsFailure, op, err)
		}
	}
	return nil
}

func (s *WindowsEventSink) Write(level EventLevel, serviceName, message string) error {
	const op = "platform.Write"
	w, err := eventlog.Open(s.source)
	if err != nil {
		return servyerr.New(servyerr.OsFailure, op, err)
	}
	defer w.Close()

	formatted := message
	if serviceName != "" {
		formatted = fmt.Sprintf("[%s] %s", serviceName, message)
	}
	switch level {
	case LevelWarning:
		err = w.Warning(1, formatted)
	case LevelError:
		err = w.Error(1, formatted)
	default:
		err = w.Info(1, formatted)
	}
	if err != nil {
		return servyerr.New(servyerr.OsFailure, op, err)
	}
	return nil
}

func isAlreadyExists(err error) bool {
	return err != nil && (containsFold(err.Error(), "already exists") || containsFold(err.Error(), "registry key already exists"))
}

func containsFold(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if equalFold(s[i:i+len(substr)], substr) {
			return true
		}
	}
	return false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
