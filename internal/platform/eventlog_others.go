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
	"fmt"
	"log"
)

// FakeEventSink is the portable stand-in event sink: it writes to the
// standard logger with the same "[service] message" formatting the real
// sink uses, so host runtime tests can assert on emitted messages.
type FakeEventSink struct {
	Entries []string
}

// NewEventSink returns the portable stand-in sink.
func NewEventSink(source string) *FakeEventSink { return &FakeEventSink{} }

func (s *FakeEventSink) EnsureSource() error { return nil }

func (s *FakeEventSink) Write(level EventLevel, serviceName, message string) error {
	formatted := message
	if serviceName != "" {
		formatted = fmt.Sprintf("[%s] %s", serviceName, message)
	}
	s.Entries = append(s.Entries, formatted)
	log.Println(levelPrefix(level) + formatted)
	return nil
}

func levelPrefix(level EventLevel) string {
	switch level {
	case LevelWarning:
		return "WARNING: "
	case LevelError:
		return "ERROR: "
	default:
		return "INFO: "
	}
}
