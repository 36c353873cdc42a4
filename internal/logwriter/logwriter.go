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

// Package logwriter implements the append-only, size-bounded rotating log
// writer that captures a child process's stdout/stderr streams.
package logwriter

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"cirello.io/servy/internal/platform"
)

// Writer appends lines to a target file, rotating it before a write would
// make it reach or pass RotationSize. A zero RotationSize disables rotation
// entirely. Writer is safe for concurrent use; all writes to a given path
// are serialized through its own mutex, matching the "single writer per
// path" concurrency model of §5.
type Writer struct {
	Path          string
	RotationSize  int64
	Clock         platform.Clock
	EventSink     platform.EventSink // optional; I/O failures are logged here, not returned
	ServiceName   string

	mu   sync.Mutex
	file *os.File
	size int64
}

// New creates a Writer for path. rotationSize <= 0 disables rotation.
func New(path string, rotationSize int64) *Writer {
	return &Writer{Path: path, RotationSize: rotationSize, Clock: platform.SystemClock{}}
}

// WriteLine appends line plus a trailing newline, rotating first if needed.
// I/O errors do not stop the host: they are reported to EventSink (if set)
// and the write is retried once by reopening the file; if the retry fails
// it is reported too and the line is dropped, and if the reopen fails the
// line is dropped without a further report.
func (w *Writer) WriteLine(line string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	payload := []byte(line)
	if len(payload) == 0 || payload[len(payload)-1] != '\n' {
		payload = append(payload, '\n')
	}

	if err := w.ensureOpenLocked(); err != nil {
		w.warn("cannot open log file: %v", err)
		return
	}

	if w.RotationSize > 0 && w.size+int64(len(payload)) >= w.RotationSize {
		if err := w.rotateLocked(); err != nil {
			w.warn("cannot rotate log file: %v", err)
			// Continue writing to the current file rather than
			// losing the line entirely.
		}
	}

	n, err := w.file.Write(payload)
	if err != nil {
		w.warn("cannot write log file: %v", err)
		// Best-effort reopen-and-retry once.
		w.file.Close()
		w.file = nil
		if err := w.ensureOpenLocked(); err == nil {
			n, err = w.file.Write(payload)
			if err != nil {
				w.warn("cannot write log file after reopen: %v", err)
				return
			}
		} else {
			return
		}
	}
	w.size += int64(n)
	if err := w.file.Sync(); err != nil {
		w.warn("cannot flush log file: %v", err)
	}
}

// Close flushes and releases the underlying file handle.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func (w *Writer) ensureOpenLocked() error {
	if w.file != nil {
		return nil
	}
	if dir := filepath.Dir(w.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := openShared(w.Path)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	w.file = f
	w.size = info.Size()
	return nil
}

func (w *Writer) rotateLocked() error {
	if err := w.file.Close(); err != nil {
		w.file = nil
		return err
	}
	w.file = nil

	rotated := w.rotatedName()
	if err := os.Rename(w.Path, rotated); err != nil {
		return err
	}

	f, err := openShared(w.Path)
	if err != nil {
		return err
	}
	w.file = f
	w.size = 0
	return nil
}

// rotatedName builds "<stem>.<utc-ms><ext>", appending "(n)" before the
// extension on collision: timestamp first, then smallest positive n making
// the name unique (the Open Question of §9 resolved this way).
func (w *Writer) rotatedName() string {
	ext := filepath.Ext(w.Path)
	stem := w.Path[:len(w.Path)-len(ext)]
	ms := w.Clock.Now().UnixMilli()
	candidate := fmt.Sprintf("%s.%d%s", stem, ms, ext)
	if !exists(candidate) {
		return candidate
	}
	for n := 1; ; n++ {
		candidate = fmt.Sprintf("%s.%d(%d)%s", stem, ms, n, ext)
		if !exists(candidate) {
			return candidate
		}
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (w *Writer) warn(format string, args ...any) {
	if w.EventSink == nil {
		return
	}
	w.EventSink.Write(platform.LevelWarning, w.ServiceName, fmt.Sprintf(format, args...))
}
