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

// Package tailer implements the read-only log follower of §4.H: a
// backward scan for recent history plus a forward poll loop that detects
// rotation and truncation.
package tailer

import (
	"bufio"
	"context"
	"io"
	"os"
	"time"
)

// Line is one line of captured output, with a synthetic timestamp assigned
// during history load or the wall-clock time observed during tailing.
type Line struct {
	Text string
	At   time.Time
}

const (
	historyScanChunk = 4096
	tailBatchSize     = 500
	tailPollInterval  = 150 * time.Millisecond
	missingFileBackoff = time.Second
)

// LoadHistory scans backward from the end of the file in 4 KiB buffers,
// counting newlines until at least maxLines have been found (or the start
// of the file is reached), then decodes that suffix forward. It returns at
// most maxLines most-recent lines, synthetic timestamps descending by one
// tick per line from the file's last-write time, the tail offset (the file
// length, to resume tailing from), and the file's creation time.
func LoadHistory(path string, maxLines int) ([]Line, int64, time.Time, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, time.Time{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, 0, time.Time{}, err
	}
	size := info.Size()
	lastWrite := info.ModTime()
	creation := creationTime(info)

	if maxLines <= 0 || size == 0 {
		return nil, size, creation, nil
	}

	newlines := 0
	start := size
	buf := make([]byte, historyScanChunk)
	for start > 0 && newlines <= maxLines {
		chunk := int64(historyScanChunk)
		if chunk > start {
			chunk = start
		}
		start -= chunk
		if _, err := f.ReadAt(buf[:chunk], start); err != nil && err != io.EOF {
			return nil, 0, time.Time{}, err
		}
		for i := chunk - 1; i >= 0; i-- {
			if buf[i] == '\n' {
				newlines++
				if newlines > maxLines {
					start += i + 1
					break
				}
			}
		}
	}

	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return nil, 0, time.Time{}, err
	}
	var raw []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 65536), 1<<20)
	for scanner.Scan() {
		raw = append(raw, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, time.Time{}, err
	}
	if len(raw) > maxLines {
		raw = raw[len(raw)-maxLines:]
	}

	lines := make([]Line, len(raw))
	for i, text := range raw {
		backFromEnd := len(raw) - 1 - i
		lines[i] = Line{Text: text, At: lastWrite.Add(-time.Duration(backFromEnd) * time.Nanosecond)}
	}
	return lines, size, creation, nil
}

// Tail polls path for new content starting at offset, calling onBatch with
// up to tailBatchSize lines at a time. It detects rotation/truncation by
// comparing the file's creation time and current length against the
// caller-supplied baseline, resetting to offset 0 on either signal. It
// returns when ctx is cancelled.
func Tail(ctx context.Context, path string, offset int64, creation time.Time, onBatch func([]Line)) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		info, err := os.Stat(path)
		if err != nil {
			if !sleep(ctx, missingFileBackoff) {
				return nil
			}
			continue
		}

		cur := creationTime(info)
		if !cur.Equal(creation) || info.Size() < offset {
			offset = 0
			creation = cur
		}

		newOffset, err := readNewLines(path, offset, onBatch)
		if err != nil {
			if !sleep(ctx, missingFileBackoff) {
				return nil
			}
			continue
		}
		offset = newOffset

		if !sleep(ctx, tailPollInterval) {
			return nil
		}
	}
}

func readNewLines(path string, offset int64, onBatch func([]Line)) (int64, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return offset, err
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return offset, err
	}

	reader := bufio.NewReader(f)
	var batch []Line
	for {
		text, err := reader.ReadString('\n')
		if len(text) > 0 && text[len(text)-1] == '\n' {
			line := text[:len(text)-1]
			offset += int64(len(text))
			batch = append(batch, Line{Text: line, At: time.Now()})
			if len(batch) >= tailBatchSize {
				onBatch(batch)
				batch = nil
			}
			continue
		}
		// partial line at EOF (err == io.EOF, no trailing \n): leave it
		// unread so the next poll sees the completed line, never a split
		// one.
		break
	}
	if len(batch) > 0 {
		onBatch(batch)
	}
	return offset, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
