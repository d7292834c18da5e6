// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package audit appends one JSONL record per dispatched request (spec.md
// §4.6: "the bearer token from the incoming client request is captured into
// the dispatch record for audit but never inspected"), for replay and
// after-the-fact inspection. Buffered-writer-with-periodic-flush shape is
// adapted from internal/sinks/venv_file_sink.go's VEnvFileSink.
package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"time"
)

// Entry is one dispatch-audit record.
type Entry struct {
	Timestamp   time.Time `json:"timestamp"`
	Model       string    `json:"model"`
	Provider    string    `json:"provider,omitempty"`
	Outcome     string    `json:"outcome"`
	Detail      string    `json:"detail,omitempty"`
	BearerToken string    `json:"bearer_token,omitempty"`
}

// Sink appends Entry records to a JSONL file for audit/replay.
type Sink struct {
	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	path string

	lastFlush time.Time
}

// NewSink opens (creating if absent) the audit log at path in append mode.
func NewSink(path string) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &Sink{f: f, w: bufio.NewWriterSize(f, 1<<20), path: path, lastFlush: time.Now()}, nil
}

// Append writes one entry, stamping its timestamp if unset, and flushes
// opportunistically every 100ms rather than on every call.
func (s *Sink) Append(e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	enc := json.NewEncoder(s.w)
	if err := enc.Encode(&e); err != nil {
		return err
	}
	if time.Since(s.lastFlush) > 100*time.Millisecond {
		if err := s.w.Flush(); err != nil {
			return err
		}
		s.lastFlush = time.Now()
	}
	return nil
}

// Flush forces any buffered entries to disk.
func (s *Sink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFlush = time.Now()
	return s.w.Flush()
}

// Close flushes and closes the underlying file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.w.Flush()
	return s.f.Close()
}

// ReadAll reads every entry from the audit log at path, for replay/
// inspection tooling. Malformed lines are skipped rather than aborting the
// read, matching the Counter Store's tolerance for partial corruption.
func ReadAll(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Entry
	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 1<<20)
	scanner.Buffer(buf, 1<<26)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err == nil {
			out = append(out, e)
		}
	}
	return out, scanner.Err()
}
