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

package counters

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ExportedBucket is the JSON-serializable form of a Bucket.
type ExportedBucket struct {
	Requests     int64     `json:"requests"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	Errors       int64     `json:"errors"`
	CostMicros   int64     `json:"cost_micros"`
	WindowStart  time.Time `json:"window_start"`
}

// ExportedScope is one scope's three windows, as persisted to disk.
type ExportedScope struct {
	Scope  string         `json:"scope"`
	Minute ExportedBucket `json:"minute"`
	Day    ExportedBucket `json:"day"`
	Month  ExportedBucket `json:"month"`
}

// ExportedState is the full on-disk shape of a usage snapshot (spec.md §6
// "Usage snapshot: one JSON file... Retention is at most one day's worth of
// rolling buckets").
type ExportedState struct {
	Scopes []ExportedScope `json:"scopes"`
}

func toExported(b Bucket) ExportedBucket {
	return ExportedBucket{
		Requests: b.Requests, InputTokens: b.InputTokens, OutputTokens: b.OutputTokens,
		Errors: b.Errors, CostMicros: b.CostMicros, WindowStart: b.WindowStart,
	}
}

func fromExported(b ExportedBucket) Bucket {
	return Bucket{
		Requests: b.Requests, InputTokens: b.InputTokens, OutputTokens: b.OutputTokens,
		Errors: b.Errors, CostMicros: b.CostMicros, WindowStart: b.WindowStart,
	}
}

// Export produces a point-in-time deep copy of the store for persistence
// (spec.md §4.1 "export()").
func (s *Store) Export() ExportedState {
	var out ExportedState
	s.ForEach(func(scope string, snap WindowSnapshot) {
		out.Scopes = append(out.Scopes, ExportedScope{
			Scope:  scope,
			Minute: toExported(snap.Minute),
			Day:    toExported(snap.Day),
			Month:  toExported(snap.Month),
		})
	})
	return out
}

// Import replaces the store's entire state from a previously-exported
// snapshot; used only during startup (spec.md §4.1 "import(snapshot)").
func (s *Store) Import(state ExportedState) {
	s.scopes.Range(func(k, _ any) bool {
		s.scopes.Delete(k)
		return true
	})
	for _, es := range state.Scopes {
		sc := s.getOrCreate(es.Scope)
		sc.mu.Lock()
		sc.minute = fromExported(es.Minute)
		sc.day = fromExported(es.Day)
		sc.month = fromExported(es.Month)
		sc.mu.Unlock()
	}
}

// SnapshotFile is the Persistence Bridge's usage-snapshot half: atomic
// write-temp-then-rename, corruption-tolerant load (spec.md §4.1, §6).
type SnapshotFile struct {
	path string
}

// NewSnapshotFile binds a SnapshotFile to a path.
func NewSnapshotFile(path string) *SnapshotFile {
	return &SnapshotFile{path: path}
}

// Load reads the snapshot file. Per spec.md §4.1 "Corruption on load is
// non-fatal: the store starts empty", a missing or malformed file returns
// an empty ExportedState rather than failing startup.
func (f *SnapshotFile) Load() ExportedState {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return ExportedState{}
	}
	var state ExportedState
	if err := json.Unmarshal(data, &state); err != nil {
		return ExportedState{}
	}
	return state
}

// Save serializes state via atomic write-temp-then-rename (spec.md §4.1
// "every 5 minutes the store is serialized to a single file via atomic
// write").
func (f *SnapshotFile) Save(state ExportedState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal usage snapshot: %w", err)
	}
	dir := filepath.Dir(f.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot dir %s: %w", dir, err)
		}
	}
	tmp, err := os.CreateTemp(dir, ".usage-snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp snapshot file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp snapshot file: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp snapshot file: %w", err)
	}
	return nil
}
