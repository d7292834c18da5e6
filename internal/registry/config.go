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

package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Document is the on-disk shape of the configuration file: one JSON file
// containing three top-level keys (spec.md §6 "Persisted state layout").
type Document struct {
	Providers        []Provider        `json:"providers"`
	VirtualProviders []VirtualProvider `json:"virtual_providers"`
	Limits           []Limit           `json:"limits"`
}

// ConfigBridge loads and saves the Registry's configuration document. It is
// the config half of the Persistence Bridge (spec.md §2 component 9); the
// usage-snapshot half lives in internal/counters.
//
// No config-templating library is used here: the document is a fixed,
// flat three-key JSON shape, and nothing in the example pack fits a
// document this narrow (see DESIGN.md).
type ConfigBridge struct {
	path string
}

// NewConfigBridge returns a bridge bound to the given file path.
func NewConfigBridge(path string) *ConfigBridge {
	return &ConfigBridge{path: path}
}

// Load reads and parses the configuration document. A missing file returns
// an empty Document rather than an error, so a fresh deployment can start
// from nothing and be configured via the (out-of-scope) management API.
func (c *ConfigBridge) Load() (Document, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Document{}, nil
		}
		return Document{}, fmt.Errorf("read config %s: %w", c.path, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("parse config %s: %w", c.path, err)
	}
	return doc, nil
}

// Save pretty-prints and writes the document, first copying the existing
// file to a ".bak" sibling (spec.md §6: "a .bak sibling is written before
// overwrite"). The write itself is not required to be atomic by the spec for
// configuration (unlike the usage snapshot), so a direct write matches the
// documented behavior.
func (c *ConfigBridge) Save(doc Document) error {
	if err := c.backupExisting(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if dir := filepath.Dir(c.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(c.path, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", c.path, err)
	}
	return nil
}

func (c *ConfigBridge) backupExisting() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config for backup %s: %w", c.path, err)
	}
	bak := c.path + ".bak"
	if err := os.WriteFile(bak, data, 0o644); err != nil {
		return fmt.Errorf("write backup %s: %w", bak, err)
	}
	return nil
}

// ToSnapshot builds a registry Snapshot from a loaded Document. Model
// resolution maps are derived from each provider's/virtual's id acting as
// its own default model name, plus any explicit aliases a caller supplies;
// callers with richer model-catalog needs can build the maps themselves and
// call Build directly.
func (d Document) ToSnapshot(modelToProvider, modelToVirtual map[string]string) *Snapshot {
	byProvider := make(map[string]string, len(d.Providers)+len(modelToProvider))
	for _, p := range d.Providers {
		byProvider[p.ID] = p.ID
	}
	for model, id := range modelToProvider {
		byProvider[model] = id
	}
	byVirtual := make(map[string]string, len(d.VirtualProviders)+len(modelToVirtual))
	for _, vp := range d.VirtualProviders {
		byVirtual[vp.ID] = vp.ID
	}
	for model, id := range modelToVirtual {
		byVirtual[model] = id
	}
	return Build(d.Providers, d.VirtualProviders, d.Limits, byProvider, byVirtual)
}
