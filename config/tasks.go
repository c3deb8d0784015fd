/*
 * Copyright 2024 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/tesdaq/tesd/capture"
	"github.com/tesdaq/tesd/tespkt"
)

// RingConfig sizes the shared-memory ring backend, read from
// ring.yaml. Mirrors the "ring count, buffer capacity" tunables
// mentioned alongside the task-config directory.
type RingConfig struct {
	NumRings int    `yaml:"num_rings"`
	NumSlots uint32 `yaml:"num_slots"`
	SlotCap  uint32 `yaml:"slot_cap"`
}

// DefaultRingConfig matches the original's compiled-in ring sizing.
func DefaultRingConfig() RingConfig {
	return RingConfig{NumRings: 4, NumSlots: 1024, SlotCap: 8192}
}

// captureYAML is the on-disk shape of capture.yaml: it carries
// capture.Config's Root, Layout and MCASizeMode; SaveHeaders and
// DropBadFrames are not read from it. A separate type (rather than adding yaml tags
// directly to capture.Config) keeps capture free of a config-package
// dependency.
type captureYAML struct {
	Root        string `yaml:"root"`
	Layout      string `yaml:"layout"`
	MCASizeMode string `yaml:"mca_size_mode"`
}

// JitterConfig seeds tasks/jitter's initial window/reference channel,
// read from jitter.yaml.
type JitterConfig struct {
	RefChannel uint8  `yaml:"ref_channel"`
	Ticks      uint32 `yaml:"ticks"`
}

// CoincConfig seeds tasks/coinc's initial window/channel mask, read
// from coinc.yaml.
type CoincConfig struct {
	WindowTicks uint32 `yaml:"window_ticks"`
	ChannelMask uint8  `yaml:"channel_mask"`
}

// CoincCountConfig seeds tasks/coinccount's rolling window size, read
// from coinccount.yaml.
type CoincCountConfig struct {
	Window uint32 `yaml:"window"`
}

// TaskConfig aggregates every task's on-disk configuration, resolved
// from one YAML document per task under the -c directory. Any file
// that doesn't exist yields that task's defaults; LoadTasks never
// fails merely because an optional document is absent.
type TaskConfig struct {
	Ring       RingConfig
	Capture    capture.Config
	Jitter     JitterConfig
	Coinc      CoincConfig
	CoincCount CoincCountConfig
}

// LoadTasks reads every recognized per-task YAML document out of dir,
// filling in defaults for anything missing. dir is expected already
// normalized (trailing slash) by ParseFlags.
func LoadTasks(dir string) (*TaskConfig, error) {
	tc := &TaskConfig{
		Ring: DefaultRingConfig(),
		Capture: capture.Config{
			Layout:      capture.LayoutPerType,
			MCASizeMode: tespkt.MCASizeFromLastBin,
		},
		Jitter:     JitterConfig{RefChannel: 0, Ticks: 1},
		Coinc:      CoincConfig{WindowTicks: 1, ChannelMask: 0xFF},
		CoincCount: CoincCountConfig{Window: 64},
	}

	if err := loadYAMLIfExists(filepath.Join(dir, "ring.yaml"), &tc.Ring); err != nil {
		return nil, err
	}

	var cy captureYAML
	cy.Root = tc.Capture.Root
	cy.Layout = layoutToString(tc.Capture.Layout)
	cy.MCASizeMode = mcaModeToString(tc.Capture.MCASizeMode)
	if err := loadYAMLIfExists(filepath.Join(dir, "capture.yaml"), &cy); err != nil {
		return nil, err
	}
	tc.Capture.Root = cy.Root
	layout, err := layoutFromString(cy.Layout)
	if err != nil {
		return nil, err
	}
	tc.Capture.Layout = layout
	mode, err := mcaModeFromString(cy.MCASizeMode)
	if err != nil {
		return nil, err
	}
	tc.Capture.MCASizeMode = mode

	if err := loadYAMLIfExists(filepath.Join(dir, "jitter.yaml"), &tc.Jitter); err != nil {
		return nil, err
	}
	if err := loadYAMLIfExists(filepath.Join(dir, "coinc.yaml"), &tc.Coinc); err != nil {
		return nil, err
	}
	if err := loadYAMLIfExists(filepath.Join(dir, "coinccount.yaml"), &tc.CoincCount); err != nil {
		return nil, err
	}

	return tc, nil
}

func loadYAMLIfExists(path string, into interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, into); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func layoutToString(l capture.Layout) string {
	if l == capture.LayoutSingleFile {
		return "single"
	}
	return "per_type"
}

func layoutFromString(s string) (capture.Layout, error) {
	switch s {
	case "", "per_type":
		return capture.LayoutPerType, nil
	case "single":
		return capture.LayoutSingleFile, nil
	default:
		return 0, fmt.Errorf("config: unknown capture layout %q", s)
	}
}

func mcaModeToString(m tespkt.MCASizeMode) string {
	if m == tespkt.MCASizeTrustField {
		return "trust_field"
	}
	return "from_last_bin"
}

func mcaModeFromString(s string) (tespkt.MCASizeMode, error) {
	switch s {
	case "", "from_last_bin":
		return tespkt.MCASizeFromLastBin, nil
	case "trust_field":
		return tespkt.MCASizeTrustField, nil
	default:
		return 0, fmt.Errorf("config: unknown mca_size_mode %q", s)
	}
}
