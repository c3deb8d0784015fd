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
	"path/filepath"

	"github.com/tesdaq/tesd/ring"
)

// netmapRingYAML is netmap.yaml's on-disk shape for one ring, mirroring
// ring.RingLayout field-for-field (see captureYAML for why this stays
// a separate type rather than tagging ring.RingLayout directly).
type netmapRingYAML struct {
	HeaderOff uint32 `yaml:"header_off"`
	SlotsOff  uint32 `yaml:"slots_off"`
	NumSlots  uint32 `yaml:"num_slots"`
}

type netmapYAML struct {
	MemSize  uint32           `yaml:"mem_size"`
	SlotSize uint32           `yaml:"slot_size"`
	Rings    []netmapRingYAML `yaml:"rings"`
}

// NetmapInfo is the ring geometry ring.OpenNetmap needs but can't
// discover on its own (see that function's doc comment): the device's
// reported memsize and each ring's offsets within it, normally read
// once via the NIOCREGIF ioctl and cached here for subsequent starts.
type NetmapInfo struct {
	MemSize  uint32
	SlotSize uint32
	Rings    []ring.RingLayout
}

// LoadNetmapInfo reads netmap.yaml out of dir. A missing file is not
// an error: it reports (nil, nil), telling the caller no cached
// geometry is available and it should fall back to a non-netmap
// backend instead of trying (and failing) to open the device.
func LoadNetmapInfo(dir string) (*NetmapInfo, error) {
	var ny netmapYAML
	if err := loadYAMLIfExists(filepath.Join(dir, "netmap.yaml"), &ny); err != nil {
		return nil, err
	}
	if len(ny.Rings) == 0 {
		return nil, nil
	}

	ni := &NetmapInfo{MemSize: ny.MemSize, SlotSize: ny.SlotSize}
	for _, r := range ny.Rings {
		ni.Rings = append(ni.Rings, ring.RingLayout{
			HeaderOff: r.HeaderOff,
			SlotsOff:  r.SlotsOff,
			NumSlots:  r.NumSlots,
		})
	}
	return ni, nil
}
