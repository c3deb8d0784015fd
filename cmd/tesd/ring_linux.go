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

//go:build linux

package main

import (
	"github.com/tesdaq/tesd/config"
	"github.com/tesdaq/tesd/ring"
)

// openNetmap opens the real kernel-bypass device when a cached ring
// geometry is available for ifname. It reports (nil, -1, nil) rather
// than an error when no netmap.yaml is present, telling the caller to
// fall back to an in-memory backend instead of failing startup outright
// (see ring.OpenNetmap's doc comment on where that geometry comes
// from).
func openNetmap(confDir, ifname string) (ring.Backend, int, error) {
	info, err := config.LoadNetmapInfo(confDir)
	if err != nil {
		return nil, -1, err
	}
	if info == nil {
		return nil, -1, nil
	}

	backend, err := ring.OpenNetmap(ifname, info.MemSize, info.Rings, info.SlotSize)
	if err != nil {
		return nil, -1, err
	}
	return backend, backend.Fd(), nil
}
