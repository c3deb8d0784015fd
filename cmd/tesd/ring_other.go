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

//go:build !linux

package main

import "github.com/tesdaq/tesd/ring"

// openNetmap is unavailable off Linux; netmap is a Linux-only
// kernel-bypass framework (see ring/backend_netmap_linux.go's build
// tag). Every caller falls back to the in-memory backend.
func openNetmap(confDir, ifname string) (ring.Backend, int, error) {
	return nil, -1, nil
}
