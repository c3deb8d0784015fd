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

package tespkt

import "unsafe"

// bytesToString converts b to a string without copying. Only safe when
// the caller guarantees b is not mutated afterward — used here to render
// a frame's header for log messages without allocating a copy of ring
// memory that is about to be reclaimed anyway.
func bytesToString(b []byte) string {
	return *(*string)(unsafe.Pointer(&b))
}

// DebugString renders the frame header bytes for diagnostic logging
// without copying the underlying ring memory.
func (f Frame) DebugString() string {
	hdr := f.b
	if len(hdr) > HdrLen {
		hdr = hdr[:HdrLen]
	}
	return bytesToString(hdr)
}
